package predict

import (
	"context"
	"sync"
	"time"

	"github.com/kestrel-data/recovery.report/internal/config"
	"github.com/kestrel-data/recovery.report/internal/monitoring"
	"github.com/kestrel-data/recovery.report/internal/timeutil"
)

// DispatcherConfig holds the cache/throttle tuning for the dispatcher.
type DispatcherConfig struct {
	CacheTTL      time.Duration
	CacheCapacity int
	MinInterval   time.Duration
	Quantizer     Quantizer
}

// DispatcherConfigFromTuning builds a DispatcherConfig from a loaded
// TuningConfig.
func DispatcherConfigFromTuning(cfg *config.TuningConfig) DispatcherConfig {
	return DispatcherConfig{
		CacheTTL:      cfg.GetPredictionCacheTTL(),
		CacheCapacity: cfg.GetPredictionCacheCapacity(),
		MinInterval:   cfg.GetPredictionMinInterval(),
		Quantizer: Quantizer{
			LatLonQuantumDegrees: cfg.GetLatLonQuantumDegrees(),
			AltitudeQuantumM:     cfg.GetAltitudeQuantumM(),
			TimeBucket:           cfg.GetTimeBucket(),
		},
	}
}

// Dispatcher glues cache, throttle and client together. Trigger is
// fire-and-forget: a cached result is delivered synchronously, a missed
// one dispatches an external call at most once per subject at a time.
// Failures keep the last successful prediction in place: a stale
// prediction is still usable, an erased one is not.
type Dispatcher struct {
	cache    *Cache
	throttle *Throttle
	client   *Client
	quant    Quantizer
	clock    timeutil.Clock
	metrics  *Metrics

	mu       sync.Mutex
	lastGood map[string]Result

	// OnResult is invoked with every fresh or cached prediction.
	// It may be called from a network-completion goroutine.
	OnResult func(subject string, res Result)
}

// NewDispatcher creates a dispatcher. A nil clock uses the real clock;
// a nil metrics skips prometheus reporting.
func NewDispatcher(cfg DispatcherConfig, client *Client, clock timeutil.Clock, metrics *Metrics) *Dispatcher {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Dispatcher{
		cache:    NewCache(cfg.CacheTTL, cfg.CacheCapacity, clock, metrics),
		throttle: NewThrottle(cfg.MinInterval, clock),
		client:   client,
		quant:    cfg.Quantizer,
		clock:    clock,
		metrics:  metrics,
		lastGood: make(map[string]Result),
	}
}

// Cache exposes the underlying cache for stats reporting.
func (d *Dispatcher) Cache() *Cache { return d.cache }

// Latest returns the last successful prediction for subject.
func (d *Dispatcher) Latest(subject string) (Result, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, ok := d.lastGood[subject]
	return res, ok
}

// Forget drops all dispatcher state for subject. Called on subject change.
func (d *Dispatcher) Forget(subject string) {
	d.throttle.Forget(subject)
	d.mu.Lock()
	delete(d.lastGood, subject)
	d.mu.Unlock()
}

// Trigger requests a prediction. Cached hits deliver synchronously.
// On a miss, the external call runs on its own goroutine so telemetry
// ingestion continues uninterrupted; a concurrent or too-recent trigger
// for the same subject is dropped, not queued. In-flight calls are
// never cancelled: the result is still cached even if the triggering
// state has since changed.
func (d *Dispatcher) Trigger(ctx context.Context, req Request) {
	key := d.quant.Key(req.Subject, req.Position, req.AltitudeM, d.clock.Now())

	if res, ok := d.cache.Get(key); ok {
		d.deliver(req.Subject, res)
		return
	}

	if !d.throttle.TryAcquire(req.Subject) {
		if d.metrics != nil {
			d.metrics.DispatchDrops.Inc()
		}
		return
	}
	if d.metrics != nil {
		d.metrics.Dispatches.Inc()
	}

	go func() {
		defer d.throttle.Release(req.Subject)

		res, err := d.client.Predict(ctx, req)
		if err != nil {
			// Keep the last-known-good prediction; the periodic
			// trigger will retry naturally.
			monitoring.Logf("prediction for %s failed: %v", req.Subject, err)
			if d.metrics != nil {
				d.metrics.DispatchErrors.Inc()
			}
			return
		}

		d.cache.Set(key, res)
		d.deliver(req.Subject, res)
	}()
}

func (d *Dispatcher) deliver(subject string, res Result) {
	d.mu.Lock()
	d.lastGood[subject] = res
	cb := d.OnResult
	d.mu.Unlock()

	if cb != nil {
		cb(subject, res)
	}
}
