// Package motion implements the telemetry smoothing pipeline: Hampel
// outlier rejection over fixed windows, a rest deadband, dual-rate
// time-adaptive exponential moving averages, and the adjusted descent
// rate that parameterises the trajectory predictor.
package motion

import (
	"math"
	"sort"
	"time"

	"github.com/kestrel-data/recovery.report/internal/config"
	"github.com/kestrel-data/recovery.report/internal/telemetry"
)

// hampelScale converts MAD to a consistent estimator of the standard
// deviation for normally distributed noise.
const hampelScale = 1.4826


// Config holds the motion filter tuning parameters. All values are
// empirically tuned; load them from the canonical tuning file rather
// than hand-picking.
type Config struct {
	HampelWindowSize      int
	HampelK               float64
	DeadbandHorizontalMps float64
	DeadbandVerticalMps   float64
	FastTauSeconds        float64
	SlowTauHorizontal     float64
	SlowTauVertical       float64
	DescentWindow         time.Duration
	DescentMedianHistory  int
	DescentMinSamples     int
	MinDtSeconds          float64
	FallbackDtSeconds     float64
}

// DefaultConfig returns filter configuration loaded from the canonical
// tuning defaults file. Panics if the file cannot be found; intended
// for tests and binaries that have already validated config availability.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a filter Config from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		HampelWindowSize:      cfg.GetHampelWindowSize(),
		HampelK:               cfg.GetHampelK(),
		DeadbandHorizontalMps: cfg.GetDeadbandHorizontalMps(),
		DeadbandVerticalMps:   cfg.GetDeadbandVerticalMps(),
		FastTauSeconds:        cfg.GetFastEMATauSeconds(),
		SlowTauHorizontal:     cfg.GetSlowEMATauHorizontal(),
		SlowTauVertical:       cfg.GetSlowEMATauVertical(),
		DescentWindow:         time.Duration(cfg.GetDescentWindowSeconds() * float64(time.Second)),
		DescentMedianHistory:  cfg.GetDescentMedianHistory(),
		DescentMinSamples:     cfg.GetDescentMinSamples(),
		MinDtSeconds:          cfg.GetMinDtSeconds(),
		FallbackDtSeconds:     cfg.GetFallbackDtSeconds(),
	}
}

// Estimate is the filter output, recomputed per point and superseded by
// the next one.
type Estimate struct {
	// Fast EMAs, responsive enough for display.
	HorizontalMps float64
	VerticalMps   float64

	// Slow EMAs, used for derived decisions.
	SlowHorizontalMps float64
	SlowVerticalMps   float64

	// AdjustedDescentRate is the robust climb-rate estimate in m/s
	// (negative while descending). Set on every ingest; falls back to
	// the slow vertical EMA until enough interval rates accumulate.
	AdjustedDescentRate *float64

	// Raw instantaneous values for diagnostics.
	RawHorizontalMps float64
	RawVerticalMps   float64
}

// window is a fixed-capacity ring of float64 samples.
type window struct {
	buf  []float64
	next int
	full bool
}

func newWindow(size int) *window {
	return &window{buf: make([]float64, 0, size)}
}

func (w *window) push(v float64) {
	if len(w.buf) < cap(w.buf) {
		w.buf = append(w.buf, v)
		return
	}
	w.full = true
	w.buf[w.next] = v
	w.next = (w.next + 1) % len(w.buf)
}

func (w *window) count() int { return len(w.buf) }

func (w *window) values() []float64 {
	out := make([]float64, len(w.buf))
	copy(out, w.buf)
	return out
}

func (w *window) reset() {
	w.buf = w.buf[:0]
	w.next = 0
	w.full = false
}

// ema is a time-adaptive exponential moving average.
type ema struct {
	tau    float64 // seconds
	value  float64
	seeded bool
}

func (e *ema) update(v, dt float64) float64 {
	if !e.seeded {
		e.value = v
		e.seeded = true
		return e.value
	}
	alpha := dt / (e.tau + dt)
	e.value += alpha * (v - e.value)
	return e.value
}

func (e *ema) reset() {
	e.value = 0
	e.seeded = false
}

// Filter owns the track and smoothing state for one subject.
// It is single-threaded: only the pipeline goroutine calls it.
type Filter struct {
	cfg   Config
	track *telemetry.Track

	hWindow *window
	vWindow *window

	fastH ema
	slowH ema
	fastV ema
	slowV ema

	descentMedians *window

	lastTime  time.Time
	havePoint bool
}

// NewFilter creates a filter for the given subject.
func NewFilter(cfg Config, subject string) *Filter {
	f := &Filter{
		cfg:            cfg,
		track:          telemetry.NewTrack(subject),
		hWindow:        newWindow(cfg.HampelWindowSize),
		vWindow:        newWindow(cfg.HampelWindowSize),
		descentMedians: newWindow(cfg.DescentMedianHistory),
	}
	f.fastH.tau = cfg.FastTauSeconds
	f.fastV.tau = cfg.FastTauSeconds
	f.slowH.tau = cfg.SlowTauHorizontal
	f.slowV.tau = cfg.SlowTauVertical
	return f
}

// Track exposes the append-only track. The landing detector reads it;
// nothing else touches raw points.
func (f *Filter) Track() *telemetry.Track { return f.track }

// Ingest appends a point and returns the updated motion estimate.
// A subject change resets all state before the point is processed.
// Out-of-order timestamps never error: a negative dt falls back to
// FallbackDtSeconds and an equal timestamp is floored at MinDtSeconds.
func (f *Filter) Ingest(p telemetry.Point) Estimate {
	if reset := f.track.Append(p); reset {
		f.ResetSmoothing()
	}

	dt := f.cfg.FallbackDtSeconds
	if f.havePoint {
		elapsed := p.Time.Sub(f.lastTime).Seconds()
		switch {
		case elapsed < 0:
			dt = f.cfg.FallbackDtSeconds
		case elapsed < f.cfg.MinDtSeconds:
			dt = f.cfg.MinDtSeconds
		default:
			dt = elapsed
		}
	}
	f.lastTime = p.Time
	f.havePoint = true

	h := f.hampel(f.hWindow, p.HorizontalMps)
	v := f.hampel(f.vWindow, p.VerticalMps)

	// Deadband: snap GPS jitter at rest to zero.
	if math.Abs(h) < f.cfg.DeadbandHorizontalMps {
		h = 0
	}
	if math.Abs(v) < f.cfg.DeadbandVerticalMps {
		v = 0
	}

	est := Estimate{
		HorizontalMps:     f.fastH.update(h, dt),
		VerticalMps:       f.fastV.update(v, dt),
		SlowHorizontalMps: f.slowH.update(h, dt),
		SlowVerticalMps:   f.slowV.update(v, dt),
		RawHorizontalMps:  p.HorizontalMps,
		RawVerticalMps:    p.VerticalMps,
	}

	rate := f.adjustedDescentRate()
	est.AdjustedDescentRate = &rate
	return est
}

// hampel replaces the sample with the window median when it deviates by
// more than k scaled MADs. The window always receives the raw sample:
// a genuine persistent speed change shifts the median within a few
// samples instead of being clamped forever.
func (f *Filter) hampel(w *window, sample float64) float64 {
	corrected := sample
	if w.count() >= 3 {
		med := median(w.values())
		mad := medianAbsoluteDeviation(w.values(), med)
		if math.Abs(sample-med) > f.cfg.HampelK*hampelScale*mad {
			corrected = med
		}
	}
	w.push(sample)
	return corrected
}

// adjustedDescentRate estimates the climb rate from the trailing track
// window: median of per-interval rates, then averaged over the recent
// median history. Falls back to the slow vertical EMA when the window
// is too thin (fresh flight, sparse fallback feed).
func (f *Filter) adjustedDescentRate() float64 {
	points := f.track.Since(f.cfg.DescentWindow)
	if len(points) < f.cfg.DescentMinSamples {
		return f.slowV.value
	}

	rates := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		dt := points[i].Time.Sub(points[i-1].Time).Seconds()
		if dt < f.cfg.MinDtSeconds {
			dt = f.cfg.MinDtSeconds
		}
		rates = append(rates, (points[i].AltitudeM-points[i-1].AltitudeM)/dt)
	}
	if len(rates) == 0 {
		return f.slowV.value
	}

	f.descentMedians.push(median(rates))

	sum := 0.0
	for _, m := range f.descentMedians.buf {
		sum += m
	}
	return sum / float64(f.descentMedians.count())
}

// ResetSmoothing clears all accumulators so a subsequent ascent starts
// clean. Called on the transition into the landed phase and on subject
// change. The track itself is only cleared on subject change.
func (f *Filter) ResetSmoothing() {
	f.hWindow.reset()
	f.vWindow.reset()
	f.fastH.reset()
	f.fastV.reset()
	f.slowH.reset()
	f.slowV.reset()
	f.descentMedians.reset()
	f.havePoint = false
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func medianAbsoluteDeviation(values []float64, med float64) float64 {
	if len(values) == 0 {
		return 0
	}
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - med)
	}
	return median(devs)
}
