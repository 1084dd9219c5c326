package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/kestrel-data/recovery.report/internal/httputil"
	"github.com/kestrel-data/recovery.report/internal/monitoring"
	"github.com/kestrel-data/recovery.report/internal/telemetry"
	"github.com/kestrel-data/recovery.report/internal/timeutil"
)

// maxPollBody bounds the relay response size.
const maxPollBody = 1 << 20

// Poller fetches relayed telemetry for one subject from an HTTP endpoint
// at a fixed interval. Polling only runs while enabled; the arbiter flips
// the gate when primary telemetry goes stale or recovers.
type Poller struct {
	baseURL  string
	subject  string
	interval time.Duration
	client   httputil.HTTPClient
	clock    timeutil.Clock
	sink     Sink
	enabled  atomic.Bool
}

// NewPoller creates a poller for the given subject against baseURL. The
// poller starts disabled.
func NewPoller(baseURL, subject string, interval time.Duration, client httputil.HTTPClient, clock timeutil.Clock, sink Sink) *Poller {
	return &Poller{
		baseURL:  baseURL,
		subject:  subject,
		interval: interval,
		client:   client,
		clock:    clock,
		sink:     sink,
	}
}

// SetEnabled flips the polling gate. Safe to call from any goroutine.
func (p *Poller) SetEnabled(enabled bool) {
	if p.enabled.Swap(enabled) != enabled {
		monitoring.Logf("fallback poller: enabled=%v", enabled)
	}
}

// Enabled reports whether the poller is currently gated on.
func (p *Poller) Enabled() bool { return p.enabled.Load() }

// Run polls until the context is cancelled. Each tick is skipped while
// the gate is off; a failed poll logs and waits for the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if !p.enabled.Load() {
				continue
			}
			if err := p.pollOnce(ctx); err != nil {
				monitoring.Logf("fallback poller: %v", err)
			}
		}
	}
}

// pollOnce fetches and delivers the latest relayed frames for the subject.
func (p *Poller) pollOnce(ctx context.Context) error {
	u := fmt.Sprintf("%s/sondes/telemetry?serial=%s", p.baseURL, url.QueryEscape(p.subject))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build poll request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("poll %s: %w", p.subject, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxPollBody))
		return fmt.Errorf("poll %s: unexpected status %d", p.subject, resp.StatusCode)
	}

	var frames []Frame
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPollBody)).Decode(&frames); err != nil {
		return fmt.Errorf("poll %s: decode response: %w", p.subject, err)
	}

	for _, frame := range frames {
		if frame.Serial != p.subject {
			continue
		}
		point, err := frame.Point(telemetry.SourceFallback)
		if err != nil {
			monitoring.Debugf("fallback poller: dropping frame: %v", err)
			continue
		}
		p.sink(point)
	}
	return nil
}
