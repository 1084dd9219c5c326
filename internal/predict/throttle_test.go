package predict

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-data/recovery.report/internal/httputil"
	"github.com/kestrel-data/recovery.report/internal/telemetry"
	"github.com/kestrel-data/recovery.report/internal/timeutil"
)

func TestThrottleSingleFlight(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(cacheStart)
	th := NewThrottle(30*time.Second, clock)

	require.True(t, th.TryAcquire("K-1042"))
	assert.False(t, th.TryAcquire("K-1042"), "second acquire while in flight")

	// Completion alone does not permit a new dispatch inside the
	// minimum interval.
	th.Release("K-1042")
	assert.False(t, th.TryAcquire("K-1042"))

	clock.Advance(31 * time.Second)
	assert.True(t, th.TryAcquire("K-1042"))
}

func TestThrottlePerSubjectIndependence(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(cacheStart)
	th := NewThrottle(30*time.Second, clock)

	require.True(t, th.TryAcquire("K-1042"))
	assert.True(t, th.TryAcquire("K-1099"), "subjects throttle independently")
}

func TestThrottleForget(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(cacheStart)
	th := NewThrottle(30*time.Second, clock)
	require.True(t, th.TryAcquire("K-1042"))

	th.Forget("K-1042")
	assert.True(t, th.TryAcquire("K-1042"), "forgotten subject starts fresh")
}

const predictResponse = `{
	"path": [{"position": {"lat": 52.0, "lon": -2.0}, "altitude_m": 4000, "time": "2026-04-12T09:30:00Z"}],
	"landing_point": {"lat": 51.93, "lon": -1.87},
	"landing_time": "2026-04-12T10:05:00Z"
}`

func newTestDispatcher(clock timeutil.Clock, mock *httputil.MockHTTPClient) *Dispatcher {
	cfg := DispatcherConfig{
		CacheTTL:      300 * time.Second,
		CacheCapacity: 8,
		MinInterval:   30 * time.Second,
		Quantizer:     testQuantizer(),
	}
	return NewDispatcher(cfg, NewClient(mock, "http://predictor.test"), clock, nil)
}

func TestDispatcherThreeTriggersOneCall(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(cacheStart)
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, predictResponse)
	d := newTestDispatcher(clock, mock)

	delivered := make(chan Result, 4)
	d.OnResult = func(subject string, res Result) { delivered <- res }

	req := NewRequest("K-1042", telemetry.Coordinate{Lat: 52.0, Lon: -2.0}, 4000)
	d.Trigger(context.Background(), req)

	// First trigger completes and delivers.
	select {
	case res := <-delivered:
		assert.Equal(t, 51.93, res.LandingPoint.Lat)
	case <-time.After(2 * time.Second):
		t.Fatal("prediction was never delivered")
	}

	// Two more triggers inside the throttle interval: the identical key
	// is served from cache, a different key is dropped. Either way no
	// second external call happens.
	d.Trigger(context.Background(), req)
	other := NewRequest("K-1042", telemetry.Coordinate{Lat: 52.0, Lon: -2.0}, 9000)
	d.Trigger(context.Background(), other)

	assert.Len(t, mock.Requests, 1, "exactly one external call dispatched")
	assert.Equal(t, int64(1), d.Cache().CacheStats().Hits)
}

func TestDispatcherFailureKeepsLastGood(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(cacheStart)
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, predictResponse)
	mock.AddResponse(503, "upstream overloaded")
	d := newTestDispatcher(clock, mock)

	delivered := make(chan Result, 2)
	d.OnResult = func(subject string, res Result) { delivered <- res }

	d.Trigger(context.Background(), NewRequest("K-1042", telemetry.Coordinate{Lat: 52.0, Lon: -2.0}, 4000))
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("first prediction was never delivered")
	}

	// Next trigger lands in a different bucket so it dispatches, and fails.
	clock.Advance(31 * time.Second)
	d.Trigger(context.Background(), NewRequest("K-1042", telemetry.Coordinate{Lat: 53.0, Lon: -2.0}, 4000))

	// Wait for the in-flight request to finish (throttle released).
	deadline := time.Now().Add(2 * time.Second)
	for {
		d.throttle.mu.Lock()
		busy := d.throttle.inFlight["K-1042"]
		d.throttle.mu.Unlock()
		if !busy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("request never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	res, ok := d.Latest("K-1042")
	require.True(t, ok, "failure must not erase the last good prediction")
	assert.Equal(t, 51.93, res.LandingPoint.Lat)
	assert.Len(t, mock.Requests, 2)
}

func TestDispatcherForget(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(cacheStart)
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, predictResponse)
	d := newTestDispatcher(clock, mock)

	delivered := make(chan Result, 1)
	d.OnResult = func(subject string, res Result) { delivered <- res }
	d.Trigger(context.Background(), NewRequest("K-1042", telemetry.Coordinate{Lat: 52.0, Lon: -2.0}, 4000))
	<-delivered

	d.Forget("K-1042")
	_, ok := d.Latest("K-1042")
	assert.False(t, ok)
}
