package feed

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

const pollerFrames = `[
	{"serial":"V2541022","datetime":"2026-04-12T09:15:00Z","lat":51.50,"lon":-0.14,"alt":8200,"vel_h":13.1,"vel_v":-7.4},
	{"serial":"OTHER123","datetime":"2026-04-12T09:15:00Z","lat":48.90,"lon":2.30,"alt":5000,"vel_h":9.0,"vel_v":-5.0},
	{"serial":"V2541022","datetime":"2026-04-12T09:15:15Z","lat":51.49,"lon":-0.14,"alt":8090,"vel_h":13.0,"vel_v":-7.3}
]`

func TestPollOnce(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(200, pollerFrames)

	var points []telemetry.Point
	p := NewPoller("https://relay.example", "V2541022", 15*time.Second, client,
		timeutil.NewMockClock(time.Now()), func(pt telemetry.Point) {
			points = append(points, pt)
		})

	require.NoError(t, p.pollOnce(context.Background()))

	// Frames for other subjects are filtered out.
	require.Len(t, points, 2)
	assert.Equal(t, telemetry.SourceFallback, points[0].Source)
	assert.Equal(t, "V2541022", points[0].Subject)
	assert.InDelta(t, 8090.0, points[1].AltitudeM, 1e-9)

	req := client.GetRequest(0)
	require.NotNil(t, req)
	assert.Contains(t, req.URL.String(), "serial=V2541022")
}

func TestPollOnceBadStatus(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(503, "relay unavailable")

	p := NewPoller("https://relay.example", "V2541022", 15*time.Second, client,
		timeutil.NewMockClock(time.Now()), func(telemetry.Point) {
			t.Fatal("no points expected on error response")
		})

	assert.Error(t, p.pollOnce(context.Background()))
}

func TestPollOnceBadJSON(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(200, "<html>not json</html>")

	p := NewPoller("https://relay.example", "V2541022", 15*time.Second, client,
		timeutil.NewMockClock(time.Now()), func(telemetry.Point) {
			t.Fatal("no points expected on decode failure")
		})

	assert.Error(t, p.pollOnce(context.Background()))
}

func TestPollerGate(t *testing.T) {
	p := NewPoller("https://relay.example", "V2541022", 15*time.Second,
		httputil.NewMockHTTPClient(), timeutil.NewMockClock(time.Now()),
		func(telemetry.Point) {})

	assert.False(t, p.Enabled())
	p.SetEnabled(true)
	assert.True(t, p.Enabled())
	p.SetEnabled(false)
	assert.False(t, p.Enabled())
}

func TestPollerRunPollsOnTick(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(200, pollerFrames)

	clock := timeutil.NewMockClock(time.Date(2026, 4, 12, 9, 0, 0, 0, time.UTC))
	delivered := make(chan telemetry.Point, 4)
	p := NewPoller("https://relay.example", "V2541022", 15*time.Second, client, clock,
		func(pt telemetry.Point) { delivered <- pt })
	p.SetEnabled(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Run registers its ticker asynchronously, so keep nudging the
	// clock until a tick lands.
	deadline := time.After(2 * time.Second)
	var got telemetry.Point
waitLoop:
	for {
		clock.Advance(15 * time.Second)
		select {
		case got = <-delivered:
			break waitLoop
		case <-deadline:
			t.Fatal("timed out waiting for polled point")
		case <-time.After(10 * time.Millisecond):
		}
	}
	assert.Equal(t, "V2541022", got.Subject)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to exit")
	}
}

func TestPollerRunSkipsWhileDisabled(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	clock := timeutil.NewMockClock(time.Date(2026, 4, 12, 9, 0, 0, 0, time.UTC))
	p := NewPoller("https://relay.example", "V2541022", 15*time.Second, client, clock,
		func(telemetry.Point) { t.Error("no points expected while disabled") })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	clock.Advance(15 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, client.RequestCount())

	cancel()
	<-done
}
