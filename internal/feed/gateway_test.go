package feed

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-data/recovery.report/internal/telemetry"
)

// stringPort is a Porter over a fixed transcript; Run sees EOF at the end.
type stringPort struct {
	*strings.Reader
	closed bool
}

func newStringPort(transcript string) *stringPort {
	return &stringPort{Reader: strings.NewReader(transcript)}
}

func (p *stringPort) Close() error {
	p.closed = true
	return nil
}

func TestGatewayDeliversFrames(t *testing.T) {
	transcript := strings.Join([]string{
		`RX boot v1.3, freq 404.200 MHz`,
		`{"serial":"V2541022","datetime":"2026-04-12T09:15:30Z","lat":51.50,"lon":-0.14,"alt":1200,"vel_h":11.0,"vel_v":4.5}`,
		`rssi=-112`,
		`{"serial":"V2541022","datetime":"2026-04-12T09:15:32Z","lat":51.51,"lon":-0.14,"alt":1210,"vel_h":11.2,"vel_v":4.6}`,
		`{"serial":"V2541022","datetime": garbage`,
		`{"datetime":"2026-04-12T09:15:34Z","lat":51.52,"lon":-0.14,"alt":1220}`,
	}, "\n") + "\n"

	var points []telemetry.Point
	gw := NewGateway(newStringPort(transcript), func(p telemetry.Point) {
		points = append(points, p)
	})

	err := gw.Run(context.Background())
	require.NoError(t, err)

	// Banner, RSSI chatter, malformed JSON and the serial-less frame are
	// all skipped; the two well-formed frames come through in order.
	require.Len(t, points, 2)
	assert.Equal(t, telemetry.SourcePrimary, points[0].Source)
	assert.InDelta(t, 1200.0, points[0].AltitudeM, 1e-9)
	assert.InDelta(t, 1210.0, points[1].AltitudeM, 1e-9)
	assert.True(t, points[0].Time.Before(points[1].Time))
}

func TestGatewayContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A pipe with no writer keeps the scanner blocked, so cancellation
	// is the only way out.
	r, w := io.Pipe()
	defer w.Close()
	gw := NewGateway(struct {
		io.Reader
		io.Closer
	}{r, r}, func(telemetry.Point) {})

	err := gw.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGatewayClose(t *testing.T) {
	port := newStringPort("")
	gw := NewGateway(port, func(telemetry.Point) {})
	require.NoError(t, gw.Close())
	assert.True(t, port.closed)
}
