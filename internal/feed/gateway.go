package feed

import (
	"bufio"
	"context"
	"strings"

	"github.com/kestrel-data/recovery.report/internal/monitoring"
	"github.com/kestrel-data/recovery.report/internal/telemetry"
)

// Sink receives decoded telemetry points from a feed adapter.
type Sink func(telemetry.Point)

// Gateway reads newline-delimited JSON frames from the radio receiver's
// serial port and delivers decoded points to a sink. Malformed lines are
// logged and skipped; the link drops frames routinely at range.
type Gateway struct {
	port Porter
	sink Sink
}

// NewGateway creates a gateway reading from port and delivering to sink.
func NewGateway(port Porter, sink Sink) *Gateway {
	return &Gateway{port: port, sink: sink}
}

// Run reads frames until the context is cancelled or the port reaches
// EOF. It returns the scanner error on a broken port, nil on clean EOF,
// and ctx.Err() on cancellation.
func (g *Gateway) Run(ctx context.Context) error {
	scan := bufio.NewScanner(g.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs in its own goroutine so the outer
	// loop can still observe context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				return scan.Err()
			}
			g.handleLine(line)
		}
	}
}

func (g *Gateway) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "{") {
		// Receiver firmware interleaves boot banners and RSSI chatter
		// with frames; only JSON objects are telemetry.
		monitoring.Debugf("gateway: skipping non-frame line %q", line)
		return
	}

	frame, err := decodeFrame([]byte(line))
	if err != nil {
		monitoring.Logf("gateway: dropping malformed frame: %v", err)
		return
	}
	point, err := frame.Point(telemetry.SourcePrimary)
	if err != nil {
		monitoring.Logf("gateway: dropping frame: %v", err)
		return
	}
	g.sink(point)
}

// Close closes the underlying port, unblocking a running Run.
func (g *Gateway) Close() error {
	return g.port.Close()
}
