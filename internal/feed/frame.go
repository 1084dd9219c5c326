// Package feed turns raw telemetry feeds into Points: a serial gateway
// for the local radio receiver and an HTTP poller for the relayed
// fallback feed. Both decode the same JSON frame shape; radio wire
// demodulation happens upstream in the receiver firmware.
package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestrel-data/recovery.report/internal/telemetry"
)

// Frame is one decoded telemetry frame as emitted by the radio receiver
// and by the fallback relay. Field names follow the relay's JSON schema.
type Frame struct {
	Serial    string  `json:"serial"`
	Datetime  string  `json:"datetime"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Alt       float64 `json:"alt"`
	VelH      float64 `json:"vel_h"`
	VelV      float64 `json:"vel_v"`
	Frequency float64 `json:"frequency,omitempty"`
}

// Point converts the frame into a telemetry point attributed to source.
func (f Frame) Point(source telemetry.Source) (telemetry.Point, error) {
	if f.Serial == "" {
		return telemetry.Point{}, fmt.Errorf("frame missing serial")
	}
	ts, err := time.Parse(time.RFC3339, f.Datetime)
	if err != nil {
		return telemetry.Point{}, fmt.Errorf("frame %s: bad datetime %q: %w", f.Serial, f.Datetime, err)
	}
	return telemetry.Point{
		Source:        source,
		Subject:       f.Serial,
		Lat:           f.Lat,
		Lon:           f.Lon,
		AltitudeM:     f.Alt,
		HorizontalMps: f.VelH,
		VerticalMps:   f.VelV,
		Time:          ts.UTC(),
	}, nil
}

// decodeFrame parses a single newline-delimited JSON frame.
func decodeFrame(line []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}
