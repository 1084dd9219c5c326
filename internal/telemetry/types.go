// Package telemetry defines the core data model for balloon telemetry:
// immutable sample points, per-flight tracks, and the flight phase enum
// shared by the motion filter, landing detector and telemetry arbiter.
package telemetry

import (
	"math"
	"time"
)

// Source identifies which feed produced a telemetry point.
type Source string

const (
	// SourcePrimary is the short-range, high-frequency radio link.
	SourcePrimary Source = "primary"
	// SourceFallback is the long-range, internet-relayed feed.
	SourceFallback Source = "fallback"
)

// Phase is the authoritative flight phase for a subject. It is mutated
// only by the landing detector and read by the arbiter.
type Phase string

const (
	PhaseUnknown             Phase = "unknown"
	PhaseAscending           Phase = "ascending"
	PhaseDescendingAbove10k  Phase = "descending_above_10k"
	PhaseDescendingBelow10k  Phase = "descending_below_10k"
	PhaseLanded              Phase = "landed"
)

// IsLanded reports whether the phase is Landed.
func (p Phase) IsLanded() bool { return p == PhaseLanded }

// IsDescending reports whether the balloon is in either descent phase.
func (p Phase) IsDescending() bool {
	return p == PhaseDescendingAbove10k || p == PhaseDescendingBelow10k
}

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

const earthRadiusM = 6371000.0

// DistanceM returns the great-circle distance to other in metres.
func (c Coordinate) DistanceM(other Coordinate) float64 {
	lat1 := c.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := (other.Lat - c.Lat) * math.Pi / 180
	dLon := (other.Lon - c.Lon) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Point is one received telemetry sample. Points are immutable: they are
// created at feed ingestion and appended to a track, never modified.
type Point struct {
	Source        Source    `json:"source"`
	Subject       string    `json:"subject"` // flight/sonde name
	Lat           float64   `json:"lat"`
	Lon           float64   `json:"lon"`
	AltitudeM     float64   `json:"altitude_m"`
	HorizontalMps float64   `json:"horizontal_mps"` // instantaneous ground speed
	VerticalMps   float64   `json:"vertical_mps"`   // instantaneous climb rate, negative when descending
	Time          time.Time `json:"time"`
}

// Coordinate returns the point's horizontal position.
func (p Point) Coordinate() Coordinate {
	return Coordinate{Lat: p.Lat, Lon: p.Lon}
}
