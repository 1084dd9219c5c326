// Package landing scores landing confidence over a rolling window of
// track points and flips the flight phase with hysteresis so noisy GPS
// cannot flap a landed balloon back into flight.
package landing

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kestrel-data/recovery.report/internal/config"
	"github.com/kestrel-data/recovery.report/internal/telemetry"
	"github.com/kestrel-data/recovery.report/internal/timeutil"
)

// Config holds the landing detector tuning parameters. The weights and
// thresholds are empirically tuned field values with no documented
// derivation; recalibrate against real flight data rather than assuming
// they are correct physics.
type Config struct {
	Window                time.Duration
	MinSamples            int
	AltitudeSigmaM        float64
	PositionRadiusM       float64
	SpeedStabilityMps     float64
	SampleConfidenceCount int

	WeightAltitude float64
	WeightPosition float64
	WeightSpeed    float64
	WeightSamples  float64

	SetConfidence   float64
	ClearConfidence float64
	ClearCount      int

	PositionBuffer     int
	PositionMinSamples int

	StaleFallback         time.Duration
	DescentSplitAltitudeM float64
}

// DefaultConfig returns detector configuration loaded from the canonical
// tuning defaults file. Panics if the file cannot be found; intended
// for tests and binaries that have already validated config availability.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a detector Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Window:                time.Duration(cfg.GetLandingWindowSeconds() * float64(time.Second)),
		MinSamples:            cfg.GetLandingMinSamples(),
		AltitudeSigmaM:        cfg.GetAltitudeStabilitySigmaM(),
		PositionRadiusM:       cfg.GetPositionStabilityRadiusM(),
		SpeedStabilityMps:     cfg.GetSpeedStabilityMps(),
		SampleConfidenceCount: cfg.GetSampleConfidenceCount(),
		WeightAltitude:        cfg.GetWeightAltitude(),
		WeightPosition:        cfg.GetWeightPosition(),
		WeightSpeed:           cfg.GetWeightSpeed(),
		WeightSamples:         cfg.GetWeightSamples(),
		SetConfidence:         cfg.GetLandedSetConfidence(),
		ClearConfidence:       cfg.GetLandedClearConfidence(),
		ClearCount:            cfg.GetLandedClearCount(),
		PositionBuffer:        cfg.GetLandingPositionBuffer(),
		PositionMinSamples:    cfg.GetLandingPositionMinSamples(),
		StaleFallback:         time.Duration(cfg.GetStaleFallbackSeconds() * float64(time.Second)),
		DescentSplitAltitudeM: cfg.GetDescentSplitAltitudeM(),
	}
}

// Transition marks a landed/cleared edge in an evaluation result.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionLanded
	TransitionCleared
)

// Result is the outcome of one evaluation.
type Result struct {
	Phase      telemetry.Phase
	Confidence float64
	Transition Transition
	// LandingPosition is set while landed: the noise-averaged final
	// position when enough fixes were buffered, else the latest raw fix.
	LandingPosition *telemetry.Coordinate
}

// Detector holds the landed/flying hysteresis state for one subject.
// Single-threaded: only the pipeline goroutine calls it.
type Detector struct {
	cfg   Config
	clock timeutil.Clock

	landed     bool
	landingPos *telemetry.Coordinate
	lowStreak  int
}

// NewDetector creates a detector. A nil clock uses the real clock.
func NewDetector(cfg Config, clock timeutil.Clock) *Detector {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Detector{cfg: cfg, clock: clock}
}

// Landed reports whether the subject is currently considered landed.
func (d *Detector) Landed() bool { return d.landed }

// LandingPosition returns the recorded landing position, nil when not landed.
func (d *Detector) LandingPosition() *telemetry.Coordinate { return d.landingPos }

// Reset clears all hysteresis state. Called on subject change.
func (d *Detector) Reset() {
	d.landed = false
	d.landingPos = nil
	d.lowStreak = 0
}

// Evaluate runs after every ingested point. slowVerticalMps is the slow
// EMA output of the motion filter, used only for the flying-phase split.
func (d *Detector) Evaluate(track *telemetry.Track, slowVerticalMps float64) Result {
	conf := d.confidence(track)

	last, haveLast := track.Last()

	// Stale fallback feed near the last known fix means the payload
	// stopped moving and the feed stopped updating: force landed without
	// waiting for confidence to accumulate.
	forced := haveLast &&
		last.Source == telemetry.SourceFallback &&
		d.clock.Since(last.Time) > d.cfg.StaleFallback

	switch {
	case !d.landed && (forced || conf >= d.cfg.SetConfidence):
		d.landed = true
		d.lowStreak = 0
		pos := d.landingPosition(track)
		d.landingPos = &pos
		return Result{
			Phase:           telemetry.PhaseLanded,
			Confidence:      conf,
			Transition:      TransitionLanded,
			LandingPosition: d.landingPos,
		}

	case d.landed:
		if forced {
			d.lowStreak = 0
			break
		}
		if conf < d.cfg.ClearConfidence || len(track.Since(d.cfg.Window)) < d.cfg.MinSamples {
			d.lowStreak++
		} else {
			d.lowStreak = 0
		}
		// A single low-confidence blip must not clear landed state.
		if d.lowStreak >= d.cfg.ClearCount {
			d.landed = false
			d.landingPos = nil
			d.lowStreak = 0
			return Result{
				Phase:      d.flyingPhase(track, slowVerticalMps),
				Confidence: conf,
				Transition: TransitionCleared,
			}
		}
	}

	if d.landed {
		return Result{
			Phase:           telemetry.PhaseLanded,
			Confidence:      conf,
			LandingPosition: d.landingPos,
		}
	}
	return Result{
		Phase:      d.flyingPhase(track, slowVerticalMps),
		Confidence: conf,
	}
}

// confidence combines four independently normalised stability scores
// over the trailing window. Returns 0 below the minimum sample count.
func (d *Detector) confidence(track *telemetry.Track) float64 {
	points := track.Since(d.cfg.Window)
	if len(points) < d.cfg.MinSamples {
		return 0
	}

	altitudes := make([]float64, len(points))
	var sumH, sumV float64
	maxDist := 0.0
	first := points[0].Coordinate()
	for i, p := range points {
		altitudes[i] = p.AltitudeM
		sumH += abs(p.HorizontalMps)
		sumV += abs(p.VerticalMps)
		if dist := first.DistanceM(p.Coordinate()); dist > maxDist {
			maxDist = dist
		}
	}
	n := float64(len(points))

	altScore := clampScore(1 - stat.StdDev(altitudes, nil)/d.cfg.AltitudeSigmaM)
	posScore := clampScore(1 - maxDist/d.cfg.PositionRadiusM)
	speed := sumH / n
	if sumV/n > speed {
		speed = sumV / n
	}
	speedScore := clampScore(1 - speed/d.cfg.SpeedStabilityMps)
	sampleScore := n / float64(d.cfg.SampleConfidenceCount)
	if sampleScore > 1 {
		sampleScore = 1
	}

	return d.cfg.WeightAltitude*altScore +
		d.cfg.WeightPosition*posScore +
		d.cfg.WeightSpeed*speedScore +
		d.cfg.WeightSamples*sampleScore
}

// landingPosition averages the most recent fixes to smooth out
// final-approach GPS noise. With too few buffered points the latest raw
// fix is used as-is.
func (d *Detector) landingPosition(track *telemetry.Track) telemetry.Coordinate {
	recent := track.Tail(d.cfg.PositionBuffer)
	if len(recent) < d.cfg.PositionMinSamples {
		if last, ok := track.Last(); ok {
			return last.Coordinate()
		}
		return telemetry.Coordinate{}
	}
	var lat, lon float64
	for _, p := range recent {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(recent))
	return telemetry.Coordinate{Lat: lat / n, Lon: lon / n}
}

func (d *Detector) flyingPhase(track *telemetry.Track, slowVerticalMps float64) telemetry.Phase {
	last, ok := track.Last()
	if !ok {
		return telemetry.PhaseUnknown
	}
	if slowVerticalMps >= 0 {
		return telemetry.PhaseAscending
	}
	if last.AltitudeM < d.cfg.DescentSplitAltitudeM {
		return telemetry.PhaseDescendingBelow10k
	}
	return telemetry.PhaseDescendingAbove10k
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
