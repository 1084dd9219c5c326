// Package arbiter decides which telemetry feed is authoritative. It is
// an explicit state machine evaluated synchronously after every ingested
// point and every phase recomputation; there is no hidden reactivity and
// no ambient global state.
package arbiter

import (
	"time"

	"github.com/kestrel-data/recovery.report/internal/config"
	"github.com/kestrel-data/recovery.report/internal/telemetry"
	"github.com/kestrel-data/recovery.report/internal/timeutil"
)

// State is the arbiter's authoritative telemetry state. Exactly one
// value is live at a time.
type State string

const (
	StateStartup        State = "startup"
	StatePrimaryFlying  State = "primary_flying"
	StatePrimaryLanded  State = "primary_landed"
	StateFallbackFlying State = "fallback_flying"
	StateFallbackLanded State = "fallback_landed"
	StateNoTelemetry    State = "no_telemetry"
)

// Config holds the arbiter timing parameters.
type Config struct {
	// PrimaryStale marks the primary feed unavailable when no sample
	// arrived within this window.
	PrimaryStale time.Duration
	// FallbackStale is the same for the lower-frequency fallback feed.
	FallbackStale time.Duration
	// FallbackHold is the minimum time spent in a fallback state before
	// a reacquired primary feed is trusted again. Prevents oscillation
	// at marginal radio range.
	FallbackHold time.Duration
}

// DefaultConfig returns arbiter configuration loaded from the canonical
// tuning defaults file. Panics if the file cannot be found; intended
// for tests and binaries that have already validated config availability.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds an arbiter Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		PrimaryStale:  time.Duration(cfg.GetPrimaryStaleSeconds() * float64(time.Second)),
		FallbackStale: time.Duration(cfg.GetFallbackStaleSeconds() * float64(time.Second)),
		FallbackHold:  cfg.GetFallbackHold(),
	}
}

// Inputs is everything the arbiter looks at for one evaluation.
type Inputs struct {
	// StartupComplete is the one-shot bootstrap signal.
	StartupComplete bool
	// Phase is the landing detector's current output.
	Phase telemetry.Phase
	// PhaseValid is false when the phase source is unavailable. The
	// arbiter never transitions on incomplete information: it holds its
	// last state until the phase is valid again.
	PhaseValid bool
	// LastPrimary and LastFallback are the receive times of the most
	// recent sample per feed; zero means no sample has ever arrived.
	LastPrimary  time.Time
	LastFallback time.Time
}

// Flags are the observable control outputs derived from the state.
type Flags struct {
	// ShouldEnablePredictions is true while flying on either feed.
	ShouldEnablePredictions bool
	// ShouldEnableFallbackPolling is true only in the fallback states:
	// polling a metered network feed is wasteful otherwise.
	ShouldEnableFallbackPolling bool
	// InFallbackMode drives the UI and descent-rate source selection.
	InFallbackMode bool
}

// TransitionEvent records a state change.
type TransitionEvent struct {
	From State
	To   State
	At   time.Time
}

// Arbiter holds the current state and hysteresis timestamps.
// Single-threaded: only the pipeline goroutine calls it.
type Arbiter struct {
	cfg   Config
	clock timeutil.Clock

	state State
	// fallbackSince is when a Fallback* state was first entered;
	// flipping between FallbackFlying and FallbackLanded does not
	// restart the hold timer.
	fallbackSince time.Time
}

// New creates an arbiter in the Startup state. A nil clock uses the
// real clock.
func New(cfg Config, clock timeutil.Clock) *Arbiter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Arbiter{cfg: cfg, clock: clock, state: StateStartup}
}

// State returns the current state.
func (a *Arbiter) State() State { return a.state }

// Flags returns the control flags for the current state.
func (a *Arbiter) Flags() Flags {
	flying := a.state == StatePrimaryFlying || a.state == StateFallbackFlying
	fallback := a.state == StateFallbackFlying || a.state == StateFallbackLanded
	return Flags{
		ShouldEnablePredictions:     flying,
		ShouldEnableFallbackPolling: fallback,
		InFallbackMode:              fallback,
	}
}

// Evaluate applies the transition table to the inputs and returns the
// transition event, or nil when the state is unchanged. Call it after
// every telemetry ingestion, every phase recomputation, and on a
// periodic tick so staleness is noticed without fresh input.
func (a *Arbiter) Evaluate(in Inputs) *TransitionEvent {
	// Never transition on incomplete information.
	if !in.PhaseValid && a.state != StateStartup {
		return nil
	}

	next := a.next(in)
	if next == a.state {
		return nil
	}

	now := a.clock.Now()
	if isFallback(next) && !isFallback(a.state) {
		a.fallbackSince = now
	}

	ev := &TransitionEvent{From: a.state, To: next, At: now}
	a.state = next
	return ev
}

func (a *Arbiter) next(in Inputs) State {
	primary := a.available(in.LastPrimary, a.cfg.PrimaryStale)
	fallback := a.available(in.LastFallback, a.cfg.FallbackStale)

	switch a.state {
	case StateStartup:
		if !in.StartupComplete {
			return StateStartup
		}
		return a.acquire(primary, fallback, in.Phase)

	case StatePrimaryFlying:
		switch {
		case !primary && fallback:
			return fallbackFor(in.Phase)
		case !primary:
			return StateNoTelemetry
		case in.Phase.IsLanded():
			return StatePrimaryLanded
		}

	case StatePrimaryLanded:
		switch {
		// A landed primary feed is never substituted by the fallback:
		// the payload is down and the radio is in range of its last fix.
		case !primary:
			return StateNoTelemetry
		case !in.Phase.IsLanded():
			return StatePrimaryFlying
		}

	case StateFallbackFlying, StateFallbackLanded:
		switch {
		case primary && a.clock.Since(a.fallbackSince) >= a.cfg.FallbackHold:
			return primaryFor(in.Phase)
		case !fallback:
			return StateNoTelemetry
		default:
			return fallbackFor(in.Phase)
		}

	case StateNoTelemetry:
		if primary || fallback {
			return a.acquire(primary, fallback, in.Phase)
		}
	}

	return a.state
}

// acquire applies the post-startup acquisition rules, shared by Startup
// and NoTelemetry.
func (a *Arbiter) acquire(primary, fallback bool, phase telemetry.Phase) State {
	switch {
	case primary:
		return primaryFor(phase)
	case fallback:
		return fallbackFor(phase)
	default:
		return StateNoTelemetry
	}
}

func (a *Arbiter) available(last time.Time, stale time.Duration) bool {
	return !last.IsZero() && a.clock.Since(last) <= stale
}

func primaryFor(phase telemetry.Phase) State {
	if phase.IsLanded() {
		return StatePrimaryLanded
	}
	return StatePrimaryFlying
}

func fallbackFor(phase telemetry.Phase) State {
	if phase.IsLanded() {
		return StateFallbackLanded
	}
	return StateFallbackFlying
}

func isFallback(s State) bool {
	return s == StateFallbackFlying || s == StateFallbackLanded
}
