// Package pipeline is the single-owner orchestrator: one goroutine owns
// the track, motion filter, landing detector and arbiter, consuming
// telemetry points from a mailbox so no component needs locking. The
// prediction dispatcher is the only downstream collaborator reached
// from other goroutines, and it synchronizes internally.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-data/recovery.report/internal/arbiter"
	"github.com/kestrel-data/recovery.report/internal/config"
	"github.com/kestrel-data/recovery.report/internal/landing"
	"github.com/kestrel-data/recovery.report/internal/monitoring"
	"github.com/kestrel-data/recovery.report/internal/motion"
	"github.com/kestrel-data/recovery.report/internal/predict"
	"github.com/kestrel-data/recovery.report/internal/storage/sqlite"
	"github.com/kestrel-data/recovery.report/internal/telemetry"
	"github.com/kestrel-data/recovery.report/internal/timeutil"
)

// PositionUpdate is emitted on every ingested point.
type PositionUpdate struct {
	Point      telemetry.Point
	Estimate   motion.Estimate
	Phase      telemetry.Phase
	Confidence float64
	State      arbiter.State
}

// LandingEvent is emitted on landed/cleared transitions.
type LandingEvent struct {
	Subject    string
	Landed     bool
	Position   telemetry.Coordinate
	Confidence float64
	At         time.Time
}

// Store is the subset of the sqlite layer the pipeline checkpoints to.
type Store interface {
	SaveTrack(track *telemetry.Track) error
	LoadTrack(subject string) (*telemetry.Track, error)
	StartSession(session *sqlite.FlightSession) error
	RecordLanding(sessionID string, pos telemetry.Coordinate, confidence float64, at time.Time) error
}

// Config holds the pipeline's own parameters; component parameters live
// in their packages.
type Config struct {
	// Subject is the flight this tracker follows.
	Subject string
	// CheckpointEvery persists the track after this many ingested points.
	CheckpointEvery int
	// PredictionInterval re-triggers the predictor while flying.
	PredictionInterval time.Duration
	// StaleCheckInterval re-evaluates the arbiter without fresh input so
	// feed loss is noticed during silence.
	StaleCheckInterval time.Duration
	// DefaultDescentRateMps parameterises the predictor before a usable
	// adjusted rate exists.
	DefaultDescentRateMps float64
	// BurstAltitudeM is the expected burst altitude while ascending.
	BurstAltitudeM float64
	// BurstMarginM is added to the current altitude to fake a burst
	// point when the balloon is already descending.
	BurstMarginM float64
	// DescentSplitAltitudeM is the altitude below which the adjusted
	// descent rate parameterises the predictor.
	DescentSplitAltitudeM float64
}

// ConfigFromTuning builds a pipeline Config from a loaded TuningConfig.
// Subject and BurstAltitudeM are flight-specific and come from flags.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		CheckpointEvery:       cfg.GetCheckpointEveryPoints(),
		PredictionInterval:    cfg.GetPredictionTimerInterval(),
		StaleCheckInterval:    time.Second,
		DefaultDescentRateMps: cfg.GetDefaultDescentRateMps(),
		BurstMarginM:          cfg.GetBurstAltitudeMarginM(),
		DescentSplitAltitudeM: cfg.GetDescentSplitAltitudeM(),
	}
}

type msgKind int

const (
	msgPoint msgKind = iota
	msgStartup
)

type message struct {
	kind  msgKind
	point telemetry.Point
}

// Pipeline wires the tracking components together. Construct with New,
// set callbacks, then call Run on its own goroutine.
type Pipeline struct {
	cfg        Config
	clock      timeutil.Clock
	filter     *motion.Filter
	detector   *landing.Detector
	arb        *arbiter.Arbiter
	dispatcher *predict.Dispatcher
	store      Store

	mailbox chan message

	// Owned by the Run goroutine.
	started       bool
	lastPrimary   time.Time
	lastFallback  time.Time
	lastEstimate  motion.Estimate
	lastPhase     telemetry.Phase
	lastFlags     arbiter.Flags
	flagsKnown    bool
	ingested      int
	maxAltitudeM  float64
	sessionID     string

	// OnPosition, OnLanding and OnFlags are invoked from the Run
	// goroutine; keep them fast or hand off.
	OnPosition func(PositionUpdate)
	OnLanding  func(LandingEvent)
	OnFlags    func(arbiter.Flags)
}

// New creates a pipeline. store and dispatcher may be nil (no
// persistence / no predictions); a nil clock uses the real clock.
func New(cfg Config, filter *motion.Filter, detector *landing.Detector, arb *arbiter.Arbiter, dispatcher *predict.Dispatcher, store Store, clock timeutil.Clock) *Pipeline {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 10
	}
	if cfg.StaleCheckInterval <= 0 {
		cfg.StaleCheckInterval = time.Second
	}
	return &Pipeline{
		cfg:        cfg,
		clock:      clock,
		filter:     filter,
		detector:   detector,
		arb:        arb,
		dispatcher: dispatcher,
		store:      store,
		mailbox:    make(chan message, 64),
		lastPhase:  telemetry.PhaseUnknown,
	}
}

// OnPrimaryTelemetry enqueues a point from the radio link. Safe from
// any goroutine; blocks briefly if the mailbox is full so arrival order
// is preserved.
func (p *Pipeline) OnPrimaryTelemetry(pt telemetry.Point) {
	pt.Source = telemetry.SourcePrimary
	p.mailbox <- message{kind: msgPoint, point: pt}
}

// OnFallbackTelemetry enqueues a point from the network relay.
func (p *Pipeline) OnFallbackTelemetry(pt telemetry.Point) {
	pt.Source = telemetry.SourceFallback
	p.mailbox <- message{kind: msgPoint, point: pt}
}

// StartupComplete signals that application bootstrap has finished.
func (p *Pipeline) StartupComplete() {
	p.mailbox <- message{kind: msgStartup}
}

// Run processes the mailbox until the context is cancelled. It owns all
// single-threaded component state.
func (p *Pipeline) Run(ctx context.Context) error {
	staleTicker := p.clock.NewTicker(p.cfg.StaleCheckInterval)
	defer staleTicker.Stop()

	var predC <-chan time.Time
	if p.cfg.PredictionInterval > 0 {
		predTicker := p.clock.NewTicker(p.cfg.PredictionInterval)
		defer predTicker.Stop()
		predC = predTicker.C()
	}

	for {
		select {
		case <-ctx.Done():
			p.checkpoint()
			return ctx.Err()

		case msg := <-p.mailbox:
			switch msg.kind {
			case msgPoint:
				p.handlePoint(ctx, msg.point)
			case msgStartup:
				p.handleStartup()
			}

		case <-staleTicker.C():
			p.handleStaleCheck()

		case <-predC:
			p.maybePredict(ctx)
		}
	}
}

// handleStartup marks bootstrap complete and restores any persisted
// track so smoothing resumes with history after a restart.
func (p *Pipeline) handleStartup() {
	p.started = true

	if p.store != nil && p.cfg.Subject != "" && p.filter.Track().Len() == 0 {
		track, err := p.store.LoadTrack(p.cfg.Subject)
		if err != nil {
			monitoring.Logf("pipeline: restoring track for %s: %v", p.cfg.Subject, err)
		} else if track != nil {
			for _, pt := range track.Points {
				p.filter.Ingest(pt)
				if pt.AltitudeM > p.maxAltitudeM {
					p.maxAltitudeM = pt.AltitudeM
				}
			}
			monitoring.Logf("pipeline: restored %d points for %s", track.Len(), p.cfg.Subject)
		}
	}

	p.evaluateArbiter()
}

func (p *Pipeline) handlePoint(ctx context.Context, pt telemetry.Point) {
	prevSubject := p.filter.Track().Subject

	est := p.filter.Ingest(pt)
	if prevSubject != "" && pt.Subject != prevSubject {
		// New flight: drop every piece of derived per-subject state.
		monitoring.Logf("pipeline: subject changed %s -> %s, resetting", prevSubject, pt.Subject)
		p.detector.Reset()
		if p.dispatcher != nil {
			p.dispatcher.Forget(prevSubject)
		}
		p.maxAltitudeM = 0
		p.sessionID = ""
		p.ingested = 0
	}

	if p.sessionID == "" {
		p.startSession(pt)
	}

	now := p.clock.Now()
	switch pt.Source {
	case telemetry.SourceFallback:
		p.lastFallback = now
	default:
		p.lastPrimary = now
	}
	if pt.AltitudeM > p.maxAltitudeM {
		p.maxAltitudeM = pt.AltitudeM
	}
	p.lastEstimate = est

	res := p.evaluatePhase()
	p.evaluateArbiter()

	if p.OnPosition != nil {
		p.OnPosition(PositionUpdate{
			Point:      pt,
			Estimate:   est,
			Phase:      res.Phase,
			Confidence: res.Confidence,
			State:      p.arb.State(),
		})
	}

	p.ingested++
	if p.ingested%p.cfg.CheckpointEvery == 0 {
		p.checkpoint()
	}

	p.maybePredict(ctx)
}

// handleStaleCheck re-runs phase and arbiter evaluation on the periodic
// tick so feed staleness and stale-fallback forced landings are noticed
// without fresh input.
func (p *Pipeline) handleStaleCheck() {
	if p.filter.Track().Len() > 0 {
		p.evaluatePhase()
	}
	p.evaluateArbiter()
}

// evaluatePhase runs the landing detector and handles transitions.
func (p *Pipeline) evaluatePhase() landing.Result {
	res := p.detector.Evaluate(p.filter.Track(), p.lastEstimate.SlowVerticalMps)
	p.lastPhase = res.Phase

	switch res.Transition {
	case landing.TransitionLanded:
		monitoring.Logf("pipeline: %s landed (confidence %.2f)", p.filter.Track().Subject, res.Confidence)
		// Smoothing restarts clean if the balloon turns out to still
		// be moving; the track itself is kept.
		p.filter.ResetSmoothing()
		p.recordLanding(res)
		p.emitLanding(res, true)

	case landing.TransitionCleared:
		monitoring.Logf("pipeline: %s landed state cleared (confidence %.2f)", p.filter.Track().Subject, res.Confidence)
		p.emitLanding(res, false)
	}

	return res
}

func (p *Pipeline) emitLanding(res landing.Result, landed bool) {
	if p.OnLanding == nil {
		return
	}
	ev := LandingEvent{
		Subject:    p.filter.Track().Subject,
		Landed:     landed,
		Confidence: res.Confidence,
		At:         p.clock.Now(),
	}
	if res.LandingPosition != nil {
		ev.Position = *res.LandingPosition
	} else if last, ok := p.filter.Track().Last(); ok {
		ev.Position = last.Coordinate()
	}
	p.OnLanding(ev)
}

// evaluateArbiter feeds current staleness and phase into the arbiter
// and surfaces transitions and flag changes.
func (p *Pipeline) evaluateArbiter() {
	ev := p.arb.Evaluate(arbiter.Inputs{
		StartupComplete: p.started,
		Phase:           p.lastPhase,
		PhaseValid:      p.lastPhase != telemetry.PhaseUnknown,
		LastPrimary:     p.lastPrimary,
		LastFallback:    p.lastFallback,
	})
	if ev != nil {
		monitoring.Logf("pipeline: telemetry state %s -> %s", ev.From, ev.To)
	}

	flags := p.arb.Flags()
	if !p.flagsKnown || flags != p.lastFlags {
		p.lastFlags = flags
		p.flagsKnown = true
		if p.OnFlags != nil {
			p.OnFlags(flags)
		}
	}
}

// maybePredict triggers the dispatcher when the arbiter allows it.
func (p *Pipeline) maybePredict(ctx context.Context) {
	if p.dispatcher == nil || !p.arb.Flags().ShouldEnablePredictions {
		return
	}
	last, ok := p.filter.Track().Last()
	if !ok {
		return
	}

	req := predict.NewRequest(p.filter.Track().Subject, last.Coordinate(), last.AltitudeM)
	req.Descending = p.lastPhase.IsDescending()

	if req.Descending {
		// The balloon has already burst: the predictor only needs a
		// burst point marginally above the current altitude.
		req.BurstAltitudeM = last.AltitudeM + p.cfg.BurstMarginM
	} else {
		req.BurstAltitudeM = p.cfg.BurstAltitudeM
		req.AscentRateMps = p.lastEstimate.SlowVerticalMps
	}

	req.DescentRateMps = p.cfg.DefaultDescentRateMps
	if req.Descending && last.AltitudeM < p.cfg.DescentSplitAltitudeM && p.lastEstimate.AdjustedDescentRate != nil {
		if rate := -*p.lastEstimate.AdjustedDescentRate; rate > 0 {
			req.DescentRateMps = rate
		}
	}

	p.dispatcher.Trigger(ctx, req)
}

// checkpoint persists the current track. Failures log and move on; a
// missed checkpoint costs at most a few points of history.
func (p *Pipeline) checkpoint() {
	if p.store == nil || p.filter.Track().Len() == 0 {
		return
	}
	if err := p.store.SaveTrack(p.filter.Track()); err != nil {
		monitoring.Logf("pipeline: checkpoint failed: %v", err)
	}
}

func (p *Pipeline) startSession(pt telemetry.Point) {
	p.sessionID = uuid.NewString()
	if p.store == nil {
		return
	}
	err := p.store.StartSession(&sqlite.FlightSession{
		SessionID: p.sessionID,
		Subject:   pt.Subject,
		StartedAt: pt.Time,
	})
	if err != nil {
		monitoring.Logf("pipeline: starting session for %s: %v", pt.Subject, err)
	}
}

func (p *Pipeline) recordLanding(res landing.Result) {
	if p.store == nil || p.sessionID == "" || res.LandingPosition == nil {
		return
	}
	err := p.store.RecordLanding(p.sessionID, *res.LandingPosition, res.Confidence, p.clock.Now())
	if err != nil {
		monitoring.Logf("pipeline: recording landing: %v", err)
	}
}
