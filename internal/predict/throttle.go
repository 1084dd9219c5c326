package predict

import (
	"sync"
	"time"

	"github.com/kestrel-data/recovery.report/internal/timeutil"
)

// Throttle is a per-subject debounce: at most one in-flight prediction
// request at a time and at least MinInterval between dispatches,
// regardless of how many triggers fire. Triggers that lose are dropped,
// not queued; the periodic timer retries later.
type Throttle struct {
	mu           sync.Mutex
	clock        timeutil.Clock
	minInterval  time.Duration
	inFlight     map[string]bool
	lastDispatch map[string]time.Time
}

// NewThrottle creates a throttle. A nil clock uses the real clock.
func NewThrottle(minInterval time.Duration, clock timeutil.Clock) *Throttle {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Throttle{
		clock:        clock,
		minInterval:  minInterval,
		inFlight:     make(map[string]bool),
		lastDispatch: make(map[string]time.Time),
	}
}

// TryAcquire reports whether a dispatch for subject may proceed now,
// and records the dispatch time when it may. The caller must call
// Release when the request completes, success or not.
func (t *Throttle) TryAcquire(subject string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight[subject] {
		return false
	}
	if last, ok := t.lastDispatch[subject]; ok && t.clock.Since(last) < t.minInterval {
		return false
	}
	t.inFlight[subject] = true
	t.lastDispatch[subject] = t.clock.Now()
	return true
}

// Release marks the in-flight request for subject as finished.
func (t *Throttle) Release(subject string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, subject)
}

// Forget drops all throttle state for subject. Called on subject change.
func (t *Throttle) Forget(subject string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, subject)
	delete(t.lastDispatch, subject)
}
