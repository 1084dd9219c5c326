package telemetry

import "time"

// Track is the ordered, append-only sequence of points for one subject.
// Points keep their original timestamps even when clock skew between
// feeds delivers them out of order; ingestion order is what counts, and
// the motion filter applies a dt fallback for non-monotonic times. A
// stale relayed point must stay visibly stale, so timestamps are never
// rewritten.
type Track struct {
	Subject string
	Points  []Point

	// maxTime is the newest timestamp seen, the anchor for window
	// queries when the latest point arrived with an older stamp.
	maxTime time.Time
}

// NewTrack creates an empty track for the given subject.
func NewTrack(subject string) *Track {
	return &Track{Subject: subject}
}

// Len returns the number of points in the track.
func (t *Track) Len() int { return len(t.Points) }

// Last returns the most recent point, or false if the track is empty.
func (t *Track) Last() (Point, bool) {
	if len(t.Points) == 0 {
		return Point{}, false
	}
	return t.Points[len(t.Points)-1], true
}

// Append adds a point to the track. A subject mismatch resets the track
// first (new flight detected); callers that hold derived per-subject state
// should check the returned reset flag and clear their own accumulators.
func (t *Track) Append(p Point) (reset bool) {
	if p.Subject != t.Subject {
		t.Subject = p.Subject
		t.Points = t.Points[:0]
		t.maxTime = time.Time{}
		reset = true
	}
	if p.Time.After(t.maxTime) {
		t.maxTime = p.Time
	}
	t.Points = append(t.Points, p)
	return reset
}

// Reset clears all points, keeping the subject.
func (t *Track) Reset() {
	t.Points = t.Points[:0]
	t.maxTime = time.Time{}
}

// Since returns the trailing points with timestamps within the window
// ending at the newest timestamp seen. The walk from the back stops at
// the first point outside the window, so an out-of-order stale point at
// the tail yields a short window rather than resurrecting older points.
// The returned slice aliases the track; callers must not mutate it.
func (t *Track) Since(window time.Duration) []Point {
	if len(t.Points) == 0 {
		return nil
	}
	cutoff := t.maxTime.Add(-window)
	// Walk backwards; tracks are short-windowed so this stays cheap.
	i := len(t.Points) - 1
	for i >= 0 && !t.Points[i].Time.Before(cutoff) {
		i--
	}
	return t.Points[i+1:]
}

// Tail returns up to n most recent points.
func (t *Track) Tail(n int) []Point {
	if n >= len(t.Points) {
		return t.Points
	}
	return t.Points[len(t.Points)-n:]
}
