package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	now := c.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("RealClock.Now() = %v, want between %v and %v", now, before, after)
	}
}

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2026, 4, 12, 9, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}

	c.Advance(90 * time.Second)
	if got := c.Since(start); got != 90*time.Second {
		t.Errorf("Since(start) = %v, want 90s", got)
	}

	c.Set(start.Add(time.Hour))
	if got := c.Now(); !got.Equal(start.Add(time.Hour)) {
		t.Errorf("Now() after Set = %v", got)
	}
}

func TestMockTickerFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 4, 12, 9, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	ticker := c.NewTicker(time.Minute)

	select {
	case <-ticker.C():
		t.Fatal("ticker fired before interval elapsed")
	default:
	}

	c.Advance(time.Minute)
	select {
	case tick := <-ticker.C():
		if !tick.Equal(start.Add(time.Minute)) {
			t.Errorf("tick = %v, want %v", tick, start.Add(time.Minute))
		}
	default:
		t.Fatal("ticker did not fire after advance")
	}
}

func TestMockTickerStop(t *testing.T) {
	c := NewMockClock(time.Now())
	ticker := c.NewTicker(time.Second)
	ticker.Stop()

	c.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
