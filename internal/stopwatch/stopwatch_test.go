package stopwatch

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestStopwatch_NotStarted(t *testing.T) {
	sw := New()
	if got := sw.Elapsed(); got != 0 {
		t.Errorf("Expected 0 elapsed before start, got %v", got)
	}
}

func TestStopwatch_PauseResume(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	sw := NewWithClock(clock.now)

	sw.ResetAndStart()
	clock.advance(2 * time.Second)
	if got := sw.Elapsed(); got != 2*time.Second {
		t.Fatalf("Expected 2s, got %v", got)
	}

	sw.Stop()
	clock.advance(5 * time.Second)
	if got := sw.Elapsed(); got != 2*time.Second {
		t.Errorf("Expected elapsed frozen at 2s while stopped, got %v", got)
	}

	// A second stop must not move the stop time
	sw.Stop()
	sw.Start()
	clock.advance(3 * time.Second)
	if got := sw.Elapsed(); got != 5*time.Second {
		t.Errorf("Expected 5s after resume, got %v", got)
	}
}

func TestStopwatch_ResetAndStart(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	sw := NewWithClock(clock.now)

	sw.Start()
	clock.advance(10 * time.Second)
	sw.Stop()

	sw.ResetAndStart()
	clock.advance(time.Second)
	if got := sw.Elapsed(); got != time.Second {
		t.Errorf("Expected 1s after reset, got %v", got)
	}

	sw.Reset()
	if got := sw.Elapsed(); got != 0 {
		t.Errorf("Expected 0 after reset, got %v", got)
	}
}
