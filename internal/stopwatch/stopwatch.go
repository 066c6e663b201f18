package stopwatch

import (
	"sync"
	"time"
)

// Stopwatch measures recording time, excluding the spans it was stopped for.
type Stopwatch struct {
	mu  sync.Mutex
	now func() time.Time

	// start is shifted forward on every resume, so it is not the true start time.
	start   time.Time
	stopped time.Time
}

// New creates a stopwatch using the wall clock.
func New() *Stopwatch {
	return NewWithClock(time.Now)
}

// NewWithClock creates a stopwatch reading time from now.
func NewWithClock(now func() time.Time) *Stopwatch {
	return &Stopwatch{now: now}
}

// Reset clears all accumulated time.
func (s *Stopwatch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Stopwatch) reset() {
	s.start = time.Time{}
	s.stopped = time.Time{}
}

// Start begins timing, or resumes after Stop.
func (s *Stopwatch) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resume()
}

func (s *Stopwatch) resume() {
	now := s.now()
	if s.start.IsZero() {
		s.start = now
	}
	if !s.stopped.IsZero() {
		s.start = s.start.Add(now.Sub(s.stopped))
		s.stopped = time.Time{}
	}
}

// ResetAndStart clears the stopwatch and starts it again.
func (s *Stopwatch) ResetAndStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.resume()
}

// Stop freezes the elapsed time. Stopping twice keeps the first stop time.
func (s *Stopwatch) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.IsZero() {
		s.stopped = s.now()
	}
}

// Elapsed returns the accumulated running time.
func (s *Stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.start.IsZero() {
		return 0
	}
	if !s.stopped.IsZero() {
		return s.stopped.Sub(s.start)
	}
	return s.now().Sub(s.start)
}
