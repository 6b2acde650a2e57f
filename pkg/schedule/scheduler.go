// Package schedule releases extracted segments in bounded batches so a render
// loop never has to take on a whole city in one tick.
package schedule

import (
	"sync"

	"github.com/NERVsystems/streetglow/pkg/geometry"
)

// Progress reports how far a scheduler has advanced
type Progress struct {
	Cursor int `json:"cursor"`
	Total  int `json:"total"`
}

// Done reports whether every segment has been released
func (p Progress) Done() bool {
	return p.Cursor == p.Total
}

// Fraction is the released share in [0, 1]. An empty sequence is complete.
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Cursor) / float64(p.Total)
}

// Scheduler hands out an immutable segment sequence in order. It has a single
// owner; only the completion signal is safe to observe from other goroutines.
type Scheduler struct {
	segments []geometry.Segment
	cursor   int

	completed chan struct{}
	closeOnce sync.Once
}

// New creates a scheduler over segments. An empty sequence starts complete.
func New(segments []geometry.Segment) *Scheduler {
	s := &Scheduler{
		segments:  segments,
		completed: make(chan struct{}),
	}
	if len(segments) == 0 {
		s.markComplete()
	}
	return s
}

// Advance returns the next batch of at most batch segments. Once every segment
// has been released it returns nil. A non-positive batch releases nothing.
func (s *Scheduler) Advance(batch int) []geometry.Segment {
	if batch <= 0 || s.Done() {
		return nil
	}

	end := min(len(s.segments), s.cursor+batch)
	out := s.segments[s.cursor:end:end]
	s.cursor = end

	if s.cursor == len(s.segments) {
		s.markComplete()
	}
	return out
}

// Progress returns the current cursor and total
func (s *Scheduler) Progress() Progress {
	return Progress{Cursor: s.cursor, Total: len(s.segments)}
}

// Done reports whether the scheduler is complete
func (s *Scheduler) Done() bool {
	return s.cursor == len(s.segments)
}

// Completed is closed once, when the last segment has been released
func (s *Scheduler) Completed() <-chan struct{} {
	return s.completed
}

func (s *Scheduler) markComplete() {
	s.closeOnce.Do(func() { close(s.completed) })
}

// Glow is a post-completion animation counter. The consumer ticks it once per
// frame after the scheduler completes; the value has no meaning to the core.
type Glow struct {
	amount uint32
}

// Tick advances the counter and returns the new value
func (g *Glow) Tick() uint32 {
	g.amount++
	return g.amount
}

// Amount returns the current value
func (g *Glow) Amount() uint32 {
	return g.amount
}
