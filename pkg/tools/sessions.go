package tools

import (
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/geometry"
	"github.com/NERVsystems/streetglow/pkg/schedule"
)

// DefaultMaxSessions bounds the number of open draw sessions
const DefaultMaxSessions = 32

// session is one client's draw progress over an extracted scene.
// mu serializes Advance so the scheduler keeps a single writer.
type session struct {
	mu     sync.Mutex
	source string
	sched  *schedule.Scheduler
	glow   schedule.Glow
}

// Sessions holds draw sessions; the least recently used is evicted when full
type Sessions struct {
	cache *lru.Cache[string, *session]
	next  atomic.Uint64
}

// NewSessions creates a session store holding at most max sessions
func NewSessions(max int) *Sessions {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	c, err := lru.New[string, *session](max)
	if err != nil {
		// only reachable with a non-positive size
		panic(err)
	}
	return &Sessions{cache: c}
}

// Open registers a new scheduler over segments and returns its id
func (s *Sessions) Open(source string, segments []geometry.Segment) string {
	id := fmt.Sprintf("draw-%d", s.next.Add(1))
	s.cache.Add(id, &session{source: source, sched: schedule.New(segments)})
	return id
}

// Len returns the number of open sessions
func (s *Sessions) Len() int {
	return s.cache.Len()
}

func (s *Sessions) get(id string) (*session, error) {
	sess, ok := s.cache.Get(id)
	if !ok {
		return nil, core.Errorf(core.ErrCodeNotFound, "unknown draw session %q", id).
			WithGuidance("Call extract_segments first; sessions expire when too many are open.")
	}
	return sess, nil
}
