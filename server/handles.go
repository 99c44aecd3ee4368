package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/chainql/bridge"
)

// handle is a server-side reference to a lazy evaluator value.
type handle struct {
	id        string
	value     any
	kind      string
	sessionID string
	created   time.Time
	lastUsed  time.Time
}

// HandleStore maps opaque string IDs to bridge handles (*bridge.Object,
// *bridge.Array, *bridge.Function). A stored handle keeps its evaluator
// value reachable until it is released or swept.
type HandleStore struct {
	mu      sync.Mutex
	handles map[string]*handle
	nextID  atomic.Uint64
}

// NewHandleStore creates a new handle store.
func NewHandleStore() *HandleStore {
	return &HandleStore{handles: make(map[string]*handle)}
}

// Create registers a value and returns an opaque handle ID.
func (s *HandleStore) Create(value any, sessionID string) string {
	id := fmt.Sprintf("h-%d", s.nextID.Add(1))

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.handles[id] = &handle{
		id:        id,
		value:     value,
		kind:      handleKind(value),
		sessionID: sessionID,
		created:   now,
		lastUsed:  now,
	}
	return id
}

// Lookup retrieves the value for a handle and marks it used.
func (s *HandleStore) Lookup(id string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[id]
	if !ok {
		return nil, false
	}
	h.lastUsed = time.Now()
	return h.value, true
}

// Release removes a handle. It reports whether the handle existed.
func (s *HandleStore) Release(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.handles[id]
	delete(s.handles, id)
	return ok
}

// ReleaseSession releases all handles owned by a session.
func (s *HandleStore) ReleaseSession(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, h := range s.handles {
		if h.sessionID == sessionID {
			delete(s.handles, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live handles.
func (s *HandleStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Sweep removes handles that haven't been accessed within the TTL.
func (s *HandleStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, h := range s.handles {
		if h.lastUsed.Before(cutoff) {
			delete(s.handles, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debugf("swept %d expired handles", removed)
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *HandleStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

func handleKind(v any) string {
	switch v.(type) {
	case *bridge.Object:
		return "object"
	case *bridge.Array:
		return "array"
	case *bridge.Function:
		return "function"
	}
	return fmt.Sprintf("%T", v)
}
