package server

import (
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
)

// Session groups handles and carries default arguments for evaluations made
// in it.
type Session struct {
	ID   string
	Name string
	Args map[string]any
}

// SessionStore manages sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	nextID   atomic.Uint64
	handles  *HandleStore
}

// NewSessionStore creates a new session store.
func NewSessionStore(handles *HandleStore) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		handles:  handles,
	}
}

// Create creates a new session with an optional name and default args.
func (s *SessionStore) Create(name string, args map[string]any) *Session {
	id := fmt.Sprintf("s-%d", s.nextID.Add(1))

	session := &Session{
		ID:   id,
		Name: name,
		Args: maps.Clone(args),
	}

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	return session
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

// Destroy removes a session and releases all its handles.
func (s *SessionStore) Destroy(id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	s.handles.ReleaseSession(id)
	return ok
}

// mergeArgs overlays call args on the session defaults.
func (s *Session) mergeArgs(args map[string]any) map[string]any {
	if s == nil || len(s.Args) == 0 {
		return args
	}
	out := maps.Clone(s.Args)
	maps.Copy(out, args)
	return out
}
