package session

import (
	"sync"
	"time"
)

// Registry holds the live sessions of the server, one per page load.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s under its ID, replacing any session with the same ID.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep drops the sessions idle for longer than maxIdle and returns how many were dropped. A session with
// a reply in flight is never idle.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	n := 0
	for id, s := range r.sessions {
		if s.Loading() || s.LastActive().After(cutoff) {
			continue
		}
		delete(r.sessions, id)
		n++
	}
	return n
}

// Close stops every reply in flight and waits for their goroutines to return.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		s.Stop()
	}
	for _, s := range r.sessions {
		s.Wait()
	}
}
