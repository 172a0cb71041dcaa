package session

import "sync"

// Store holds the single live session of the process. Readers never block
// each other; writers are serialized.
type Store struct {
	mu      sync.RWMutex
	current *Session
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Current returns a copy of the live session, or nil when anonymous.
func (s *Store) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// PrincipalID returns the live principal identifier, or "" when anonymous.
func (s *Store) PrincipalID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.PrincipalID
}

// Publish replaces the live session and returns the previous principal id.
func (s *Store) Publish(sess *Session) (previous string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		previous = s.current.PrincipalID
	}
	s.current = sess.Clone()
	return previous
}

// Clear drops the live session.
func (s *Store) Clear() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}
