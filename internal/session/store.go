package session

import (
	"sort"
	"sync"
)

// Store maps user ids to live sessions. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Get returns the live session for userID
func (s *Store) Get(userID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[userID]
	return session, exists
}

// Put registers session under its user id and returns the session it
// replaced, if any.
func (s *Store) Put(session *Session) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := s.sessions[session.UserID]
	s.sessions[session.UserID] = session
	return replaced
}

// Delete removes session only if it is still the one registered for its user.
func (s *Store) Delete(session *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions[session.UserID] != session {
		return false
	}
	delete(s.sessions, session.UserID)
	return true
}

// Take removes and returns the session registered for userID
func (s *Store) Take(userID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[userID]
	if exists {
		delete(s.sessions, userID)
	}
	return session, exists
}

// Drain removes and returns every session
func (s *Store) Drain() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.sessions = make(map[string]*Session)
	return sessions
}

// Len returns the number of live sessions
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Snapshot returns the live sessions ordered by creation time
func (s *Store) Snapshot() []*Session {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].UserID < sessions[j].UserID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}
