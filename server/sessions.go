package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-trend-analyzer/metrics"
	"github.com/brettboylen/reddit-trend-analyzer/viewstate"
)

// ControllerFactory builds the controller for a new session
type ControllerFactory func() *viewstate.Controller

// Session is one browser's analyzer view
type Session struct {
	ID         string
	Controller *viewstate.Controller

	lastSeen    time.Time
	subscribers atomic.Int32
}

// SessionStore keeps the live sessions and expires idle ones
type SessionStore struct {
	newController ControllerFactory
	idleTTL       time.Duration
	sessions      map[string]*Session
	now           func() time.Time
	log           *logrus.Logger
	mutex         sync.RWMutex
}

// NewSessionStore creates an empty store
func NewSessionStore(newController ControllerFactory, idleTTL time.Duration, log *logrus.Logger) *SessionStore {
	return &SessionStore{
		newController: newController,
		idleTTL:       idleTTL,
		sessions:      make(map[string]*Session),
		now:           time.Now,
		log:           log,
	}
}

// Create starts a new idle session
func (s *SessionStore) Create() *Session {
	session := &Session{
		ID:         uuid.NewString(),
		Controller: s.newController(),
	}

	s.mutex.Lock()
	session.lastSeen = s.now()
	s.sessions[session.ID] = session
	s.mutex.Unlock()

	metrics.SessionsActive.Inc()
	s.log.WithField("session_id", session.ID).Debug("Session created")
	return session
}

// Get returns the session and marks it as used
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, false
	}
	session.lastSeen = s.now()
	return session, true
}

// Delete removes a session; it reports whether the session existed
func (s *SessionStore) Delete(id string) bool {
	s.mutex.Lock()
	_, exists := s.sessions[id]
	delete(s.sessions, id)
	s.mutex.Unlock()

	if exists {
		metrics.SessionsActive.Dec()
		s.log.WithField("session_id", id).Debug("Session deleted")
	}
	return exists
}

// Len returns the number of live sessions
func (s *SessionStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sessions)
}

// Sweep removes sessions idle for longer than the TTL. Sessions with an open
// event stream are never idle.
func (s *SessionStore) Sweep() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cutoff := s.now().Add(-s.idleTTL)
	removed := 0
	for id, session := range s.sessions {
		if session.subscribers.Load() > 0 {
			session.lastSeen = s.now()
			continue
		}
		if session.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}

	if removed > 0 {
		metrics.SessionsActive.Sub(float64(removed))
		s.log.WithFields(logrus.Fields{
			"removed":   removed,
			"remaining": len(s.sessions),
		}).Info("Expired idle sessions")
	}
	return removed
}

// Start sweeps idle sessions until ctx is cancelled
func (s *SessionStore) Start(ctx context.Context) error {
	interval := s.idleTTL / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep()
		}
	}
}
