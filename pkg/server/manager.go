package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vango-dev/apid/pkg/core"
)

// SessionManager tracks all live sessions and assigns their ids.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[uint32]*Session
	peak     int
	closed   bool

	ids         *core.IDFactory
	deps        SessionDeps
	maxSessions int

	totalCreated atomic.Uint64
	totalClosed  atomic.Uint64

	onSessionCreate func(*Session)
	onSessionClose  func(*Session)

	logger *slog.Logger
}

// ManagerStats is a snapshot of manager counters.
type ManagerStats struct {
	Active       int
	TotalCreated uint64
	TotalClosed  uint64
	Peak         int
}

// NewSessionManager creates a manager whose sessions share deps.
// maxSessions of 0 means no limit.
func NewSessionManager(deps SessionDeps, maxSessions int, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	return &SessionManager{
		sessions:    make(map[uint32]*Session),
		ids:         core.NewIDFactory(1),
		deps:        deps,
		maxSessions: maxSessions,
		logger:      logger.With("component", "session_manager"),
	}
}

// Create registers a new session for origin. The session is in
// StateOpening until a transport is attached with ReplaceSender.
func (sm *SessionManager) Create(origin *core.OriginAttributes) (*Session, error) {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return nil, ErrServerClosed
	}
	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		sm.mu.Unlock()
		sm.logger.Warn("session limit reached", "max_sessions", sm.maxSessions)
		return nil, ErrMaxSessionsReached
	}
	id, err := sm.ids.Next()
	if err != nil {
		sm.mu.Unlock()
		return nil, err
	}

	session := NewSession(id, origin, sm.deps)
	session.onClose = sm.remove
	sm.sessions[id] = session
	if len(sm.sessions) > sm.peak {
		sm.peak = len(sm.sessions)
	}
	active := len(sm.sessions)
	sm.mu.Unlock()

	sm.totalCreated.Add(1)
	sm.logger.Info("session created",
		"session_id", id,
		"identity", session.Origin.Identity(),
		"active_sessions", active)

	if sm.onSessionCreate != nil {
		sm.onSessionCreate(session)
	}
	return session, nil
}

func (sm *SessionManager) remove(s *Session) {
	sm.mu.Lock()
	_, ok := sm.sessions[s.ID]
	delete(sm.sessions, s.ID)
	sm.mu.Unlock()

	if !ok {
		return
	}
	sm.totalClosed.Add(1)
	if sm.onSessionClose != nil {
		sm.onSessionClose(s)
	}
}

// Get returns a session by id, or nil.
func (sm *SessionManager) Get(id uint32) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Close closes and removes a session.
func (sm *SessionManager) Close(id uint32) {
	if s := sm.Get(id); s != nil {
		s.Close()
	}
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Shutdown closes every session and refuses new ones.
func (sm *SessionManager) Shutdown() {
	sm.ShutdownWithContext(context.Background())
}

// ShutdownWithContext closes every session concurrently, returning early
// with ctx's error if it expires first.
func (sm *SessionManager) ShutdownWithContext(ctx context.Context) error {
	sm.mu.Lock()
	sm.closed = true
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.Unlock()

	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(session)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sm.logger.Warn("session manager shutdown timed out", "sessions", len(sessions))
		return ctx.Err()
	}

	sm.logger.Info("session manager shutdown", "closed_sessions", len(sessions))
	return nil
}

// Stats returns aggregated session statistics.
func (sm *SessionManager) Stats() ManagerStats {
	sm.mu.RLock()
	active := len(sm.sessions)
	peak := sm.peak
	sm.mu.RUnlock()

	return ManagerStats{
		Active:       active,
		TotalCreated: sm.totalCreated.Load(),
		TotalClosed:  sm.totalClosed.Load(),
		Peak:         peak,
	}
}

// ForEach iterates over all sessions until fn returns false.
// The callback should not perform long-running operations as it holds the read lock.
func (sm *SessionManager) ForEach(fn func(*Session) bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, s := range sm.sessions {
		if !fn(s) {
			return
		}
	}
}

// SetOnSessionCreate sets a callback run after a session is created.
func (sm *SessionManager) SetOnSessionCreate(fn func(*Session)) {
	sm.onSessionCreate = fn
}

// SetOnSessionClose sets a callback run after a session is closed.
func (sm *SessionManager) SetOnSessionClose(fn func(*Session)) {
	sm.onSessionClose = fn
}
