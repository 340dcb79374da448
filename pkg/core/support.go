package core

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// TrackerID names one service instance of one session: the session id in
// the high 32 bits, the service id in the low 32.
type TrackerID uint64

// NewTrackerID combines a session and a service id.
func NewTrackerID(session, service uint32) TrackerID {
	return TrackerID(uint64(session)<<32 | uint64(service))
}

// Session returns the session id.
func (t TrackerID) Session() uint32 { return uint32(t >> 32) }

// Service returns the service id.
func (t TrackerID) Service() uint32 { return uint32(t) }

// String returns "session/service".
func (t TrackerID) String() string {
	return fmt.Sprintf("%d/%d", t.Session(), t.Service())
}

// SessionSupport is what a session hands to each service instance it
// creates.
type SessionSupport struct {
	tracker TrackerID
	sender  *MessageSender
	logger  *slog.Logger
}

// NewSessionSupport creates the support for service serviceID of session
// sessionID.
func NewSessionSupport(sessionID, serviceID uint32, sender *MessageSender, logger *slog.Logger) *SessionSupport {
	if logger == nil {
		logger = slog.Default()
	}
	tracker := NewTrackerID(sessionID, serviceID)
	return &SessionSupport{
		tracker: tracker,
		sender:  sender,
		logger:  logger.With("tracker", tracker.String()),
	}
}

// TrackerID returns the instance's tracker id.
func (s *SessionSupport) TrackerID() TrackerID { return s.tracker }

// SessionID returns the owning session's id.
func (s *SessionSupport) SessionID() uint32 { return s.tracker.Session() }

// ServiceID returns the service id.
func (s *SessionSupport) ServiceID() uint32 { return s.tracker.Service() }

// Sender returns the session's shared sender.
func (s *SessionSupport) Sender() *MessageSender { return s.sender }

// Logger returns a logger tagged with the tracker id.
func (s *SessionSupport) Logger() *slog.Logger { return s.logger }

// SessionContext is a key/value store shared by every session of the
// daemon.
type SessionContext struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSessionContext creates an empty context.
func NewSessionContext() *SessionContext {
	return &SessionContext{values: make(map[string]string)}
}

// Get returns the value stored under key.
func (c *SessionContext) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores value under key.
func (c *SessionContext) Set(key, value string) {
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
}

// Delete removes key.
func (c *SessionContext) Delete(key string) {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
}

// DeletePrefix removes every key starting with prefix.
func (c *SessionContext) DeletePrefix(prefix string) {
	c.mu.Lock()
	for k := range c.values {
		if strings.HasPrefix(k, prefix) {
			delete(c.values, k)
		}
	}
	c.mu.Unlock()
}

// Len returns the number of stored keys.
func (c *SessionContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}
