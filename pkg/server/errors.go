package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for server operations.
var (
	ErrServerClosed       = errors.New("server: server closed")
	ErrSessionClosed      = errors.New("server: session closed")
	ErrConnectionClosed   = errors.New("server: connection closed")
	ErrSendQueueFull      = errors.New("server: send queue full")
	ErrMaxSessionsReached = errors.New("server: maximum sessions reached")
	ErrUnknownService     = errors.New("server: unknown service")
	ErrServiceUnavailable = errors.New("server: service unavailable for session")
	ErrUnexpectedFrame    = errors.New("server: unexpected frame type")
	ErrMissingToken       = errors.New("server: missing token")
	ErrInvalidToken       = errors.New("server: invalid token")
)

// SessionError wraps an error with session context.
type SessionError struct {
	SessionID uint32
	Op        string
	Err       error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("session %d: %s: %v", e.SessionID, e.Op, e.Err)
	}
	return fmt.Sprintf("session %d: %v", e.SessionID, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new SessionError.
func NewSessionError(sessionID uint32, op string, err error) *SessionError {
	return &SessionError{
		SessionID: sessionID,
		Op:        op,
		Err:       err,
	}
}
