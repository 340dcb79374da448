package server

import (
	"errors"
	"testing"
)

func TestSessionError(t *testing.T) {
	err := NewSessionError(12, "create settings", ErrServiceUnavailable)

	if got, want := err.Error(), "session 12: create settings: server: service unavailable for session"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Error("errors.Is should match the wrapped error")
	}

	bare := &SessionError{SessionID: 3, Err: ErrSessionClosed}
	if got, want := bare.Error(), "session 3: server: session closed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
