package core

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/vango-dev/apid/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var errDeadChannel = errors.New("dead channel")

// recordingEmitter captures everything sent through it.
type recordingEmitter struct {
	mu     sync.Mutex
	sent   []Outbound
	dead   bool
	closed bool
}

func (r *recordingEmitter) SendRaw(msg Outbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return errDeadChannel
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingEmitter) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recordingEmitter) messages() []*protocol.BaseMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*protocol.BaseMessage, 0, len(r.sent))
	for _, o := range r.sent {
		m, err := protocol.DecodeMessage(o.Payload)
		if err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}

func newTestSupport(sessionID, serviceID uint32, e MessageEmitter) *SessionSupport {
	return NewSessionSupport(sessionID, serviceID, NewMessageSender(e), testLogger())
}
