package core

import (
	"log/slog"
	"sync/atomic"

	"github.com/vango-dev/apid/pkg/protocol"
)

// Responder sends the single response owed to one request. It may be
// used from any goroutine.
type Responder struct {
	sender  *MessageSender
	request *protocol.BaseMessage
	sent    atomic.Bool
	logger  *slog.Logger
}

// NewResponder binds a responder to req.
func NewResponder(sender *MessageSender, req *protocol.BaseMessage, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{sender: sender, request: req, logger: logger}
}

// Send emits payload as the response. Only the first call sends; later
// calls are logged and return ErrAlreadyResponded. Delivery failures are
// logged and returned.
func (r *Responder) Send(payload protocol.Encodable) error {
	if !r.sent.CompareAndSwap(false, true) {
		r.logger.Warn("duplicate response dropped",
			"service", r.request.ServiceID, "request", r.request.RequestID)
		return ErrAlreadyResponded
	}
	msg := protocol.NewResponse(r.request, protocol.Marshal(payload))
	if err := r.sender.SendMessage(msg); err != nil {
		r.logger.Debug("response not delivered",
			"service", r.request.ServiceID, "request", r.request.RequestID, "error", err)
		return err
	}
	return nil
}

// Respond sends a tagged variant as the response.
func (r *Responder) Respond(tag uint32, payload protocol.Encodable) error {
	return r.Send(protocol.Tagged{Tag: tag, Payload: payload})
}

// PermissionDenied sends the permission-denied variant naming perm.
func (r *Responder) PermissionDenied(perm, message string) error {
	return r.Respond(protocol.TagPermissionDenied, &protocol.PermissionError{
		Permission: perm,
		Message:    message,
	})
}

// Sent reports whether a response has been sent.
func (r *Responder) Sent() bool {
	return r.sent.Load()
}
