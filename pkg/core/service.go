package core

import (
	"context"

	"github.com/vango-dev/apid/pkg/protocol"
)

// Service is one service instance owned by one session.
type Service interface {
	// OnRequest handles one decoded request and arranges for exactly one
	// response through req.Responder, now or later from a worker. A
	// returned error means the request could not be dispatched; errors for
	// which IsFatal is true close the session.
	OnRequest(ctx context.Context, req *Request) error

	// ReleaseObject drops the object the client released, together with
	// any registrations tied to it.
	ReleaseObject(objectID uint32) bool

	// TrackedObjects lists the ids of objects the instance still tracks.
	TrackedObjects() []uint32

	// Close unregisters everything the instance registered in shared state.
	Close() error
}

// EventSource is implemented by services whose events a client can turn on
// and off.
type EventSource interface {
	EnableEvent(objectID uint32, event EventID) (bool, error)
	DisableEvent(objectID uint32, event EventID) (bool, error)
}

// ServiceFactory creates a Service for a session. It returns nil, nil when
// the session does not meet the service's preconditions.
type ServiceFactory interface {
	Create(origin *OriginAttributes, ctx *SessionContext, support *SessionSupport) (Service, error)
}

// ServiceFactoryFunc adapts a function to ServiceFactory.
type ServiceFactoryFunc func(origin *OriginAttributes, ctx *SessionContext, support *SessionSupport) (Service, error)

// Create calls f.
func (f ServiceFactoryFunc) Create(origin *OriginAttributes, ctx *SessionContext, support *SessionSupport) (Service, error) {
	return f(origin, ctx, support)
}

// Request is one request routed to a service instance.
type Request struct {
	Message   *protocol.BaseMessage
	Origin    *OriginAttributes
	Policy    *PermissionPolicy
	Support   *SessionSupport
	Responder *Responder

	// Service is the service's registered name, for logs and metrics.
	Service string
}

// Authorize checks perm and, when it is missing, sends the permission
// denied response. Callers return immediately when it reports false.
func (r *Request) Authorize(perm, operation string) bool {
	if r.Policy.Allowed(r.Origin, perm) {
		return true
	}
	r.Support.Logger().Info("permission denied",
		"identity", r.Origin.Identity(), "permission", perm, "operation", operation)
	_ = r.Responder.PermissionDenied(perm, operation)
	return false
}

// RequestHandler handles a routed request.
type RequestHandler func(ctx context.Context, req *Request) error

// Middleware wraps a RequestHandler.
type Middleware func(next RequestHandler) RequestHandler

// Chain composes middleware so the first one is outermost.
func Chain(h RequestHandler, mws ...Middleware) RequestHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
