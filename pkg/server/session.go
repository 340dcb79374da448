package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/apid/pkg/core"
	"github.com/vango-dev/apid/pkg/protocol"
)

// SessionState is the lifecycle state of a Session.
type SessionState int32

const (
	StateOpening SessionState = iota
	StateActive
	StateClosing
	StateClosed
)

// String returns the string representation of the state.
func (s SessionState) String() string {
	switch s {
	case StateOpening:
		return "Opening"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// SessionDeps is what a session needs from the daemon.
type SessionDeps struct {
	Registry   *core.Registry
	Context    *core.SessionContext
	Policy     *core.PermissionPolicy
	Middleware []core.Middleware
	Observer   SessionObserver
	Limits     protocol.DecoderLimits
	Logger     *slog.Logger
}

// instance is one service instance of a session.
type instance struct {
	desc    *core.ServiceDescriptor
	service core.Service
	support *core.SessionSupport
	handler core.RequestHandler
}

// Session routes the frames of one client connection.
type Session struct {
	// Identity
	ID        uint32
	CreatedAt time.Time
	Origin    *core.OriginAttributes

	state  atomic.Int32
	sender *core.MessageSender
	deps   SessionDeps

	mu        sync.Mutex // guards instances
	instances map[uint32]*instance

	// Stats
	received atomic.Uint64
	dropped  atomic.Uint64

	onClose func(*Session)
	logger  *slog.Logger
}

// NewSession creates a session in StateOpening with a no-op emitter.
func NewSession(id uint32, origin *core.OriginAttributes, deps SessionDeps) *Session {
	if deps.Registry == nil {
		deps.Registry = core.NewRegistry()
	}
	if deps.Context == nil {
		deps.Context = core.NewSessionContext()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Limits == (protocol.DecoderLimits{}) {
		deps.Limits = protocol.DefaultDecoderLimits()
	}
	if origin == nil {
		origin = core.NewOriginAttributes("anonymous", nil)
	}

	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		Origin:    origin,
		sender:    core.NewMessageSender(nil),
		deps:      deps,
		instances: make(map[uint32]*instance),
		logger:    deps.Logger.With("session_id", id),
	}
	s.state.Store(int32(StateOpening))
	return s
}

// State returns the current state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// IsActive reports whether the session routes requests.
func (s *Session) IsActive() bool {
	return s.State() == StateActive
}

// Sender returns the sender shared by every service instance.
func (s *Session) Sender() *core.MessageSender {
	return s.sender
}

// Logger returns the session's logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// ReplaceSender attaches e as the emitter and activates an opening session.
func (s *Session) ReplaceSender(e core.MessageEmitter) {
	s.sender.Replace(e)
	if s.state.CompareAndSwap(int32(StateOpening), int32(StateActive)) {
		s.logger.Debug("session active", "identity", s.Origin.Identity())
		if s.deps.Observer != nil {
			s.deps.Observer.SessionOpened(s)
		}
	}
}

// Stats returns the number of frames received and dropped.
func (s *Session) Stats() (received, dropped uint64) {
	return s.received.Load(), s.dropped.Load()
}

// ServiceIDs returns the ids of the instantiated services, ascending.
func (s *Session) ServiceIDs() []uint32 {
	s.mu.Lock()
	ids := make([]uint32, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OnMessage handles one inbound binary frame. It never blocks on services:
// long-running work is their own to schedule.
func (s *Session) OnMessage(data []byte) {
	s.received.Add(1)

	if !s.IsActive() {
		s.drop(DropInactive)
		return
	}

	msg, err := protocol.DecodeMessageWithLimits(data, s.deps.Limits)
	if err != nil {
		s.logger.Warn("dropping malformed frame",
			"kind", protocol.KindOf(err).String(),
			"size", len(data),
			"error", err)
		s.drop(DropDecode)
		return
	}

	if msg.Kind != protocol.KindRequest {
		s.logger.Warn("dropping non-request frame",
			"kind", msg.Kind.String(),
			"service", msg.ServiceID)
		s.drop(DropUnexpectedKind)
		return
	}

	if msg.ServiceID == protocol.CoreServiceID {
		s.handleCore(msg)
		return
	}

	inst, err := s.serviceInstance(msg.ServiceID)
	if err != nil {
		s.dropInstanceError(msg, err)
		return
	}
	s.dispatch(inst, msg)
}

func (s *Session) drop(reason DropReason) {
	s.dropped.Add(1)
	if s.deps.Observer != nil {
		s.deps.Observer.MessageDropped(s, reason)
	}
}

func (s *Session) dropInstanceError(msg *protocol.BaseMessage, err error) {
	switch {
	case errors.Is(err, ErrUnknownService):
		s.logger.Warn("request for unknown service dropped",
			"service", msg.ServiceID, "request", msg.RequestID)
		s.drop(DropUnknownService)
	case errors.Is(err, ErrServiceUnavailable):
		s.logger.Info("service unavailable for session, request dropped",
			"service", msg.ServiceID, "request", msg.RequestID)
		s.drop(DropUnavailable)
	case errors.Is(err, ErrSessionClosed):
		s.drop(DropInactive)
	case core.IsFatal(err):
		s.fatal(err)
	default:
		s.logger.Error("service creation failed",
			"service", msg.ServiceID, "error", err)
		s.drop(DropUnavailable)
	}
}

// serviceInstance returns the session's instance of service id, creating it on
// first use.
func (s *Session) serviceInstance(id uint32) (*instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateActive {
		return nil, ErrSessionClosed
	}
	if inst, ok := s.instances[id]; ok {
		return inst, nil
	}

	desc, ok := s.deps.Registry.ByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownService, id)
	}

	support := core.NewSessionSupport(s.ID, id, s.sender, s.logger.With("service", desc.Name))
	svc, err := desc.Factory.Create(s.Origin, s.deps.Context, support)
	if err != nil {
		return nil, NewSessionError(s.ID, "create "+desc.Name, err)
	}
	if svc == nil {
		return nil, fmt.Errorf("%w: %s", ErrServiceUnavailable, desc.Name)
	}

	inst := &instance{
		desc:    desc,
		service: svc,
		support: support,
		handler: core.Chain(svc.OnRequest, s.deps.Middleware...),
	}
	s.instances[id] = inst
	s.logger.Debug("service instance created", "service", desc.Name, "service_id", id)
	return inst, nil
}

// lookup returns an existing instance without creating one.
func (s *Session) lookup(id uint32) (*instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	return inst, ok
}

func (s *Session) dispatch(inst *instance, msg *protocol.BaseMessage) {
	req := &core.Request{
		Message:   msg,
		Origin:    s.Origin,
		Policy:    s.deps.Policy,
		Support:   inst.support,
		Responder: core.NewResponder(s.sender, msg, inst.support.Logger()),
		Service:   inst.desc.Name,
	}

	// Requests are not cancelled when the session closes; responses to a
	// closed session are dropped by the emitter.
	err := s.safeExecute(inst, req)
	if err == nil {
		return
	}
	if core.IsFatal(err) {
		s.fatal(err)
		return
	}
	inst.support.Logger().Warn("request failed",
		"request", msg.RequestID, "error", err)
}

// safeExecute runs the handler chain, converting a panic into an error.
func (s *Session) safeExecute(inst *instance, req *core.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			inst.support.Logger().Error("service panic",
				"request", req.Message.RequestID,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("panic in %s: %v", inst.desc.Name, r)
		}
	}()
	return inst.handler(context.Background(), req)
}

func (s *Session) fatal(err error) {
	s.logger.Error("fatal service error, closing session", "error", err)
	s.Close()
}

// handleCore answers a request to service id 0.
func (s *Session) handleCore(msg *protocol.BaseMessage) {
	req, err := core.DecodeCoreRequest(msg.Content)
	if err != nil {
		s.logger.Warn("dropping malformed core request",
			"kind", protocol.KindOf(err).String(), "error", err)
		s.drop(DropDecode)
		return
	}

	responder := core.NewResponder(s.sender, msg, s.logger)

	switch r := req.(type) {
	case *core.GetServiceRequest:
		s.getService(r, responder)
	case *core.ReleaseObjectRequest:
		_ = responder.Send(core.CoreResult(r, s.ReleaseObject(r.ServiceID, r.ObjectID)))
	case *core.EventRequest:
		ok, err := s.toggleEvent(r)
		if err != nil && core.IsFatal(err) {
			s.fatal(err)
			return
		}
		if err != nil {
			s.logger.Warn("event request failed",
				"service", r.ServiceID, "object", r.ObjectID, "event", r.Event, "error", err)
		}
		_ = responder.Send(core.CoreResult(r, ok))
	}
}

func (s *Session) getService(r *core.GetServiceRequest, responder *core.Responder) {
	desc, ok := s.deps.Registry.ByName(r.Name)
	if !ok {
		s.logger.Info("get service: unknown name", "name", r.Name)
		_ = responder.Send(core.CoreResult(r, false))
		return
	}
	if r.Fingerprint != "" && desc.Fingerprint != "" && r.Fingerprint != desc.Fingerprint {
		s.logger.Warn("get service: fingerprint mismatch",
			"name", r.Name, "want", desc.Fingerprint, "got", r.Fingerprint)
		_ = responder.Send(core.CoreResult(r, false))
		return
	}

	if _, err := s.serviceInstance(desc.ID); err != nil {
		if core.IsFatal(err) {
			s.fatal(err)
			return
		}
		s.logger.Info("get service: not created", "name", r.Name, "error", err)
		_ = responder.Send(core.CoreResult(r, false))
		return
	}
	_ = responder.Send(&core.CoreResponse{Tag: core.CoreGetServiceSuccess, ServiceID: desc.ID})
}

// ReleaseObject releases objectID in the session's instance of serviceID.
// It reports false when either is unknown.
func (s *Session) ReleaseObject(serviceID, objectID uint32) bool {
	inst, ok := s.lookup(serviceID)
	if !ok {
		return false
	}
	return inst.service.ReleaseObject(objectID)
}

func (s *Session) toggleEvent(r *core.EventRequest) (bool, error) {
	inst, ok := s.lookup(r.ServiceID)
	if !ok {
		return false, nil
	}
	src, ok := inst.service.(core.EventSource)
	if !ok {
		return false, nil
	}
	if r.Enable {
		return src.EnableEvent(r.ObjectID, r.Event)
	}
	return src.DisableEvent(r.ObjectID, r.Event)
}

// Close tears the session down. It is safe to call more than once and from
// any goroutine; only the first call has an effect.
func (s *Session) Close() {
	var wasActive bool
	for {
		st := s.State()
		if st == StateClosing || st == StateClosed {
			return
		}
		if s.state.CompareAndSwap(int32(st), int32(StateClosing)) {
			wasActive = st == StateActive
			break
		}
	}

	s.mu.Lock()
	insts := make([]*instance, 0, len(s.instances))
	for _, inst := range s.instances {
		insts = append(insts, inst)
	}
	s.instances = make(map[uint32]*instance)
	s.mu.Unlock()

	sort.Slice(insts, func(i, j int) bool { return insts[i].desc.ID < insts[j].desc.ID })
	for _, inst := range insts {
		for _, id := range inst.service.TrackedObjects() {
			inst.service.ReleaseObject(id)
		}
		if err := inst.service.Close(); err != nil {
			inst.support.Logger().Warn("service close failed", "error", err)
		}
	}

	s.state.Store(int32(StateClosed))

	if err := s.sender.Close(); err != nil {
		s.logger.Debug("transport close failed", "error", err)
	}

	received, dropped := s.Stats()
	s.logger.Info("session closed",
		"services", len(insts),
		"received", received,
		"dropped", dropped,
		"duration", time.Since(s.CreatedAt).Round(time.Millisecond))

	if wasActive && s.deps.Observer != nil {
		s.deps.Observer.SessionClosed(s)
	}
	if s.onClose != nil {
		s.onClose(s)
	}
}
