package server

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/vango-dev/apid/pkg/core"
	"github.com/vango-dev/apid/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingEmitter keeps every outbound unit.
type recordingEmitter struct {
	mu     sync.Mutex
	sent   []core.Outbound
	closed int
}

func (e *recordingEmitter) SendRaw(msg core.Outbound) error {
	e.mu.Lock()
	e.sent = append(e.sent, msg)
	e.mu.Unlock()
	return nil
}

func (e *recordingEmitter) Close() error {
	e.mu.Lock()
	e.closed++
	e.mu.Unlock()
	return nil
}

func (e *recordingEmitter) messages(t *testing.T) []*protocol.BaseMessage {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*protocol.BaseMessage
	for _, o := range e.sent {
		if o.Kind != core.OutboundData {
			continue
		}
		msg, err := protocol.DecodeMessage(o.Payload)
		if err != nil {
			t.Fatalf("emitted frame does not decode: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

// journal records teardown calls across services.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// echoService answers tag 1 by echoing the request content, tag 2 by
// tracking a new object and returning its id, and tag 3 with a fatal error.
type echoService struct {
	name    string
	objects *core.ObjectTracker[string]
	journal *journal
	enabled map[core.EventMapKey]bool
}

func (s *echoService) OnRequest(ctx context.Context, req *core.Request) error {
	d := protocol.NewDecoder(req.Message.Content)
	tag, err := d.ReadTag()
	if err != nil {
		return err
	}
	switch tag {
	case 1:
		rest, err := d.ReadBytes(d.Remaining())
		if err != nil {
			return err
		}
		return req.Responder.Send(protocol.Tagged{Tag: 1, Payload: rawBytes(rest)})
	case 2:
		id, err := s.objects.Track(s.name)
		if err != nil {
			return err
		}
		return req.Responder.Send(protocol.Tagged{Tag: 2, Payload: uint32Value(id)})
	case 3:
		return core.ErrIDSpaceExhausted
	case 4:
		if !req.Authorize("echo:admin", "Admin") {
			return nil
		}
		return req.Responder.Send(protocol.Tagged{Tag: 4, Payload: protocol.Empty{}})
	case 5:
		panic("boom")
	}
	return protocol.InvalidTag("echo", tag)
}

func (s *echoService) ReleaseObject(id uint32) bool {
	ok := s.objects.Release(id)
	if ok && s.journal != nil {
		s.journal.add(s.name + ":release")
	}
	return ok
}

func (s *echoService) TrackedObjects() []uint32 { return s.objects.IDs() }

func (s *echoService) Close() error {
	if s.journal != nil {
		s.journal.add(s.name + ":close")
	}
	return nil
}

func (s *echoService) EnableEvent(objectID uint32, event core.EventID) (bool, error) {
	if event != 1 {
		return false, nil
	}
	s.enabled[core.EventMapKey{ObjectID: objectID, Event: event}] = true
	return true, nil
}

func (s *echoService) DisableEvent(objectID uint32, event core.EventID) (bool, error) {
	key := core.EventMapKey{ObjectID: objectID, Event: event}
	if !s.enabled[key] {
		return false, nil
	}
	delete(s.enabled, key)
	return true, nil
}

type rawBytes []byte

func (b rawBytes) EncodeTo(e *protocol.Encoder) { e.WriteBytes(b) }

type uint32Value uint32

func (v uint32Value) EncodeTo(e *protocol.Encoder) { e.WriteUint32(uint32(v)) }

func echoFactory(name string, j *journal) core.ServiceFactory {
	return core.ServiceFactoryFunc(func(*core.OriginAttributes, *core.SessionContext, *core.SessionSupport) (core.Service, error) {
		return &echoService{
			name:    name,
			objects: core.NewObjectTracker[string](),
			journal: j,
			enabled: make(map[core.EventMapKey]bool),
		}, nil
	})
}

// newTestRegistry registers "echo" (id 1), "other" (id 2) and "declined"
// (id 3), whose factory never creates an instance.
func newTestRegistry(t *testing.T, j *journal) *core.Registry {
	t.Helper()
	reg := core.NewRegistry()
	if _, err := reg.Register("echo", "fp-echo", echoFactory("echo", j)); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register("other", "", echoFactory("other", j)); err != nil {
		t.Fatal(err)
	}
	declined := core.ServiceFactoryFunc(func(*core.OriginAttributes, *core.SessionContext, *core.SessionSupport) (core.Service, error) {
		return nil, nil
	})
	if _, err := reg.Register("declined", "", declined); err != nil {
		t.Fatal(err)
	}
	return reg
}

// request encodes a request frame.
func request(service, reqID uint64, content protocol.Encodable) []byte {
	return protocol.EncodeMessage(&protocol.BaseMessage{
		ServiceID: uint32(service),
		Kind:      protocol.KindRequest,
		RequestID: reqID,
		Content:   protocol.Marshal(content),
	})
}

func coreResponse(t *testing.T, msg *protocol.BaseMessage) *core.CoreResponse {
	t.Helper()
	var resp core.CoreResponse
	if err := protocol.Unmarshal(msg.Content, &resp); err != nil {
		t.Fatalf("core response does not decode: %v", err)
	}
	return &resp
}

// countingObserver counts lifecycle notifications.
type countingObserver struct {
	mu      sync.Mutex
	opened  int
	closed  int
	dropped map[DropReason]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{dropped: make(map[DropReason]int)}
}

func (o *countingObserver) SessionOpened(*Session) {
	o.mu.Lock()
	o.opened++
	o.mu.Unlock()
}

func (o *countingObserver) SessionClosed(*Session) {
	o.mu.Lock()
	o.closed++
	o.mu.Unlock()
}

func (o *countingObserver) MessageDropped(_ *Session, reason DropReason) {
	o.mu.Lock()
	o.dropped[reason]++
	o.mu.Unlock()
}

func (o *countingObserver) drops(reason DropReason) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped[reason]
}

func newActiveSession(t *testing.T, j *journal, obs SessionObserver) (*Session, *recordingEmitter) {
	t.Helper()
	s := NewSession(7, core.NewOriginAttributes("tester", nil), SessionDeps{
		Registry: newTestRegistry(t, j),
		Observer: obs,
		Logger:   testLogger(),
	})
	em := &recordingEmitter{}
	s.ReplaceSender(em)
	return s, em
}
