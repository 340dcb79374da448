package server

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/vango-dev/apid/pkg/core"
	"github.com/vango-dev/apid/pkg/protocol"
)

func TestSessionStateString(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{StateOpening, "Opening"},
		{StateActive, "Active"},
		{StateClosing, "Closing"},
		{StateClosed, "Closed"},
		{SessionState(42), "Unknown"},
	}
	for _, tc := range tests {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("SessionState(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	obs := newCountingObserver()
	s := NewSession(1, nil, SessionDeps{Logger: testLogger(), Observer: obs})

	if s.State() != StateOpening {
		t.Fatalf("State = %v, want Opening", s.State())
	}
	if s.Origin.Identity() != "anonymous" {
		t.Errorf("Identity = %q, want anonymous", s.Origin.Identity())
	}

	// Frames before the transport is attached are dropped.
	s.OnMessage(request(1, 1, protocol.Empty{}))
	if obs.drops(DropInactive) != 1 {
		t.Errorf("inactive drops = %d, want 1", obs.drops(DropInactive))
	}

	em := &recordingEmitter{}
	s.ReplaceSender(em)
	if s.State() != StateActive {
		t.Fatalf("State = %v, want Active", s.State())
	}

	// Replacing again only swaps the emitter.
	em2 := &recordingEmitter{}
	s.ReplaceSender(em2)
	if obs.opened != 1 {
		t.Errorf("opened = %d, want 1", obs.opened)
	}

	s.Close()
	s.Close()
	if s.State() != StateClosed {
		t.Errorf("State = %v, want Closed", s.State())
	}
	if obs.closed != 1 {
		t.Errorf("closed = %d, want 1", obs.closed)
	}
	if em2.closed != 1 || em.closed != 0 {
		t.Errorf("emitter closes = %d/%d, want 0/1", em.closed, em2.closed)
	}

	s.OnMessage(request(1, 2, protocol.Empty{}))
	if obs.drops(DropInactive) != 2 {
		t.Errorf("inactive drops after close = %d, want 2", obs.drops(DropInactive))
	}
}

func TestGetService(t *testing.T) {
	tests := []struct {
		name        string
		req         core.GetServiceRequest
		wantTag     uint32
		wantService uint32
	}{
		{"by name", core.GetServiceRequest{Name: "echo"}, core.CoreGetServiceSuccess, 1},
		{"matching fingerprint", core.GetServiceRequest{Name: "echo", Fingerprint: "fp-echo"}, core.CoreGetServiceSuccess, 1},
		{"fingerprint mismatch", core.GetServiceRequest{Name: "echo", Fingerprint: "old"}, core.CoreGetServiceReject, 0},
		{"second service", core.GetServiceRequest{Name: "other", Fingerprint: "any"}, core.CoreGetServiceSuccess, 2},
		{"unknown", core.GetServiceRequest{Name: "nope"}, core.CoreGetServiceReject, 0},
		{"declined", core.GetServiceRequest{Name: "declined"}, core.CoreGetServiceReject, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, em := newActiveSession(t, nil, nil)
			req := tc.req
			s.OnMessage(request(0, 9, &req))

			msgs := em.messages(t)
			if len(msgs) != 1 {
				t.Fatalf("responses = %d, want 1", len(msgs))
			}
			if msgs[0].Kind != protocol.KindResponse || msgs[0].RequestID != 9 || msgs[0].ServiceID != 0 {
				t.Errorf("envelope = %+v, want core response to request 9", msgs[0])
			}
			resp := coreResponse(t, msgs[0])
			if resp.Tag != tc.wantTag {
				t.Errorf("Tag = %d, want %d", resp.Tag, tc.wantTag)
			}
			if resp.ServiceID != tc.wantService {
				t.Errorf("ServiceID = %d, want %d", resp.ServiceID, tc.wantService)
			}
		})
	}
}

func TestRequestRoutedToService(t *testing.T) {
	s, em := newActiveSession(t, nil, nil)

	s.OnMessage(request(1, 3, protocol.Tagged{Tag: 1, Payload: rawBytes("hi")}))

	msgs := em.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("responses = %d, want 1", len(msgs))
	}
	if msgs[0].ServiceID != 1 || msgs[0].RequestID != 3 || msgs[0].Kind != protocol.KindResponse {
		t.Errorf("envelope = %+v", msgs[0])
	}
	if want := []byte{1, 'h', 'i'}; !bytes.Equal(msgs[0].Content, want) {
		t.Errorf("Content = % x, want % x", msgs[0].Content, want)
	}
	if ids := s.ServiceIDs(); !reflect.DeepEqual(ids, []uint32{1}) {
		t.Errorf("ServiceIDs = %v, want [1]", ids)
	}
}

func TestUnknownServiceDropped(t *testing.T) {
	obs := newCountingObserver()
	s, em := newActiveSession(t, nil, obs)

	s.OnMessage(request(99, 1, protocol.Tagged{Tag: 1, Payload: rawBytes("x")}))

	if len(em.messages(t)) != 0 {
		t.Error("unknown service got a response")
	}
	if s.State() != StateActive {
		t.Errorf("State = %v, want Active", s.State())
	}
	if obs.drops(DropUnknownService) != 1 {
		t.Errorf("unknown service drops = %d, want 1", obs.drops(DropUnknownService))
	}

	// The session keeps serving.
	s.OnMessage(request(1, 2, protocol.Tagged{Tag: 1, Payload: rawBytes("y")}))
	if len(em.messages(t)) != 1 {
		t.Error("session stopped routing after unknown service")
	}
}

func TestDeclinedServiceDropped(t *testing.T) {
	obs := newCountingObserver()
	s, em := newActiveSession(t, nil, obs)

	s.OnMessage(request(3, 1, protocol.Empty{}))

	if len(em.messages(t)) != 0 {
		t.Error("declined service got a response")
	}
	if obs.drops(DropUnavailable) != 1 {
		t.Errorf("unavailable drops = %d, want 1", obs.drops(DropUnavailable))
	}
}

func TestMalformedFramesDropped(t *testing.T) {
	tests := []struct {
		name   string
		frame  []byte
		reason DropReason
	}{
		{"truncated", []byte{0x01}, DropDecode},
		{"bad kind", []byte{0x01, 0x00, 0x09}, DropDecode},
		{"event kind", protocol.EncodeMessage(&protocol.BaseMessage{ServiceID: 1, Kind: protocol.KindEvent}), DropUnexpectedKind},
		{"response kind", protocol.EncodeMessage(&protocol.BaseMessage{ServiceID: 1, Kind: protocol.KindResponse, RequestID: 1}), DropUnexpectedKind},
		{"bad core request", request(0, 1, protocol.Tagged{Tag: 77, Payload: protocol.Empty{}}), DropDecode},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			obs := newCountingObserver()
			s, em := newActiveSession(t, nil, obs)

			s.OnMessage(tc.frame)

			if obs.drops(tc.reason) != 1 {
				t.Errorf("%s drops = %d, want 1", tc.reason, obs.drops(tc.reason))
			}
			if len(em.messages(t)) != 0 {
				t.Error("malformed frame got a response")
			}
			if s.State() != StateActive {
				t.Errorf("State = %v, want Active", s.State())
			}
			if _, dropped := s.Stats(); dropped != 1 {
				t.Errorf("dropped = %d, want 1", dropped)
			}
		})
	}
}

func TestReleaseObjectTwice(t *testing.T) {
	s, em := newActiveSession(t, nil, nil)

	s.OnMessage(request(1, 1, protocol.Tagged{Tag: 2, Payload: protocol.Empty{}}))
	msgs := em.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("responses = %d, want 1", len(msgs))
	}
	d := protocol.NewDecoder(msgs[0].Content)
	d.ReadTag()
	objectID, err := d.ReadUint32()
	if err != nil {
		t.Fatal(err)
	}

	release := &core.ReleaseObjectRequest{ServiceID: 1, ObjectID: objectID}
	s.OnMessage(request(0, 2, release))
	s.OnMessage(request(0, 3, release))
	s.OnMessage(request(0, 4, &core.ReleaseObjectRequest{ServiceID: 2, ObjectID: objectID}))

	msgs = em.messages(t)
	if len(msgs) != 4 {
		t.Fatalf("responses = %d, want 4", len(msgs))
	}
	wantTags := []uint32{core.CoreReleaseObjectSuccess, core.CoreReleaseObjectReject, core.CoreReleaseObjectReject}
	for i, want := range wantTags {
		if got := coreResponse(t, msgs[i+1]).Tag; got != want {
			t.Errorf("release %d Tag = %d, want %d", i, got, want)
		}
	}
}

func TestEventRequests(t *testing.T) {
	s, em := newActiveSession(t, nil, nil)
	s.OnMessage(request(0, 1, &core.GetServiceRequest{Name: "echo"}))

	steps := []struct {
		req  core.EventRequest
		want uint32
	}{
		{core.EventRequest{Enable: true, ServiceID: 1, Event: 1}, core.CoreEnableEventSuccess},
		{core.EventRequest{Enable: true, ServiceID: 1, Event: 2}, core.CoreEnableEventReject},
		{core.EventRequest{Enable: false, ServiceID: 1, Event: 1}, core.CoreDisableEventSuccess},
		{core.EventRequest{Enable: false, ServiceID: 1, Event: 1}, core.CoreDisableEventReject},
		{core.EventRequest{Enable: true, ServiceID: 2, Event: 1}, core.CoreEnableEventReject},
	}

	for i, step := range steps {
		req := step.req
		s.OnMessage(request(0, uint64(10+i), &req))
	}

	msgs := em.messages(t)
	if len(msgs) != len(steps)+1 {
		t.Fatalf("responses = %d, want %d", len(msgs), len(steps)+1)
	}
	for i, step := range steps {
		if got := coreResponse(t, msgs[i+1]).Tag; got != step.want {
			t.Errorf("step %d Tag = %d, want %d", i, got, step.want)
		}
	}
}

func TestCloseTeardownOrder(t *testing.T) {
	j := &journal{}
	s, _ := newActiveSession(t, j, nil)

	// Create "other" (2) before "echo" (1), each with tracked objects.
	s.OnMessage(request(2, 1, protocol.Tagged{Tag: 2, Payload: protocol.Empty{}}))
	s.OnMessage(request(1, 2, protocol.Tagged{Tag: 2, Payload: protocol.Empty{}}))
	s.OnMessage(request(1, 3, protocol.Tagged{Tag: 2, Payload: protocol.Empty{}}))

	s.Close()

	want := []string{
		"echo:release", "echo:release", "echo:close",
		"other:release", "other:close",
	}
	if got := j.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("teardown = %v, want %v", got, want)
	}
	if ids := s.ServiceIDs(); len(ids) != 0 {
		t.Errorf("ServiceIDs after Close = %v, want none", ids)
	}
}

func TestClosingSessionRefusesExistingInstance(t *testing.T) {
	s, _ := newActiveSession(t, nil, nil)
	s.OnMessage(request(1, 1, protocol.Tagged{Tag: 1, Payload: rawBytes("x")}))
	if ids := s.ServiceIDs(); len(ids) != 1 {
		t.Fatalf("ServiceIDs = %v, want one instance", ids)
	}

	// Close has started on another goroutine but has not drained the
	// instances yet.
	s.state.Store(int32(StateClosing))

	if _, err := s.serviceInstance(1); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("serviceInstance() error = %v, want ErrSessionClosed", err)
	}
}

func TestFatalErrorClosesSession(t *testing.T) {
	s, em := newActiveSession(t, nil, nil)

	s.OnMessage(request(1, 1, protocol.Tagged{Tag: 3, Payload: protocol.Empty{}}))

	if s.State() != StateClosed {
		t.Errorf("State = %v, want Closed", s.State())
	}
	if em.closed != 1 {
		t.Errorf("emitter closed %d times, want 1", em.closed)
	}
}

func TestServicePanicRecovered(t *testing.T) {
	s, em := newActiveSession(t, nil, nil)

	s.OnMessage(request(1, 1, protocol.Tagged{Tag: 5, Payload: protocol.Empty{}}))

	if s.State() != StateActive {
		t.Errorf("State = %v, want Active", s.State())
	}
	s.OnMessage(request(1, 2, protocol.Tagged{Tag: 1, Payload: rawBytes("ok")}))
	if len(em.messages(t)) != 1 {
		t.Error("session stopped routing after a panic")
	}
}

func TestPermissionDeniedResponse(t *testing.T) {
	s, em := newActiveSession(t, nil, nil)

	s.OnMessage(request(1, 1, protocol.Tagged{Tag: 4, Payload: protocol.Empty{}}))

	msgs := em.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("responses = %d, want 1", len(msgs))
	}
	d := protocol.NewDecoder(msgs[0].Content)
	tag, _ := d.ReadTag()
	if tag != protocol.TagPermissionDenied {
		t.Fatalf("tag = %d, want %d", tag, protocol.TagPermissionDenied)
	}
	var perr protocol.PermissionError
	if err := d.ReadValue(&perr); err != nil {
		t.Fatal(err)
	}
	if perr.Permission != "echo:admin" {
		t.Errorf("Permission = %q, want echo:admin", perr.Permission)
	}
}

func TestTrustedIdentityBypassesPermission(t *testing.T) {
	s := NewSession(1, core.NewOriginAttributes("root", nil), SessionDeps{
		Registry: newTestRegistry(t, nil),
		Policy:   core.NewPermissionPolicy([]string{"root"}),
		Logger:   testLogger(),
	})
	em := &recordingEmitter{}
	s.ReplaceSender(em)

	s.OnMessage(request(1, 1, protocol.Tagged{Tag: 4, Payload: protocol.Empty{}}))

	msgs := em.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("responses = %d, want 1", len(msgs))
	}
	if want := []byte{4}; !bytes.Equal(msgs[0].Content, want) {
		t.Errorf("Content = % x, want % x", msgs[0].Content, want)
	}
}

func TestMiddlewareWrapsRequests(t *testing.T) {
	var seen []string
	mw := func(next core.RequestHandler) core.RequestHandler {
		return func(ctx context.Context, req *core.Request) error {
			seen = append(seen, req.Service)
			return next(ctx, req)
		}
	}
	s := NewSession(1, nil, SessionDeps{
		Registry:   newTestRegistry(t, nil),
		Middleware: []core.Middleware{mw},
		Logger:     testLogger(),
	})
	s.ReplaceSender(&recordingEmitter{})

	s.OnMessage(request(1, 1, protocol.Tagged{Tag: 1, Payload: rawBytes("a")}))
	s.OnMessage(request(2, 2, protocol.Tagged{Tag: 1, Payload: rawBytes("b")}))
	s.OnMessage(request(0, 3, &core.GetServiceRequest{Name: "echo"}))

	if want := []string{"echo", "other"}; !reflect.DeepEqual(seen, want) {
		t.Errorf("middleware saw %v, want %v", seen, want)
	}
}
