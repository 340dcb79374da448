package settings

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vango-dev/apid/internal/sqlitedb"
	"github.com/vango-dev/apid/pkg/core"
	"github.com/vango-dev/apid/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// captureEmitter decodes and keeps every frame sent to one client.
type captureEmitter struct {
	mu   sync.Mutex
	msgs []*protocol.BaseMessage
}

func (c *captureEmitter) SendRaw(o core.Outbound) error {
	msg, err := protocol.DecodeMessage(o.Payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	return nil
}

func (c *captureEmitter) Close() error { return nil }

func (c *captureEmitter) filter(match func(*protocol.BaseMessage) bool) []*protocol.BaseMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*protocol.BaseMessage
	for _, m := range c.msgs {
		if match(m) {
			out = append(out, m)
		}
	}
	return out
}

func (c *captureEmitter) events() []*protocol.BaseMessage {
	return c.filter(func(m *protocol.BaseMessage) bool { return m.Kind == protocol.KindEvent })
}

type harness struct {
	t       *testing.T
	store   *Store
	factory *Factory
	sctx    *core.SessionContext
	policy  *core.PermissionPolicy
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := OpenStore(sqlitedb.Memory, testLogger())
	require.NoError(t, err)
	factory := NewFactory(store, core.NewWorkerPool("settings", 1, 16, testLogger()), testLogger())
	t.Cleanup(func() {
		factory.Close()
		store.Close()
	})
	return &harness{
		t:       t,
		store:   store,
		factory: factory,
		sctx:    core.NewSessionContext(),
		policy:  core.NewPermissionPolicy(nil),
	}
}

type client struct {
	t       *testing.T
	svc     *Service
	origin  *core.OriginAttributes
	policy  *core.PermissionPolicy
	support *core.SessionSupport
	emitter *captureEmitter
	nextID  uint64
}

func (h *harness) connect(sessionID uint32, perms ...string) *client {
	h.t.Helper()
	em := &captureEmitter{}
	support := core.NewSessionSupport(sessionID, 1, core.NewMessageSender(em), testLogger())
	origin := core.NewOriginAttributes("app://test", perms)
	svc, err := h.factory.Create(origin, h.sctx, support)
	require.NoError(h.t, err)
	return &client{
		t:       h.t,
		svc:     svc.(*Service),
		origin:  origin,
		policy:  h.policy,
		support: support,
		emitter: em,
	}
}

// call sends r and waits for its response.
func (c *client) call(r Request) *protocol.BaseMessage {
	c.t.Helper()
	c.nextID++
	id := c.nextID
	msg := &protocol.BaseMessage{
		ServiceID: 1,
		Kind:      protocol.KindRequest,
		RequestID: id,
		Content:   protocol.Marshal(r),
	}
	req := &core.Request{
		Message:   msg,
		Origin:    c.origin,
		Policy:    c.policy,
		Support:   c.support,
		Responder: core.NewResponder(c.support.Sender(), msg, testLogger()),
		Service:   ServiceName,
	}
	require.NoError(c.t, c.svc.OnRequest(context.Background(), req))

	var resp *protocol.BaseMessage
	require.Eventually(c.t, func() bool {
		got := c.emitter.filter(func(m *protocol.BaseMessage) bool {
			return m.Kind == protocol.KindResponse && m.RequestID == id
		})
		if len(got) == 0 {
			return false
		}
		resp = got[0]
		return true
	}, 5*time.Second, 5*time.Millisecond)
	return resp
}

// response splits a response into its tag and a decoder over the payload.
func response(t *testing.T, msg *protocol.BaseMessage) (uint32, *protocol.Decoder) {
	t.Helper()
	d := protocol.NewDecoder(msg.Content)
	tag, err := d.ReadTag()
	require.NoError(t, err)
	return tag, d
}

func settingPayload(t *testing.T, d *protocol.Decoder) SettingInfo {
	t.Helper()
	var info SettingInfo
	require.NoError(t, info.DecodeFrom(d))
	require.NoError(t, d.Finish())
	return info
}
