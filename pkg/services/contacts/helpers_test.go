package contacts

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vango-dev/apid/pkg/core"
	"github.com/vango-dev/apid/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

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

func (c *captureEmitter) find(match func(*protocol.BaseMessage) bool) []*protocol.BaseMessage {
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
	return c.find(func(m *protocol.BaseMessage) bool { return m.Kind == protocol.KindEvent })
}

type client struct {
	t       *testing.T
	svc     *Service
	origin  *core.OriginAttributes
	support *core.SessionSupport
	emitter *captureEmitter
	nextID  uint64
}

func newFactory(t *testing.T) (*Factory, *Store) {
	t.Helper()
	store := openTestStore(t)
	f := NewFactory(store, core.NewWorkerPool("contacts", 1, 16, testLogger()), testLogger())
	t.Cleanup(f.Close)
	return f, store
}

func connect(t *testing.T, f *Factory, sessionID uint32, perms ...string) *client {
	t.Helper()
	em := &captureEmitter{}
	support := core.NewSessionSupport(sessionID, 2, core.NewMessageSender(em), testLogger())
	origin := core.NewOriginAttributes("app://dialer", perms)
	svc, err := f.Create(origin, core.NewSessionContext(), support)
	require.NoError(t, err)
	return &client{t: t, svc: svc.(*Service), origin: origin, support: support, emitter: em}
}

// call sends r and returns the response tag and a decoder over its payload.
func (c *client) call(r Request) (uint32, *protocol.Decoder) {
	c.t.Helper()
	c.nextID++
	id := c.nextID
	msg := &protocol.BaseMessage{
		ServiceID: 2,
		Kind:      protocol.KindRequest,
		RequestID: id,
		Content:   protocol.Marshal(r),
	}
	req := &core.Request{
		Message:   msg,
		Origin:    c.origin,
		Policy:    core.NewPermissionPolicy(nil),
		Support:   c.support,
		Responder: core.NewResponder(c.support.Sender(), msg, testLogger()),
		Service:   ServiceName,
	}
	require.NoError(c.t, c.svc.OnRequest(context.Background(), req))

	var resp *protocol.BaseMessage
	require.Eventually(c.t, func() bool {
		got := c.emitter.find(func(m *protocol.BaseMessage) bool {
			return m.Kind == protocol.KindResponse && m.RequestID == id
		})
		if len(got) == 0 {
			return false
		}
		resp = got[0]
		return true
	}, 5*time.Second, 5*time.Millisecond)

	d := protocol.NewDecoder(resp.Content)
	tag, err := d.ReadTag()
	require.NoError(c.t, err)
	return tag, d
}

func decodeEvent(t *testing.T, msg *protocol.BaseMessage) (core.EventID, *protocol.Decoder) {
	t.Helper()
	d := protocol.NewDecoder(msg.Content)
	tag, err := d.ReadTag()
	require.NoError(t, err)
	return core.EventID(tag), d
}
