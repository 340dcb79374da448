package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/apid/pkg/core"
	"github.com/vango-dev/apid/pkg/protocol"
	"github.com/vango-dev/apid/pkg/server"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// pingService answers every request with tag 1 and an empty payload.
type pingService struct{}

func (pingService) OnRequest(_ context.Context, req *core.Request) error {
	return req.Responder.Send(protocol.Tagged{Tag: 1, Payload: protocol.Empty{}})
}
func (pingService) ReleaseObject(uint32) bool { return false }
func (pingService) TrackedObjects() []uint32  { return nil }
func (pingService) Close() error              { return nil }

func startServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	reg := core.NewRegistry()
	_, err := reg.Register("ping", "ping-1", core.ServiceFactoryFunc(
		func(*core.OriginAttributes, *core.SessionContext, *core.SessionSupport) (core.Service, error) {
			return pingService{}, nil
		}))
	require.NoError(t, err)

	config := server.DefaultServerConfig()
	config.Logger = testLogger()
	srv := server.New(reg, core.NewSessionContext(), config)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Sessions().Shutdown()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	c, err := Dial(t.Context(), url, &Options{Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCallAndGetService(t *testing.T) {
	_, url := startServer(t)
	c := dial(t, url)
	ctx := t.Context()

	id, err := c.GetService(ctx, "ping", "ping-1")
	require.NoError(t, err)
	assert.NotZero(t, id)

	msg, err := c.Call(ctx, id, 0, protocol.Empty{})
	require.NoError(t, err)
	assert.Equal(t, protocol.KindResponse, msg.Kind)
	assert.Equal(t, id, msg.ServiceID)

	_, err = c.GetService(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrServiceRejected)

	ok, err := c.EnableEvent(ctx, id, 0, 0)
	require.NoError(t, err)
	assert.False(t, ok, "ping is not an event source")

	ok, err = c.ReleaseObject(ctx, id, 9)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCallRespectsContext(t *testing.T) {
	_, url := startServer(t)
	c := dial(t, url)

	// Unknown service ids get no response at all.
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Call(ctx, 42, 0, protocol.Empty{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClosedClient(t *testing.T) {
	_, url := startServer(t)
	c := dial(t, url)

	require.NoError(t, c.Close())
	_, err := c.Call(t.Context(), 0, 0, protocol.Empty{})
	assert.ErrorIs(t, err, ErrClosed)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
	_, open := <-c.Events()
	assert.False(t, open)
}

func TestServerShutdownEndsClient(t *testing.T) {
	srv, url := startServer(t)
	c := dial(t, url)
	_, err := c.GetService(t.Context(), "ping", "")
	require.NoError(t, err)

	srv.Sessions().Shutdown()

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client did not notice the server closing the session")
	}
	assert.Error(t, c.Err())
}

func TestDialRetryGivesUp(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	ts.Close()

	start := time.Now()
	_, err := DialRetry(t.Context(), url, &Options{Logger: testLogger()}, RetryConfig{
		MaxAttempts: 3,
		MinInterval: time.Millisecond,
		MaxInterval: 5 * time.Millisecond,
	})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDialRetrySucceeds(t *testing.T) {
	_, url := startServer(t)

	c, err := DialRetry(t.Context(), url, &Options{Logger: testLogger()}, RetryConfig{MaxAttempts: 2})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.GetService(t.Context(), "ping", "")
	assert.NoError(t, err)
}
