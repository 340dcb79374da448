// Package client is a Go client for the apid WebSocket API.
//
// A Client multiplexes requests over one connection, matching responses by
// request id, and delivers events on a buffered channel:
//
//	c, err := client.Dial(ctx, "ws://localhost:7443/", &client.Options{Token: token})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	id, err := c.GetService(ctx, "settings", "settings-1")
//	resp, err := c.Call(ctx, id, 0, &settings.GetRequest{Name: "language"})
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/apid/pkg/core"
	"github.com/vango-dev/apid/pkg/protocol"
)

var (
	// ErrClosed is returned for calls on a closed client or pending calls
	// when the connection ends.
	ErrClosed = errors.New("client: connection closed")

	// ErrServiceRejected is returned by GetService when the daemon has no
	// matching service for this client.
	ErrServiceRejected = errors.New("client: service rejected")
)

// Options configures a Client.
type Options struct {
	// Token is sent as a bearer token on the upgrade request.
	Token string

	// Header is added to the upgrade request.
	Header http.Header

	// Dialer overrides the WebSocket dialer.
	// Default: a dialer with a 10 second handshake timeout.
	Dialer *websocket.Dialer

	// EventBuffer is the capacity of the Events channel. Events arriving
	// while it is full are dropped.
	// Default: 64.
	EventBuffer int

	// Logger receives connection diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

func (o *Options) withDefaults() *Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.Dialer == nil {
		out.Dialer = &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		}
	}
	if out.EventBuffer <= 0 {
		out.EventBuffer = 64
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

// Client is one connection to the daemon. It is safe for concurrent use.
type Client struct {
	conn   *websocket.Conn
	nextID atomic.Uint64

	writeMu sync.Mutex

	mu      sync.Mutex // guards pending and err
	pending map[uint64]chan *protocol.BaseMessage
	err     error

	events    chan *protocol.BaseMessage
	done      chan struct{}
	closeOnce sync.Once

	logger *slog.Logger
}

// Dial connects to the daemon at url.
func Dial(ctx context.Context, url string, opts *Options) (*Client, error) {
	opts = opts.withDefaults()

	header := http.Header{}
	for k, v := range opts.Header {
		header[k] = append([]string(nil), v...)
	}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	conn, resp, err := opts.Dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("client: dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[uint64]chan *protocol.BaseMessage),
		events:  make(chan *protocol.BaseMessage, opts.EventBuffer),
		done:    make(chan struct{}),
		logger:  opts.Logger.With("component", "client", "url", url),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		if mt != websocket.BinaryMessage {
			c.logger.Warn("ignoring non-binary frame", "type", mt)
			continue
		}
		msg, err := protocol.DecodeMessage(data)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}

		switch msg.Kind {
		case protocol.KindResponse:
			c.mu.Lock()
			ch, ok := c.pending[msg.RequestID]
			delete(c.pending, msg.RequestID)
			c.mu.Unlock()
			if !ok {
				c.logger.Debug("response for unknown request", "request_id", msg.RequestID)
				continue
			}
			ch <- msg
		case protocol.KindEvent:
			select {
			case c.events <- msg:
			default:
				c.logger.Warn("event buffer full, dropping event",
					"service", msg.ServiceID, "object", msg.ObjectID)
			}
		}
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.err == nil {
			c.err = err
		}
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		close(c.done)
		c.conn.Close()
	})
}

// Call sends a request to objectID of serviceID and waits for its response.
// The daemon sends no response to unknown service ids, so ctx should carry a
// deadline.
func (c *Client) Call(ctx context.Context, serviceID, objectID uint32, content protocol.Encodable) (*protocol.BaseMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan *protocol.BaseMessage, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	frame := protocol.EncodeMessage(&protocol.BaseMessage{
		ServiceID: serviceID,
		ObjectID:  objectID,
		Kind:      protocol.KindRequest,
		RequestID: id,
		Content:   protocol.Marshal(content),
	})

	c.writeMu.Lock()
	err := c.conn.WriteMessage(websocket.BinaryMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("client: write request: %w", err)
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) core(ctx context.Context, req core.CoreRequest) (*core.CoreResponse, error) {
	msg, err := c.Call(ctx, protocol.CoreServiceID, 0, req)
	if err != nil {
		return nil, err
	}
	var resp core.CoreResponse
	if err := protocol.Unmarshal(msg.Content, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetService resolves a service name to its id for this session, creating
// the session's instance of it.
func (c *Client) GetService(ctx context.Context, name, fingerprint string) (uint32, error) {
	resp, err := c.core(ctx, &core.GetServiceRequest{Name: name, Fingerprint: fingerprint})
	if err != nil {
		return 0, err
	}
	if !resp.Success() {
		return 0, fmt.Errorf("%w: %s", ErrServiceRejected, name)
	}
	return resp.ServiceID, nil
}

// ReleaseObject tells the daemon the client no longer uses an object.
func (c *Client) ReleaseObject(ctx context.Context, serviceID, objectID uint32) (bool, error) {
	resp, err := c.core(ctx, &core.ReleaseObjectRequest{ServiceID: serviceID, ObjectID: objectID})
	if err != nil {
		return false, err
	}
	return resp.Success(), nil
}

// EnableEvent turns on delivery of event from objectID of serviceID.
func (c *Client) EnableEvent(ctx context.Context, serviceID, objectID uint32, event core.EventID) (bool, error) {
	return c.toggle(ctx, true, serviceID, objectID, event)
}

// DisableEvent turns delivery of event off again.
func (c *Client) DisableEvent(ctx context.Context, serviceID, objectID uint32, event core.EventID) (bool, error) {
	return c.toggle(ctx, false, serviceID, objectID, event)
}

func (c *Client) toggle(ctx context.Context, enable bool, serviceID, objectID uint32, event core.EventID) (bool, error) {
	resp, err := c.core(ctx, &core.EventRequest{
		Enable:    enable,
		ServiceID: serviceID,
		ObjectID:  objectID,
		Event:     event,
	})
	if err != nil {
		return false, err
	}
	return resp.Success(), nil
}

// Events returns the channel of event messages. It is closed when the
// connection ends.
func (c *Client) Events() <-chan *protocol.BaseMessage {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return nil
}
