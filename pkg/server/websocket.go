package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/apid/pkg/core"
)

// wsConn adapts a gorilla connection to core.MessageEmitter and runs the
// read and write loops for one session.
type wsConn struct {
	conn    *websocket.Conn
	session *Session
	config  *SessionConfig
	metrics *MetricsCollector
	logger  *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

func newWSConn(conn *websocket.Conn, session *Session, config *SessionConfig, metrics *MetricsCollector) *wsConn {
	queue := config.SendQueue
	if queue <= 0 {
		queue = DefaultSessionConfig().SendQueue
	}
	return &wsConn{
		conn:    conn,
		session: session,
		config:  config,
		metrics: metrics,
		logger:  session.Logger(),
		send:    make(chan []byte, queue),
		done:    make(chan struct{}),
	}
}

// SendRaw enqueues msg without blocking.
func (c *wsConn) SendRaw(msg core.Outbound) error {
	switch msg.Kind {
	case core.OutboundData:
		select {
		case <-c.done:
			return ErrConnectionClosed
		default:
		}
		select {
		case c.send <- msg.Payload:
			return nil
		case <-c.done:
			return ErrConnectionClosed
		default:
			c.metrics.RecordSendDropped()
			c.logger.Warn("send queue full, frame dropped", "service", msg.ServiceID)
			return ErrSendQueueFull
		}
	case core.OutboundChildDaemonCrash:
		c.logger.Error("child daemon crashed, closing connection", "daemon", msg.Daemon)
		return c.Close()
	default:
		return c.Close()
	}
}

// Close stops the write loop, which closes the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// readLoop feeds inbound frames to the session until the connection fails.
// It closes the session on exit.
func (c *wsConn) readLoop() {
	defer c.session.Close()
	defer c.Close()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.metrics.RecordReadError()
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		c.bytesIn.Add(int64(len(data)))
		c.metrics.RecordBytesReceived(len(data))

		if mt != websocket.BinaryMessage {
			c.logger.Warn("closing connection", "error", ErrUnexpectedFrame, "frame_type", mt)
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "binary frames only"),
				time.Now().Add(c.config.WriteTimeout))
			return
		}
		c.session.OnMessage(data)
	}
}

// writeLoop drains the send queue and pings the client until Close.
func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.metrics.RecordWriteError()
				c.logger.Debug("websocket write failed", "error", err)
				c.Close()
				return
			}
			c.bytesOut.Add(int64(len(data)))
			c.metrics.RecordBytesSent(len(data))

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.Close()
				return
			}

		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.config.WriteTimeout))
			return
		}
	}
}
