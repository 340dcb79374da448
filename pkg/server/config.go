package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-dev/apid/pkg/core"
	"github.com/vango-dev/apid/pkg/protocol"
)

// SessionConfig holds per-connection configuration.
type SessionConfig struct {
	// ReadTimeout is the deadline for receiving a frame or a pong.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the deadline for writing one frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// PingInterval is how often the write loop pings the client.
	// Default: 30 seconds.
	PingInterval time.Duration

	// MaxMessageSize is the largest frame accepted; larger frames close
	// the connection.
	// Default: 1MB.
	MaxMessageSize int64

	// SendQueue is the number of outbound frames buffered per connection.
	// Default: 256.
	SendQueue int

	// Limits bounds allocations while decoding frames.
	Limits protocol.DecoderLimits
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 1 << 20,
		SendQueue:      256,
		Limits:         protocol.DefaultDecoderLimits(),
	}
}

// Clone returns a copy of the SessionConfig.
func (c *SessionConfig) Clone() *SessionConfig {
	clone := *c
	return &clone
}

// ServerConfig holds server-wide configuration.
type ServerConfig struct {
	// Address is the TCP address to listen on.
	// Default: ":7443".
	Address string

	// UnixSocket is an optional unix socket path serving the same handler.
	UnixSocket string

	// RootPath is the directory served for plain GET requests. Empty
	// disables static serving.
	RootPath string

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin validates the Origin header of upgrade requests.
	// Default: accept every origin; access is governed by the token.
	CheckOrigin func(r *http.Request) bool

	// SessionConfig is the per-connection configuration.
	SessionConfig *SessionConfig

	// MaxSessions caps concurrent sessions. 0 means no limit.
	MaxSessions int

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// TrustedIdentities are granted every permission.
	TrustedIdentities []string

	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers are
	// honoured when logging client addresses.
	TrustedProxies []string

	// Resolver establishes the identity behind an upgrade request.
	// Default: every client is "anonymous" with no permissions.
	Resolver IdentityResolver

	// Middleware wraps every service request, first is outermost.
	Middleware []core.Middleware

	// Observers receive session lifecycle notifications.
	Observers []SessionObserver

	// MetricsHandler is mounted at MetricsPath when set.
	MetricsHandler http.Handler

	// MetricsPath is where MetricsHandler is mounted.
	// Default: "/metrics".
	MetricsPath string

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:         ":7443",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
		SessionConfig:   DefaultSessionConfig(),
		ShutdownTimeout: 30 * time.Second,
		MetricsPath:     "/metrics",
	}
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	clone := *c
	if c.SessionConfig != nil {
		clone.SessionConfig = c.SessionConfig.Clone()
	}
	clone.TrustedIdentities = append([]string(nil), c.TrustedIdentities...)
	clone.TrustedProxies = append([]string(nil), c.TrustedProxies...)
	clone.Middleware = append([]core.Middleware(nil), c.Middleware...)
	clone.Observers = append([]SessionObserver(nil), c.Observers...)
	return &clone
}

// WithAddress returns a copy with the given address.
func (c *ServerConfig) WithAddress(addr string) *ServerConfig {
	clone := c.Clone()
	clone.Address = addr
	return clone
}

// WithMaxSessions returns a copy with the given session cap.
func (c *ServerConfig) WithMaxSessions(n int) *ServerConfig {
	clone := c.Clone()
	clone.MaxSessions = n
	return clone
}
