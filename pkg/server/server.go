package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jpillora/requestlog"
	"github.com/jpillora/sizestr"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/apid/pkg/core"
)

// Server is the apid WebSocket server.
type Server struct {
	config   *ServerConfig
	sessions *SessionManager
	metrics  *MetricsCollector
	policy   *core.PermissionPolicy
	resolver IdentityResolver

	trustedProxies *proxyMatcher
	upgrader       websocket.Upgrader
	router         chi.Router

	mu          sync.Mutex
	httpServers []*http.Server

	logger *slog.Logger
}

// New creates a server routing to the services in registry. Every session
// shares sctx.
func New(registry *core.Registry, sctx *core.SessionContext, config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	} else {
		config = config.Clone()
	}
	defaults := DefaultServerConfig()
	if config.SessionConfig == nil {
		config.SessionConfig = DefaultSessionConfig()
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.MetricsPath == "" {
		config.MetricsPath = defaults.MetricsPath
	}
	if config.CheckOrigin == nil {
		config.CheckOrigin = defaults.CheckOrigin
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	resolver := config.Resolver
	if resolver == nil {
		resolver = UnixResolver{}
	}

	metrics := NewMetricsCollector()
	policy := core.NewPermissionPolicy(config.TrustedIdentities)
	policy.LogTrusted(logger)

	deps := SessionDeps{
		Registry:   registry,
		Context:    sctx,
		Policy:     policy,
		Middleware: config.Middleware,
		Observer:   append(observers{metrics}, config.Observers...),
		Limits:     config.SessionConfig.Limits,
		Logger:     logger,
	}

	s := &Server{
		config:         config,
		sessions:       NewSessionManager(deps, config.MaxSessions, logger),
		metrics:        metrics,
		policy:         policy,
		resolver:       resolver,
		trustedProxies: newProxyMatcher(config.TrustedProxies, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		logger: logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	var static http.Handler = http.HandlerFunc(noStatic)
	if s.config.RootPath != "" {
		static = NewStaticHandler(s.config.RootPath)
	}

	if s.config.MetricsHandler != nil {
		r.Method(http.MethodGet, s.config.MetricsPath, s.config.MetricsHandler)
	}
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.HandleWebSocket(w, r)
			return
		}
		static.ServeHTTP(w, r)
	})
	r.Handle("/*", static)
	return r
}

func noStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	http.NotFound(w, r)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the server wrapped with access logging.
func (s *Server) Handler() http.Handler {
	return requestlog.Wrap(s)
}

// HandleWebSocket upgrades the request and runs the session until the
// connection ends.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := s.clientIP(r)

	origin, err := s.resolver.Resolve(r)
	if err != nil {
		s.logger.Warn("upgrade rejected", "remote", ip, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	session, err := s.sessions.Create(origin)
	if err != nil {
		status := http.StatusServiceUnavailable
		s.logger.Warn("session refused", "remote", ip, "error", err)
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "remote", ip, "error", err)
		session.Close()
		return
	}

	ws := newWSConn(conn, session, s.config.SessionConfig, s.metrics)
	session.ReplaceSender(ws)
	session.Logger().Info("connection opened", "remote", ip, "identity", origin.Identity())

	start := time.Now()
	go ws.writeLoop()
	ws.readLoop()

	session.Logger().Info("connection closed",
		"remote", ip,
		"received", sizestr.ToString(ws.bytesIn.Load()),
		"sent", sizestr.ToString(ws.bytesOut.Load()),
		"duration", time.Since(start).Round(time.Millisecond))
}

// ListenAndServe serves on the configured TCP address and, when set, the
// unix socket, until ctx is cancelled or a listener fails. It then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	tcp, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	listeners := []net.Listener{tcp}

	if s.config.UnixSocket != "" {
		if err := os.Remove(s.config.UnixSocket); err != nil && !errors.Is(err, os.ErrNotExist) {
			tcp.Close()
			return err
		}
		uds, err := net.Listen("unix", s.config.UnixSocket)
		if err != nil {
			tcp.Close()
			return err
		}
		listeners = append(listeners, uds)
	}

	return s.Serve(ctx, listeners...)
}

// Serve serves on every listener until ctx is cancelled or one of them
// fails.
func (s *Server) Serve(ctx context.Context, listeners ...net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, l := range listeners {
		srv := &http.Server{
			Handler:     s.Handler(),
			ConnContext: markUnixConn,
		}
		s.mu.Lock()
		s.httpServers = append(s.httpServers, srv)
		s.mu.Unlock()

		g.Go(func() error {
			s.logger.Info("server listening", "network", l.Addr().Network(), "address", l.Addr().String())
			if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown closes every session, then stops the HTTP servers within the
// configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.sessions.ShutdownWithContext(ctx); err != nil {
		s.logger.Warn("sessions not closed in time", "error", err)
	}

	s.mu.Lock()
	servers := s.httpServers
	s.httpServers = nil
	s.mu.Unlock()

	var firstErr error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if s.config.UnixSocket != "" {
		os.Remove(s.config.UnixSocket)
	}

	s.logger.Info("server shutdown complete")
	return firstErr
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Policy returns the permission policy shared by every session.
func (s *Server) Policy() *core.PermissionPolicy {
	return s.policy
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}
