package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/apid/internal/config"
	"github.com/vango-dev/apid/internal/logging"
	"github.com/vango-dev/apid/internal/sqlitedb"
	"github.com/vango-dev/apid/pkg/core"
	"github.com/vango-dev/apid/pkg/middleware"
	"github.com/vango-dev/apid/pkg/server"
	"github.com/vango-dev/apid/pkg/services/contacts"
	"github.com/vango-dev/apid/pkg/services/settings"
)

func serveCmd(configPath *string) *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		Long: `Run the daemon until interrupted.

Configuration is read from apid.yaml in the working directory (or
--config) and APID_* environment variables. The log level follows
changes to the config file.

Examples:
  apid serve
  apid serve --config /etc/apid/apid.yaml
  apid serve --port 8443`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(*configPath, slog.Default())
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			if host != "" {
				cfg.Server.Host = host
			}

			logger, level, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			loader.OnChange(func(c *config.Config) {
				if err := logging.SetLevel(level, c.Log.Level); err != nil {
					logger.Warn("invalid log level in reloaded config", "error", err)
				}
			})
			loader.Watch()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from config)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (default from config)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	logger.Info("apid starting", "version", version, "address", cfg.Address(), "config", cfg.Path())
	return d.server.ListenAndServe(ctx)
}

// daemon owns the stores, service factories and server built from a
// configuration.
type daemon struct {
	server   *server.Server
	settings *settings.Factory
	contacts *contacts.Factory
	closers  []func() error
}

func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *daemon, err error) {
	d := &daemon{}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	settingsStore, err := settings.OpenStore(dataPath(cfg, cfg.Settings.DBPath), logger)
	if err != nil {
		return nil, fmt.Errorf("settings store: %w", err)
	}
	d.closers = append(d.closers, settingsStore.Close)
	if cfg.Settings.DefaultsPath != "" {
		if _, err := settingsStore.ImportDefaultsFile(ctx, dataPath(cfg, cfg.Settings.DefaultsPath)); err != nil {
			return nil, err
		}
	}

	contactsStore, err := contacts.OpenStore(dataPath(cfg, cfg.Contacts.DBPath), logger)
	if err != nil {
		return nil, fmt.Errorf("contacts store: %w", err)
	}
	d.closers = append(d.closers, contactsStore.Close)

	d.settings = settings.NewFactory(settingsStore,
		core.NewWorkerPool(settings.ServiceName, cfg.Settings.Workers, cfg.Settings.Queue, logger), logger)
	d.contacts = contacts.NewFactory(contactsStore,
		core.NewWorkerPool(contacts.ServiceName, cfg.Contacts.Workers, cfg.Contacts.Queue, logger), logger)

	registry := core.NewRegistry()
	if _, err := registry.Register(settings.ServiceName, settings.Fingerprint, d.settings); err != nil {
		return nil, err
	}
	if _, err := registry.Register(contacts.ServiceName, contacts.Fingerprint, d.contacts); err != nil {
		return nil, err
	}

	d.server = server.New(registry, core.NewSessionContext(), serverConfig(cfg, logger))
	return d, nil
}

// Close stops the worker pools, then closes the stores.
func (d *daemon) Close() error {
	if d.settings != nil {
		d.settings.Close()
	}
	if d.contacts != nil {
		d.contacts.Close()
	}
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	d.closers = nil
	return errors.Join(errs...)
}

func serverConfig(cfg *config.Config, logger *slog.Logger) *server.ServerConfig {
	sc := server.DefaultServerConfig()
	sc.Address = cfg.Address()
	sc.UnixSocket = cfg.Server.UnixSocket
	sc.RootPath = cfg.HTTP.RootPath
	sc.MaxSessions = cfg.Session.MaxSessions
	sc.ShutdownTimeout = cfg.Server.ShutdownTimeout
	sc.TrustedIdentities = cfg.Permissions.TrustedIdentities
	sc.TrustedProxies = cfg.Server.TrustedProxies
	sc.Logger = logger

	sc.SessionConfig.ReadTimeout = cfg.Session.ReadTimeout
	sc.SessionConfig.WriteTimeout = cfg.Session.WriteTimeout
	sc.SessionConfig.PingInterval = cfg.Session.PingInterval
	sc.SessionConfig.MaxMessageSize = cfg.Session.MaxMessageSize
	sc.SessionConfig.SendQueue = cfg.Session.SendQueue

	if cfg.Permissions.JWTSecret != "" {
		sc.Resolver = server.UnixResolver{Next: server.NewJWTResolver([]byte(cfg.Permissions.JWTSecret))}
	} else {
		sc.Resolver = server.UnixResolver{}
	}

	if cfg.Tracing.Enabled {
		sc.Middleware = append(sc.Middleware, middleware.OpenTelemetry())
	}
	if cfg.Metrics.Enabled {
		metrics := middleware.NewMetrics(middleware.WithNamespace(cfg.Metrics.Namespace))
		sc.Middleware = append(sc.Middleware, metrics.Middleware())
		sc.Observers = append(sc.Observers, metrics)
		sc.MetricsHandler = metrics.Handler()
		sc.MetricsPath = cfg.Metrics.Path
	}
	return sc
}

// dataPath resolves relative paths against the config file's directory.
func dataPath(cfg *config.Config, path string) string {
	if path == sqlitedb.Memory || filepath.IsAbs(path) || cfg.Dir() == "" {
		return path
	}
	return filepath.Join(cfg.Dir(), path)
}
