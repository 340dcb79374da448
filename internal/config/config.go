package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	// ConfigName is the base name of the configuration file looked up in
	// the working directory.
	ConfigName = "apid"

	// EnvPrefix prefixes environment overrides: APID_SERVER_PORT sets
	// server.port.
	EnvPrefix = "APID"

	// DefaultPort is the default TCP port.
	DefaultPort = 7443

	// DefaultHost is the default bind host; empty binds every interface.
	DefaultHost = ""
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the daemon configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Session     SessionConfig     `mapstructure:"session"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Settings    SettingsConfig    `mapstructure:"settings"`
	Contacts    ContactsConfig    `mapstructure:"contacts"`
	Log         LogConfig         `mapstructure:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Tracing     TracingConfig     `mapstructure:"tracing"`

	// configPath stores the path the config was loaded from, if any.
	configPath string
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	// Host is the address to bind; empty binds every interface.
	Host string `mapstructure:"host"`

	// Port is the TCP port.
	Port int `mapstructure:"port"`

	// UnixSocket is an optional unix socket path serving the same API.
	UnixSocket string `mapstructure:"unix_socket"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers are
	// honoured.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// HTTPConfig contains static file serving settings.
type HTTPConfig struct {
	// RootPath is the directory served for plain GET requests.
	RootPath string `mapstructure:"root_path"`
}

// SessionConfig contains per-connection settings.
type SessionConfig struct {
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	SendQueue      int           `mapstructure:"send_queue"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	MaxSessions    int           `mapstructure:"max_sessions"`
}

// PermissionsConfig contains authentication settings.
type PermissionsConfig struct {
	// TrustedIdentities are granted every permission.
	TrustedIdentities []string `mapstructure:"trusted_identities"`

	// JWTSecret verifies client tokens. Empty disables token auth: TCP
	// clients are anonymous.
	JWTSecret string `mapstructure:"jwt_secret"`
}

// SettingsConfig configures the settings service.
type SettingsConfig struct {
	DBPath       string `mapstructure:"db_path"`
	DefaultsPath string `mapstructure:"defaults_path"`
	Workers      int    `mapstructure:"workers"`
	Queue        int    `mapstructure:"queue"`
}

// ContactsConfig configures the contacts service.
type ContactsConfig struct {
	DBPath  string `mapstructure:"db_path"`
	Workers int    `mapstructure:"workers"`
	Queue   int    `mapstructure:"queue"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// TracingConfig configures OpenTelemetry spans.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// defaults are registered with viper so every key is known to env lookup.
var defaults = map[string]any{
	"server.host":                    DefaultHost,
	"server.port":                    DefaultPort,
	"server.unix_socket":             "",
	"server.shutdown_timeout":        "30s",
	"server.trusted_proxies":         []string{},
	"http.root_path":                 "",
	"session.max_message_size":       1 << 20,
	"session.write_timeout":          "10s",
	"session.read_timeout":           "60s",
	"session.send_queue":             256,
	"session.ping_interval":          "30s",
	"session.max_sessions":           0,
	"permissions.trusted_identities": []string{},
	"permissions.jwt_secret":         "",
	"settings.db_path":               "settings.db",
	"settings.defaults_path":         "",
	"settings.workers":               2,
	"settings.queue":                 64,
	"contacts.db_path":               "contacts.db",
	"contacts.workers":               2,
	"contacts.queue":                 64,
	"log.level":                      "info",
	"log.format":                     "text",
	"metrics.enabled":                true,
	"metrics.path":                   "/metrics",
	"metrics.namespace":              "apid",
	"tracing.enabled":                false,
}

// Loader reads the configuration from a file and the environment, and
// can watch the file for changes.
type Loader struct {
	v      *viper.Viper
	logger *slog.Logger

	mu       sync.Mutex
	onChange []func(*Config)
}

// NewLoader creates a loader. An empty path looks for apid.yaml (or any
// extension viper supports) in the working directory.
func NewLoader(path string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, logger: logger.With("component", "config")}
}

// Load reads the file, when present, and decodes the result. A missing
// file is not an error when no explicit path was given.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		l.logger.Warn("config file not found, using defaults and environment")
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.configPath = l.v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// OnChange registers fn to run with the new configuration after the
// watched file changes. Invalid configurations are logged and skipped.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	l.onChange = append(l.onChange, fn)
	l.mu.Unlock()
}

// Watch starts watching the configuration file. It does nothing when no
// file was loaded.
func (l *Loader) Watch() {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			l.logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		l.logger.Info("config reloaded", "file", e.Name, "op", e.Op.String())

		l.mu.Lock()
		fns := append([]func(*Config){}, l.onChange...)
		l.mu.Unlock()
		for _, fn := range fns {
			fn(cfg)
		}
	})
	l.v.WatchConfig()
}

// Load is shorthand for NewLoader(path, logger).Load().
func Load(path string, logger *slog.Logger) (*Config, error) {
	return NewLoader(path, logger).Load()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalid, c.Server.Port)
	}
	if c.Session.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: session.max_message_size must be positive", ErrInvalid)
	}
	if c.Session.SendQueue <= 0 {
		return fmt.Errorf("%w: session.send_queue must be positive", ErrInvalid)
	}
	if c.Settings.Workers <= 0 || c.Contacts.Workers <= 0 {
		return fmt.Errorf("%w: service workers must be positive", ErrInvalid)
	}
	if c.Settings.Queue < 0 || c.Contacts.Queue < 0 {
		return fmt.Errorf("%w: service queues must not be negative", ErrInvalid)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q is not text or json", ErrInvalid, c.Log.Format)
	}
	return nil
}

// Path returns the file the config was loaded from, or "".
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// Address returns the TCP listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
