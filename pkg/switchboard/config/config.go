// Package config loads the switchboard gateway configuration from HCL, JSON
// or TOML files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// EnvVar names the environment variable selecting the config file.
	EnvVar = "SWITCHBOARD_CONFIG"

	// DefaultFile is used when EnvVar is unset.
	DefaultFile = "gateway.hcl"

	DefaultBind         = "127.0.0.1"
	DefaultPort         = 7337
	DefaultWSPath       = "/ws"
	DefaultQueueSize    = 256
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultReadLimit    = 1 << 20
	DefaultServiceName  = "switchboard"
)

// ErrNotFound is returned by Load when the file does not exist.
var ErrNotFound = errors.New("config not found")

// Config is the complete gateway configuration.
type Config struct {
	Gateway    Gateway    `toml:"gateway" json:"gateway"`
	Connection Connection `toml:"connection" json:"connection"`
	Store      Store      `toml:"store" json:"store"`
	Telemetry  Telemetry  `toml:"telemetry" json:"telemetry"`
	Crons      []Cron     `toml:"cron" json:"cron"`

	// Source is the file the configuration was loaded from, if any.
	Source string `toml:"-" json:"-"`
}

// Gateway is the listening endpoint.
type Gateway struct {
	Bind string `toml:"bind" json:"bind"`
	Port int    `toml:"port" json:"port"`
	Path string `toml:"path" json:"path"`
}

// Addr returns the host:port to listen on.
func (g Gateway) Addr() string {
	return fmt.Sprintf("%s:%d", g.Bind, g.Port)
}

// Connection tunes each client session.
type Connection struct {
	QueueSize    int      `toml:"queue_size" json:"queueSize"`
	PingInterval Duration `toml:"ping_interval" json:"pingInterval"`
	ReadTimeout  Duration `toml:"read_timeout" json:"readTimeout"`
	WriteTimeout Duration `toml:"write_timeout" json:"writeTimeout"`
	ReadLimit    int64    `toml:"read_limit" json:"readLimit"`
}

// Store selects the session database. An empty DSN keeps it in memory.
type Store struct {
	DSN string `toml:"dsn" json:"dsn"`
}

// Telemetry controls instrumentation. Enabled turns on OpenTelemetry; a
// positive PublishInterval instead keeps metrics in process and publishes a
// snapshot on the event bus at that interval.
type Telemetry struct {
	Enabled         bool     `toml:"enabled" json:"enabled"`
	ServiceName     string   `toml:"service_name" json:"serviceName"`
	PublishInterval Duration `toml:"publish_interval" json:"publishInterval"`
}

// Cron publishes Data on Topic whenever Schedule fires.
type Cron struct {
	Name     string         `toml:"name" json:"name"`
	Schedule string         `toml:"schedule" json:"schedule"`
	Timezone string         `toml:"timezone" json:"timezone,omitempty"`
	Topic    string         `toml:"topic" json:"topic"`
	Data     map[string]any `toml:"data" json:"data,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Gateway: Gateway{
			Bind: DefaultBind,
			Port: DefaultPort,
			Path: DefaultWSPath,
		},
		Connection: Connection{
			QueueSize:    DefaultQueueSize,
			PingInterval: Duration(DefaultPingInterval),
			WriteTimeout: Duration(DefaultWriteTimeout),
			ReadLimit:    DefaultReadLimit,
		},
		Telemetry: Telemetry{
			ServiceName: DefaultServiceName,
		},
	}
}

// PathFromEnv returns the config file named by SWITCHBOARD_CONFIG, or
// DefaultFile.
func PathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv(EnvVar)); path != "" {
		return path
	}
	return DefaultFile
}

// Load reads the file at path, choosing the format by extension, applies
// defaults for anything not set and validates the result.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}

	cfg := Default()

	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".hcl", ".json":
		err = decodeHCL(path, cfg)
	case ".toml":
		err = decodeTOML(path, cfg)
	default:
		err = fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	cfg.Source = path

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Gateway.Bind == "" {
		errs = append(errs, errors.New("gateway.bind must not be empty"))
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	switch path := c.Gateway.Path; {
	case !strings.HasPrefix(path, "/"):
		errs = append(errs, fmt.Errorf("gateway.path %q must start with /", path))
	case path == "/" || path == "/health" || path == "/config":
		errs = append(errs, fmt.Errorf("gateway.path %q is reserved", path))
	}

	if c.Connection.QueueSize <= 0 {
		errs = append(errs, errors.New("connection.queue_size must be positive"))
	}
	if c.Connection.PingInterval < 0 {
		errs = append(errs, errors.New("connection.ping_interval must not be negative"))
	}
	if c.Connection.ReadTimeout < 0 {
		errs = append(errs, errors.New("connection.read_timeout must not be negative"))
	}
	if c.Connection.WriteTimeout <= 0 {
		errs = append(errs, errors.New("connection.write_timeout must be positive"))
	}
	if c.Connection.ReadLimit <= 0 {
		errs = append(errs, errors.New("connection.read_limit must be positive"))
	}
	if c.Telemetry.PublishInterval < 0 {
		errs = append(errs, errors.New("telemetry.publish_interval must not be negative"))
	}

	seen := make(map[string]bool, len(c.Crons))
	for i, cron := range c.Crons {
		switch {
		case cron.Name == "":
			errs = append(errs, fmt.Errorf("cron #%d has no name", i+1))
		case seen[cron.Name]:
			errs = append(errs, fmt.Errorf("cron %q is defined more than once", cron.Name))
		}
		seen[cron.Name] = true

		if cron.Schedule == "" {
			errs = append(errs, fmt.Errorf("cron %q has no schedule", cron.Name))
		}
		if cron.Topic == "" {
			errs = append(errs, fmt.Errorf("cron %q has no topic", cron.Name))
		}
	}

	return errors.Join(errs...)
}

// Name returns the base name of the source file, or "default".
func (c *Config) Name() string {
	if c.Source == "" {
		return "default"
	}
	return filepath.Base(c.Source)
}

// Map returns the configuration as generic JSON data.
func (c *Config) Map() (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
