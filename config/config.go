// Package config describes a network of components in YAML and loads it,
// with overrides taken from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pvbeek/componentnetwork/connections"
	cnerrors "github.com/pvbeek/componentnetwork/errors"
	"github.com/pvbeek/componentnetwork/ingress"
)

// Config is the configuration of the cnet commands.
type Config struct {
	Source      SourceConfig         `yaml:"source"`
	Ring        RingConfig           `yaml:"ring"`
	Web         WebConfig            `yaml:"web"`
	Connections []connections.Config `yaml:"connections"`
	Log         LogConfig            `yaml:"log"`
	Ingress     IngressConfig        `yaml:"ingress"`
	Monitor     MonitorConfig        `yaml:"monitor"`
	NATS        NATSConfig           `yaml:"nats"`
}

// SourceConfig paces the Source. A zero Capacity or Limit means unbounded.
type SourceConfig struct {
	Interval time.Duration `yaml:"interval"`
	Capacity int           `yaml:"capacity"`
	Limit    int           `yaml:"limit"`
}

// RingConfig names the connections of the Source, Relay and Terminal ring.
// Forward and Log may be empty.
type RingConfig struct {
	Out      string `yaml:"out"`
	Forward  string `yaml:"forward"`
	Feedback string `yaml:"feedback"`
	Log      string `yaml:"log"`
}

// WebConfig names the connections of the Echo component.
type WebConfig struct {
	Connection string `yaml:"connection"`
	Log        string `yaml:"log"`
}

// LogConfig selects the sinks of the Log component and the diagnostic logger.
type LogConfig struct {
	// Stdout prints trace lines as "[LOG] <line>".
	Stdout bool `yaml:"stdout"`

	// Structured emits trace lines through the diagnostic logger.
	Structured bool `yaml:"structured"`

	// Record stores trace lines in <Record>.sqlite3 when set.
	Record string `yaml:"record"`

	// SequentialIDs numbers recorded entries 1, 2, 3 instead of using xids.
	SequentialIDs bool `yaml:"sequential_ids"`

	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IngressConfig throttles and opens up the http ingress server.
type IngressConfig struct {
	RateLimit   float64  `yaml:"rate_limit"`
	Burst       int      `yaml:"burst"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// MonitorConfig controls the monitoring dashboard.
type MonitorConfig struct {
	Enabled     bool `yaml:"enabled"`
	Port        int  `yaml:"port"`
	OpenBrowser bool `yaml:"open_browser"`
}

// NATSConfig locates the server used by nats connections.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// Default returns the ring of the run command: a bidirectional AB link
// carrying Message values, a bidirectional BC link, a unidirectional CA
// feedback link and a unidirectional log link. The web command uses an http
// connection named Web.
func Default() *Config {
	return &Config{
		Source: SourceConfig{Interval: 3 * time.Second},
		Ring: RingConfig{
			Out:      "AB",
			Forward:  "BC",
			Feedback: "CA",
			Log:      "Log",
		},
		Web: WebConfig{Connection: "Web", Log: "Log"},
		Connections: []connections.Config{
			{Name: "AB", Kind: connections.KindQueue, Bidirectional: true, Contract: "message"},
			{Name: "BC", Kind: connections.KindQueue, Bidirectional: true},
			{Name: "CA", Kind: connections.KindQueue, Contract: "message"},
			{Name: "Log", Kind: connections.KindQueue},
			{
				Name:          "Web",
				Kind:          connections.KindHTTP,
				Bidirectional: true,
				Port:          ingress.DefaultPort,
				HandlerID:     "web_handler",
			},
		},
		Log: LogConfig{
			Stdout: true,
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, cnerrors.WrapInvalid(err, "config", "Load", "read "+path)
	}

	return Parse(b)
}

// Parse decodes YAML over the defaults and validates the result. A document
// that lists connections replaces the default connections.
func Parse(b []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, cnerrors.WrapInvalid(
			fmt.Errorf("%w: %w", cnerrors.ErrInvalidConfig, err),
			"config", "Parse", "decode yaml")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Connection returns the connection named name.
func (c *Config) Connection(name string) (connections.Config, bool) {
	for _, conn := range c.Connections {
		if conn.Name == name {
			return conn, true
		}
	}

	return connections.Config{}, false
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return cnerrors.WrapInvalid(
			fmt.Errorf("%w: %s", cnerrors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
			"config", "Validate", "validate configuration")
	}

	if c.Source.Interval <= 0 {
		return invalid("source interval must be positive, got %s", c.Source.Interval)
	}
	if c.Source.Capacity < 0 {
		return invalid("source capacity must not be negative, got %d", c.Source.Capacity)
	}
	if c.Source.Limit < 0 {
		return invalid("source limit must not be negative, got %d", c.Source.Limit)
	}

	seen := make(map[string]bool)
	for _, conn := range c.Connections {
		if conn.Name == "" {
			return invalid("connection without a name")
		}
		if seen[conn.Name] {
			return invalid("connection %s declared twice", conn.Name)
		}
		seen[conn.Name] = true

		switch conn.Kind {
		case connections.KindQueue, connections.KindHTTP, connections.KindNATS, "":
		default:
			return invalid("connection %s has unsupported kind %q", conn.Name, conn.Kind)
		}

		if conn.Port < 0 || conn.Port > 65535 {
			return invalid("connection %s has port %d out of range", conn.Name, conn.Port)
		}
	}

	refs := []struct {
		field, name string
		required    bool
	}{
		{"ring.out", c.Ring.Out, true},
		{"ring.forward", c.Ring.Forward, false},
		{"ring.feedback", c.Ring.Feedback, false},
		{"ring.log", c.Ring.Log, false},
		{"web.connection", c.Web.Connection, false},
		{"web.log", c.Web.Log, false},
	}
	for _, ref := range refs {
		if ref.name == "" {
			if ref.required {
				return invalid("%s is required", ref.field)
			}
			continue
		}
		if !seen[ref.name] {
			return invalid("%s names unknown connection %s", ref.field, ref.name)
		}
	}

	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		return invalid("monitor port %d out of range", c.Monitor.Port)
	}

	return nil
}

// LoadEnv loads the given .env files into the process environment. Without
// files it loads ./.env when it exists. Variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}

	if err := godotenv.Load(files...); err != nil {
		return cnerrors.WrapInvalid(err, "config", "LoadEnv", "load env files")
	}

	return nil
}

// ApplyEnv overrides the configuration with CN_* environment variables and
// validates the result.
func (c *Config) ApplyEnv() error {
	if err := c.applyEnv(); err != nil {
		return err
	}

	return c.Validate()
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("CN_SOURCE_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("CN_SOURCE_INTERVAL", v, err)
		}
		c.Source.Interval = d
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"CN_SOURCE_CAPACITY", &c.Source.Capacity},
		{"CN_SOURCE_LIMIT", &c.Source.Limit},
		{"CN_MONITOR_PORT", &c.Monitor.Port},
	}
	for _, e := range ints {
		v, ok := os.LookupEnv(e.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError(e.key, v, err)
		}
		*e.dst = n
	}

	if v, ok := os.LookupEnv("CN_NATS_URL"); ok {
		c.NATS.URL = v
	}
	if v, ok := os.LookupEnv("CN_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv("CN_LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	if v, ok := os.LookupEnv("CN_RECORD"); ok {
		c.Log.Record = v
	}

	return nil
}

func envError(key, value string, err error) error {
	return cnerrors.WrapInvalid(
		fmt.Errorf("%w: %s=%q: %w", cnerrors.ErrInvalidConfig, key, value, err),
		"config", "ApplyEnv", "read "+key)
}
