// Package config loads and validates the gateway's YAML configuration
// (spec §6): the YAML is unmarshalled straight into Config, environment
// overrides are layered on top, and the result is validated.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is one entry of the top-level "apps" map — a pushkin config
// entry as described in spec §3/§4.3-4.5. Fields not relevant to Type are
// simply left zero.
type AppConfig struct {
	Type          string `yaml:"type"`
	AppIDPattern  string `yaml:"app_id_pattern"`
	MaxConnections int   `yaml:"max_connections"`
	RateLimit     float64 `yaml:"rate_limit"`
	EventIDOnly   bool   `yaml:"event_id_only"`

	// APNs
	CertFile string `yaml:"certfile"`
	KeyFile  string `yaml:"keyfile"`
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	Topic    string `yaml:"topic"`
	Platform string `yaml:"platform"`

	// GCM/FCM
	ServiceAccountFile string `yaml:"service_account_file"`
	APIKey             string `yaml:"api_key"`
	ProjectID          string `yaml:"project_id"`

	// WebPush
	VAPIDPrivateKey  string   `yaml:"vapid_private_key"`
	VAPIDPublicKey   string   `yaml:"vapid_public_key"`
	VAPIDContactURI  string   `yaml:"vapid_contact_uri"`
	AllowedEndpoints []string `yaml:"allowed_endpoints"`
}

// HTTPConfig configures the ingress listener.
type HTTPConfig struct {
	BindAddresses  []string `yaml:"bind_addresses"`
	Port           int      `yaml:"port"`
	RequestTimeout int      `yaml:"request_timeout_seconds"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PrometheusConfig configures the metrics exporter.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// JaegerConfig is accepted but not wired; see SPEC_FULL.md §8.
type JaegerConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	Jaeger       string `yaml:"jaeger"`
}

// SentryConfig is accepted but not wired; see SPEC_FULL.md §8.
type SentryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// MetricsConfig groups all telemetry sink configuration.
type MetricsConfig struct {
	Prometheus  PrometheusConfig `yaml:"prometheus"`
	OpenTracing JaegerConfig     `yaml:"opentracing"`
	Sentry      SentryConfig     `yaml:"sentry"`
}

// Config is the fully validated gateway configuration.
type Config struct {
	Apps    map[string]AppConfig `yaml:"apps"`
	HTTP    HTTPConfig           `yaml:"http"`
	Log     LogConfig            `yaml:"log"`
	Metrics MetricsConfig        `yaml:"metrics"`
	Proxy   string               `yaml:"proxy"`
}

// Load reads and parses the YAML file at path, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides layers PUSHGATE_* environment variables over the
// parsed YAML, mirroring the teacher's UpdateConfigWithEnvOverrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PUSHGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = port
		}
	}
	if v := os.Getenv("PUSHGATE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PUSHGATE_PROXY"); v != "" {
		cfg.Proxy = v
	}
}

// Validate enforces the invariants spec §3/§6 require: at least one app
// must be configured, and every app must name a known type and a
// non-negative max_connections. It fills in defaults for an unset port,
// bind addresses, request timeout, log level and log format.
func (c *Config) Validate() error {
	if len(c.Apps) == 0 {
		return fmt.Errorf("config: at least one app must be configured")
	}
	for appID, app := range c.Apps {
		switch app.Type {
		case "apns", "gcm", "webpush":
		default:
			return fmt.Errorf("config: app %q has unknown type %q", appID, app.Type)
		}
		if app.MaxConnections < 0 {
			return fmt.Errorf("config: app %q has negative max_connections", appID)
		}
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 5000
	}
	if len(c.HTTP.BindAddresses) == 0 {
		c.HTTP.BindAddresses = []string{"0.0.0.0"}
	}
	if c.HTTP.RequestTimeout == 0 {
		c.HTTP.RequestTimeout = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	return nil
}

// AppIDPattern returns the app's configured match pattern, defaulting to
// the map key it was registered under.
func AppIDPattern(appID string, app AppConfig) string {
	if strings.TrimSpace(app.AppIDPattern) != "" {
		return app.AppIDPattern
	}
	return appID
}
