package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the service configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultUpstreamURL     = "https://api.hypixel.net/skyblock/bazaar"
	DefaultUpstreamTimeout = 15 * time.Second
	DefaultMaxBodyBytes    = 64 << 20
	DefaultUserAgent       = "bazaarmirror/1.0"
	DefaultUpstreamKeyHdr  = "API-Key"
	DefaultRefreshInterval = 300 * time.Second
	DefaultPerMinute       = 120
	DefaultQueryPerSecond  = 10
	DefaultLimiterIdleTTL  = 10 * time.Minute
	DefaultStreamInterval  = 5 * time.Second
	DefaultCertInterval    = time.Hour
	DefaultAPIKeyHeader    = "x-api-key"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
)

// Config is the full configuration tree parsed from config.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the inbound HTTP settings.
type ServerConfig struct {
	// HTTPPort is the port the query API, metrics and stream listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures optional API key authentication of HTTP clients.
	Auth AuthConfig `yaml:"auth"`

	// RateLimit configures per-client request limits.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Stream configures the websocket health stream.
	Stream StreamConfig `yaml:"stream"`
}

// AuthConfig controls client authentication on the HTTP API.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultAPIKeyHeader
}

// RateLimitConfig mirrors the limits of the public bazaar proxy: a default
// per-minute budget on every route and a tighter per-second budget on the
// query routes (search and item lookup).
type RateLimitConfig struct {
	Enabled          bool          `yaml:"enabled"`
	DefaultPerMinute int           `yaml:"default_per_minute"`
	QueryPerSecond   int           `yaml:"query_per_second"`
	IdleTTL          time.Duration `yaml:"idle_ttl"`
}

// StreamConfig controls the websocket broadcast cadence.
type StreamConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// UpstreamConfig describes the market-data endpoint mirrored by the service.
type UpstreamConfig struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	UserAgent    string        `yaml:"user_agent"`

	// KeyEnv names the environment variable holding an optional upstream API key.
	KeyEnv string `yaml:"key_env"`

	// KeyHeader is the header the upstream key is sent in (default "API-Key").
	KeyHeader string `yaml:"key_header"`

	// CertCheckInterval is how often the upstream TLS certificate is
	// inspected. Zero disables the check. Default: 1h.
	CertCheckInterval time.Duration `yaml:"cert_check_interval"`
}

// Key returns the upstream API key resolved from the environment.
func (u UpstreamConfig) Key() string {
	if u.KeyEnv == "" {
		return ""
	}
	return os.Getenv(u.KeyEnv)
}

// RefreshConfig controls the cache refresh loop.
type RefreshConfig struct {
	// Interval is the pause between the end of one refresh cycle and the
	// start of the next. Default: 5m.
	Interval time.Duration `yaml:"interval"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression evaluated against the refresher status:
	// "consecutive_failures >= 3", "age_seconds > 900",
	// "publish_age_seconds > 600", "cached_items < 1",
	// "state == backoff".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
	// Format is one of: json | text.
	Format string `yaml:"format"`
}

// SlogLevel converts Level to a slog.Level. Unknown values map to info;
// validate rejects them before this is reached.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the config file at path. An empty path yields the
// defaults. Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			RateLimit: RateLimitConfig{
				Enabled:          true,
				DefaultPerMinute: DefaultPerMinute,
				QueryPerSecond:   DefaultQueryPerSecond,
				IdleTTL:          DefaultLimiterIdleTTL,
			},
			Stream: StreamConfig{Interval: DefaultStreamInterval},
		},
		Upstream: UpstreamConfig{
			URL:          DefaultUpstreamURL,
			Timeout:      DefaultUpstreamTimeout,
			MaxBodyBytes: DefaultMaxBodyBytes,
			UserAgent:    DefaultUserAgent,
			KeyHeader:    DefaultUpstreamKeyHdr,

			CertCheckInterval: DefaultCertInterval,
		},
		Refresh: RefreshConfig{Interval: DefaultRefreshInterval},
		Log:     LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	rl := cfg.Server.RateLimit
	if rl.Enabled {
		if rl.DefaultPerMinute <= 0 {
			return fmt.Errorf("server.rate_limit.default_per_minute must be positive")
		}
		if rl.QueryPerSecond <= 0 {
			return fmt.Errorf("server.rate_limit.query_per_second must be positive")
		}
	}
	if rl.IdleTTL <= 0 {
		return fmt.Errorf("server.rate_limit.idle_ttl must be positive")
	}
	if cfg.Server.Stream.Interval <= 0 {
		return fmt.Errorf("server.stream.interval must be positive")
	}

	u, err := url.Parse(cfg.Upstream.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upstream.url %q must be an absolute http(s) URL", cfg.Upstream.URL)
	}
	if cfg.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if cfg.Upstream.MaxBodyBytes <= 0 {
		return fmt.Errorf("upstream.max_body_bytes must be positive")
	}
	if cfg.Upstream.CertCheckInterval < 0 {
		return fmt.Errorf("upstream.cert_check_interval must not be negative")
	}
	if cfg.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be positive")
	}

	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("alerts.rules[%d]: name is required", i)
		}
		if len(strings.Fields(r.Condition)) != 3 {
			return fmt.Errorf("alerts.rules[%d] %q: condition %q must be \"field op value\"", i, r.Name, r.Condition)
		}
		switch r.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("alerts.rules[%d] %q: unknown severity %q", i, r.Name, r.Severity)
		}
	}
	for i, w := range cfg.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q unknown: want json|text", cfg.Log.Format)
	}
	return nil
}
