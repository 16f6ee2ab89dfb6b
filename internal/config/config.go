package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. LEADCAST_API_API_KEY.
const EnvPrefix = "LEADCAST_"

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	API       APIConfig       `yaml:"api" envPrefix:"API_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Stats     StatsConfig     `yaml:"stats" envPrefix:"STATS_"`
	Dispatch  DispatchConfig  `yaml:"dispatch" envPrefix:"DISPATCH_"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"` // Transport send quotas
	Tracking  TrackingConfig  `yaml:"tracking" envPrefix:"TRACKING_"`
	Webhooks  WebhooksConfig  `yaml:"webhooks" envPrefix:"WEBHOOKS_"`
	AI        AIConfig        `yaml:"ai" envPrefix:"AI_"`
	Transport TransportConfig `yaml:"transport" envPrefix:"TRANSPORT_"`
	Metrics   MetricsConfig   `yaml:"metrics" envPrefix:"METRICS_"` // Prometheus metrics configuration
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOGGING_"`
}

// ServerConfig contains process-level settings
type ServerConfig struct {
	// DataDir holds the bbolt state file (quota counters, persisted metrics)
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr   string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	APIKey       string        `yaml:"api_key" env:"API_KEY"`
	CORSOrigins  []string      `yaml:"cors_origins" env:"CORS_ORIGINS"`     // Empty = any origin
	MaxBodyBytes int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"` // Default: 1MB
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`     // Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`   // Default: 15m, a dispatch batch answers synchronously
}

// DatabaseConfig contains the ledger database settings
type DatabaseConfig struct {
	Driver       string `yaml:"driver" env:"DRIVER"` // sqlite3 or postgres
	DSN          string `yaml:"dsn" env:"DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
}

// StatsConfig selects the variant statistics backend
type StatsConfig struct {
	Backend string      `yaml:"backend" env:"BACKEND"` // sql or redis
	Redis   RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DispatchConfig contains dispatch loop settings
type DispatchConfig struct {
	DefaultLimit     int           `yaml:"default_limit" env:"DEFAULT_LIMIT"`
	MaxLimit         int           `yaml:"max_limit" env:"MAX_LIMIT"`
	DueAfter         time.Duration `yaml:"due_after" env:"DUE_AFTER"`
	MaxVariants      int           `yaml:"max_variants" env:"MAX_VARIANTS"`
	Delay            time.Duration `yaml:"delay" env:"DELAY"`
	CallTimeout      time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	ScheduleInterval time.Duration `yaml:"schedule_interval" env:"SCHEDULE_INTERVAL"` // 0 = only on demand
	ScheduleLimit    int           `yaml:"schedule_limit" env:"SCHEDULE_LIMIT"`

	From     string `yaml:"from" env:"FROM"`
	FromName string `yaml:"from_name" env:"FROM_NAME"`
	ReplyTo  string `yaml:"reply_to" env:"REPLY_TO"`

	Signature string `yaml:"signature" env:"SIGNATURE"`

	// Selector tuning
	ExploreThreshold  int64   `yaml:"explore_threshold" env:"EXPLORE_THRESHOLD"`
	NormalApproxAbove float64 `yaml:"normal_approx_above" env:"NORMAL_APPROX_ABOVE"` // 0 = exact Beta draws
}

// RateLimitConfig contains send quota settings
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// Global quota across all sends
	Global *LimitValues `yaml:"global,omitempty"`

	// Quota per transport
	Transport *LimitValues `yaml:"transport,omitempty"`

	// Quota per persona
	Persona *LimitValues `yaml:"persona,omitempty"`

	FlushInterval time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
}

// LimitValues contains rate limit values
type LimitValues struct {
	MessagesPerHour int `yaml:"messages_per_hour"`
	MessagesPerDay  int `yaml:"messages_per_day"`
}

// TrackingConfig contains click tracking settings
type TrackingConfig struct {
	// PublicURL is the externally reachable base of this service, used in email links
	PublicURL string `yaml:"public_url" env:"PUBLIC_URL"`
	// RedirectURL is where tracked clicks land
	RedirectURL string `yaml:"redirect_url" env:"REDIRECT_URL"`
}

// WebhooksConfig contains provider webhook settings
type WebhooksConfig struct {
	Providers             []string `yaml:"providers" env:"PROVIDERS"`     // Default: resend, ses
	AllowedIPs            []string `yaml:"allowed_ips" env:"ALLOWED_IPS"` // Empty = allow all
	TrustForwardedHeaders bool     `yaml:"trust_forwarded_headers" env:"TRUST_FORWARDED_HEADERS"`
	ResendSecret          string   `yaml:"resend_secret" env:"RESEND_SECRET"` // svix signing secret (whsec_...)
}

// AIConfig contains content generation settings
type AIConfig struct {
	Provider string        `yaml:"provider" env:"PROVIDER"` // bedrock, openai or none
	Category string        `yaml:"category" env:"CATEGORY"`
	Bedrock  BedrockConfig `yaml:"bedrock" envPrefix:"BEDROCK_"`
	OpenAI   OpenAIConfig  `yaml:"openai" envPrefix:"OPENAI_"`
}

// BedrockConfig contains AWS Bedrock settings
type BedrockConfig struct {
	Region          string `yaml:"region" env:"REGION"`
	ModelID         string `yaml:"model_id" env:"MODEL_ID"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
}

// OpenAIConfig contains OpenAI-compatible chat API settings
type OpenAIConfig struct {
	Endpoint string        `yaml:"endpoint" env:"ENDPOINT"`
	APIKey   string        `yaml:"api_key" env:"API_KEY"`
	Model    string        `yaml:"model" env:"MODEL"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// TransportConfig selects and configures the email transport
type TransportConfig struct {
	Type   string              `yaml:"type" env:"TYPE"` // resend, ses, smtp or log
	Resend ResendConfig        `yaml:"resend" envPrefix:"RESEND_"`
	SES    SESConfig           `yaml:"ses" envPrefix:"SES_"`
	SMTP   SMTPTransportConfig `yaml:"smtp" envPrefix:"SMTP_"`
}

// ResendConfig contains Resend API settings
type ResendConfig struct {
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// SESConfig contains AWS SES settings
type SESConfig struct {
	Region           string `yaml:"region" env:"REGION"`
	AccessKeyID      string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey  string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	ConfigurationSet string `yaml:"configuration_set" env:"CONFIGURATION_SET"`
}

// SMTPTransportConfig contains SMTP relay settings
type SMTPTransportConfig struct {
	Addr               string        `yaml:"addr" env:"ADDR"`
	Username           string        `yaml:"username" env:"USERNAME"`
	Password           string        `yaml:"password" env:"PASSWORD"`
	Security           string        `yaml:"security" env:"SECURITY"` // none, starttls, tls
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
	Timeout            time.Duration `yaml:"timeout" env:"TIMEOUT"`
	DKIM               DKIMConfig    `yaml:"dkim" envPrefix:"DKIM_"`
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Selector string `yaml:"selector" env:"SELECTOR"`
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`
	Domain   string `yaml:"domain" env:"DOMAIN"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled" env:"ENABLED"`
	ListenAddr    string        `yaml:"listen_addr" env:"LISTEN_ADDR"`       // Default: :9090
	Path          string        `yaml:"path" env:"PATH"`                     // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips" env:"ALLOWED_IPS"`       // IP addresses/CIDRs allowed to access metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // json, text
}

// Load reads the YAML file at path, applies LEADCAST_* environment
// overrides and defaults, and validates the result. An empty path
// configures from the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for unset fields
func (c *Config) setDefaults() {
	if c.Server.DataDir == "" {
		c.Server.DataDir = "/var/lib/leadcast"
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxBodyBytes == 0 {
		c.API.MaxBodyBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 15 * time.Minute
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite3" {
		c.Database.DSN = filepath.Join(c.Server.DataDir, "leadcast.db")
	}

	if c.Stats.Backend == "" {
		c.Stats.Backend = "sql"
	}
	if c.Stats.Redis.Addr == "" {
		c.Stats.Redis.Addr = "localhost:6379"
	}
	if c.Stats.Redis.KeyPrefix == "" {
		c.Stats.Redis.KeyPrefix = "leadcast"
	}

	if c.Dispatch.DefaultLimit == 0 {
		c.Dispatch.DefaultLimit = 10
	}
	if c.Dispatch.MaxLimit == 0 {
		c.Dispatch.MaxLimit = 500
	}
	if c.Dispatch.DueAfter == 0 {
		c.Dispatch.DueAfter = 24 * time.Hour
	}
	if c.Dispatch.MaxVariants == 0 {
		c.Dispatch.MaxVariants = 3
	}
	if c.Dispatch.Delay == 0 {
		c.Dispatch.Delay = 7 * time.Second
	}
	if c.Dispatch.CallTimeout == 0 {
		c.Dispatch.CallTimeout = 30 * time.Second
	}
	if c.Dispatch.FromName == "" {
		c.Dispatch.FromName = "PreventIQ"
	}
	if c.Dispatch.ExploreThreshold == 0 {
		c.Dispatch.ExploreThreshold = 50
	}

	if c.RateLimit.FlushInterval == 0 {
		c.RateLimit.FlushInterval = 10 * time.Second
	}

	if c.Tracking.PublicURL == "" {
		c.Tracking.PublicURL = "http://localhost" + c.API.ListenAddr
	}

	if len(c.Webhooks.Providers) == 0 {
		c.Webhooks.Providers = []string{"resend", "ses"}
	}

	if c.AI.Provider == "" {
		c.AI.Provider = "none"
	}
	if c.AI.Bedrock.Region == "" {
		c.AI.Bedrock.Region = "us-east-1"
	}
	if c.AI.OpenAI.Timeout == 0 {
		c.AI.OpenAI.Timeout = 30 * time.Second
	}

	if c.Transport.Type == "" {
		c.Transport.Type = "log"
	}
	if c.Transport.SES.Region == "" {
		c.Transport.SES.Region = "us-east-1"
	}
	if c.Transport.SMTP.Security == "" {
		c.Transport.SMTP.Security = "starttls"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	validDrivers := map[string]bool{"sqlite3": true, "postgres": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("invalid database.driver: %s (must be sqlite3 or postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validBackends := map[string]bool{"sql": true, "redis": true}
	if !validBackends[c.Stats.Backend] {
		return fmt.Errorf("invalid stats.backend: %s (must be sql or redis)", c.Stats.Backend)
	}

	if c.Dispatch.DefaultLimit < 0 || c.Dispatch.MaxLimit < c.Dispatch.DefaultLimit {
		return fmt.Errorf("dispatch.default_limit must be between 0 and dispatch.max_limit")
	}
	if c.Dispatch.Delay < 0 || c.Dispatch.CallTimeout < 0 || c.Dispatch.ScheduleInterval < 0 {
		return fmt.Errorf("dispatch durations must not be negative")
	}
	if c.Dispatch.From == "" && c.Transport.Type != "log" {
		return fmt.Errorf("dispatch.from is required for transport %s", c.Transport.Type)
	}
	if c.Dispatch.NormalApproxAbove < 0 {
		return fmt.Errorf("dispatch.normal_approx_above must not be negative")
	}

	if err := validateURL("tracking.public_url", c.Tracking.PublicURL); err != nil {
		return err
	}
	if c.Tracking.RedirectURL == "" {
		return fmt.Errorf("tracking.redirect_url is required")
	}
	if err := validateURL("tracking.redirect_url", c.Tracking.RedirectURL); err != nil {
		return err
	}

	for _, p := range c.Webhooks.Providers {
		if p != "resend" && p != "ses" {
			return fmt.Errorf("invalid webhooks.providers entry: %s (must be resend or ses)", p)
		}
	}

	if err := c.validateAI(); err != nil {
		return err
	}
	if err := c.validateTransport(); err != nil {
		return err
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

func (c *Config) validateAI() error {
	switch c.AI.Provider {
	case "none", "bedrock":
	case "openai":
		if c.AI.OpenAI.Endpoint == "" {
			return fmt.Errorf("ai.openai.endpoint is required when ai.provider is openai")
		}
		if c.AI.OpenAI.APIKey == "" {
			return fmt.Errorf("ai.openai.api_key is required when ai.provider is openai")
		}
	default:
		return fmt.Errorf("invalid ai.provider: %s (must be bedrock, openai, or none)", c.AI.Provider)
	}
	return nil
}

func (c *Config) validateTransport() error {
	switch c.Transport.Type {
	case "log", "ses":
	case "resend":
		if c.Transport.Resend.APIKey == "" {
			return fmt.Errorf("transport.resend.api_key is required when transport.type is resend")
		}
	case "smtp":
		smtp := c.Transport.SMTP
		if smtp.Addr == "" {
			return fmt.Errorf("transport.smtp.addr is required when transport.type is smtp")
		}
		switch smtp.Security {
		case "none", "starttls", "tls":
		default:
			return fmt.Errorf("invalid transport.smtp.security: %s (must be none, starttls, or tls)", smtp.Security)
		}
		if smtp.DKIM.Enabled {
			if smtp.DKIM.Selector == "" {
				return fmt.Errorf("transport.smtp.dkim.selector is required when DKIM is enabled")
			}
			if smtp.DKIM.KeyFile == "" {
				return fmt.Errorf("transport.smtp.dkim.key_file is required when DKIM is enabled")
			}
			if smtp.DKIM.Domain == "" {
				return fmt.Errorf("transport.smtp.dkim.domain is required when DKIM is enabled")
			}
		}
	default:
		return fmt.Errorf("invalid transport.type: %s (must be resend, ses, smtp, or log)", c.Transport.Type)
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid %s: %q (must be an absolute http(s) URL)", field, raw)
	}
	return nil
}

// StatePath returns the bbolt state file path
func (c *Config) StatePath() string {
	return filepath.Join(c.Server.DataDir, "state.db")
}
