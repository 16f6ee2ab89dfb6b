package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath
}

func TestLoad(t *testing.T) {
	content := `
server:
  data_dir: "/tmp/leadcast"

api:
  listen_addr: ":9080"
  api_key: "test-api-key"

database:
  driver: postgres
  dsn: "postgres://leadcast@localhost/leadcast?sslmode=disable"

stats:
  backend: redis
  redis:
    addr: "redis:6379"

dispatch:
  default_limit: 20
  delay: 2s
  schedule_interval: 1h
  from: "care@preventiq.example"

rate_limit:
  enabled: true
  transport:
    messages_per_hour: 100
    messages_per_day: 1000

tracking:
  public_url: "https://api.preventiq.example"
  redirect_url: "https://preventiq.example/welcome"

ai:
  provider: bedrock
  bedrock:
    model_id: "anthropic.claude-3-haiku-20240307-v1:0"

transport:
  type: resend
  resend:
    api_key: "re_test"

logging:
  level: "debug"
  format: "text"
`
	cfg, err := Load(writeConfig(t, content))
	require.NoError(t, err)

	assert.Equal(t, ":9080", cfg.API.ListenAddr)
	assert.Equal(t, "test-api-key", cfg.API.APIKey)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "redis", cfg.Stats.Backend)
	assert.Equal(t, "redis:6379", cfg.Stats.Redis.Addr)
	assert.Equal(t, 20, cfg.Dispatch.DefaultLimit)
	assert.Equal(t, 2*time.Second, cfg.Dispatch.Delay)
	assert.Equal(t, time.Hour, cfg.Dispatch.ScheduleInterval)
	require.NotNil(t, cfg.RateLimit.Transport)
	assert.Equal(t, 100, cfg.RateLimit.Transport.MessagesPerHour)
	assert.Nil(t, cfg.RateLimit.Global)
	assert.Equal(t, "bedrock", cfg.AI.Provider)
	assert.Equal(t, "us-east-1", cfg.AI.Bedrock.Region)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/leadcast/state.db", cfg.StatePath())
}

func TestDefaults(t *testing.T) {
	content := `
tracking:
  redirect_url: "https://preventiq.example"
`
	cfg, err := Load(writeConfig(t, content))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.API.ListenAddr)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "/var/lib/leadcast/leadcast.db", cfg.Database.DSN)
	assert.Equal(t, "sql", cfg.Stats.Backend)
	assert.Equal(t, 10, cfg.Dispatch.DefaultLimit)
	assert.Equal(t, 7*time.Second, cfg.Dispatch.Delay)
	assert.Equal(t, 24*time.Hour, cfg.Dispatch.DueAfter)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.CallTimeout)
	assert.Equal(t, 3, cfg.Dispatch.MaxVariants)
	assert.Equal(t, int64(50), cfg.Dispatch.ExploreThreshold)
	assert.Zero(t, cfg.Dispatch.NormalApproxAbove)
	assert.Equal(t, "http://localhost:8080", cfg.Tracking.PublicURL)
	assert.Equal(t, []string{"resend", "ses"}, cfg.Webhooks.Providers)
	assert.Equal(t, "none", cfg.AI.Provider)
	assert.Equal(t, "log", cfg.Transport.Type)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":9090", cfg.Metrics.ListenAddr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestEnvOverrides(t *testing.T) {
	content := `
api:
  api_key: "from-file"
tracking:
  redirect_url: "https://preventiq.example"
`
	t.Setenv("LEADCAST_API_API_KEY", "from-env")
	t.Setenv("LEADCAST_DISPATCH_DELAY", "500ms")
	t.Setenv("LEADCAST_WEBHOOKS_ALLOWED_IPS", "10.0.0.0/8,192.168.1.1")
	t.Setenv("LEADCAST_TRANSPORT_TYPE", "smtp")
	t.Setenv("LEADCAST_TRANSPORT_SMTP_ADDR", "relay.example:587")
	t.Setenv("LEADCAST_DISPATCH_FROM", "care@preventiq.example")

	cfg, err := Load(writeConfig(t, content))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.API.APIKey)
	assert.Equal(t, 500*time.Millisecond, cfg.Dispatch.Delay)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.Webhooks.AllowedIPs)
	assert.Equal(t, "smtp", cfg.Transport.Type)
	assert.Equal(t, "relay.example:587", cfg.Transport.SMTP.Addr)
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("LEADCAST_TRACKING_REDIRECT_URL", "https://preventiq.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://preventiq.example", cfg.Tracking.RedirectURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Tracking.RedirectURL = "https://preventiq.example"
		cfg.setDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"bad stats backend", func(c *Config) { c.Stats.Backend = "memcached" }, "stats.backend"},
		{"missing redirect", func(c *Config) { c.Tracking.RedirectURL = "" }, "tracking.redirect_url"},
		{"relative public url", func(c *Config) { c.Tracking.PublicURL = "/t" }, "tracking.public_url"},
		{"bad provider", func(c *Config) { c.Webhooks.Providers = []string{"mailgun"} }, "webhooks.providers"},
		{"bad ai provider", func(c *Config) { c.AI.Provider = "gemini" }, "ai.provider"},
		{"openai without endpoint", func(c *Config) { c.AI.Provider = "openai" }, "ai.openai.endpoint"},
		{"resend without key", func(c *Config) {
			c.Transport.Type = "resend"
			c.Dispatch.From = "a@b.c"
		}, "transport.resend.api_key"},
		{"transport without from", func(c *Config) {
			c.Transport.Type = "ses"
		}, "dispatch.from"},
		{"smtp dkim incomplete", func(c *Config) {
			c.Transport.Type = "smtp"
			c.Dispatch.From = "a@b.c"
			c.Transport.SMTP.Addr = "relay:587"
			c.Transport.SMTP.DKIM.Enabled = true
		}, "dkim.selector"},
		{"bad transport", func(c *Config) { c.Transport.Type = "pigeon" }, "transport.type"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"limit above max", func(c *Config) { c.Dispatch.DefaultLimit = 1000 }, "dispatch.default_limit"},
		{"negative approx", func(c *Config) { c.Dispatch.NormalApproxAbove = -1 }, "normal_approx_above"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
