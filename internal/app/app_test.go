package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/leadcast/internal/campaign"
	"github.com/foxzi/leadcast/internal/config"
	"github.com/foxzi/leadcast/internal/dispatch"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	content := `
server:
  data_dir: "` + dir + `"
tracking:
  redirect_url: "https://preventiq.example"
rate_limit:
  enabled: true
  global:
    messages_per_hour: 10
metrics:
  enabled: true
  listen_addr: "127.0.0.1:0"
logging:
  level: error
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestNewAndClose(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := New(ctx, cfg)
	require.NoError(t, err)

	assert.NotNil(t, a.rateLimiter)
	assert.NotNil(t, a.collector)
	assert.Nil(t, a.scheduler)
	assert.FileExists(t, cfg.StatePath())
	assert.FileExists(t, cfg.Database.DSN)

	require.NoError(t, a.Close())
	// Second close is a no-op
	require.NoError(t, a.Close())
}

func TestDispatchWithoutLeads(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	summary, err := a.Dispatch(ctx, dispatch.Request{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Examined)
	assert.Equal(t, 0, summary.Processed)
}

func TestDispatchSendsThroughLogTransport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dispatch.Delay = 0
	cfg.Dispatch.From = "care@preventiq.example"
	ctx := context.Background()

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	// Without a content generator the batch relies on stored variants
	require.NoError(t, a.variants.Create(ctx, []campaign.Variant{{
		ID:        "ARCH_SEN_v1",
		PersonaID: "ARCH_SEN",
		Language:  "en",
		Content:   "Your annual check-up is due",
		Channel:   campaign.ChannelEmail,
		CreatedAt: time.Now().UTC(),
	}}))
	require.NoError(t, a.leads.Upsert(ctx, &campaign.Lead{
		ID:        "lead-1",
		Email:     "asha@example.com",
		Name:      "Asha",
		PersonaID: "ARCH_SEN",
		Language:  "en",
	}))

	summary, err := a.Dispatch(ctx, dispatch.Request{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Processed, "skipped: %+v", summary.Skipped)

	entry := summary.Entries[0]
	assignment, err := a.assignments.GetByID(ctx, entry.AssignmentID)
	require.NoError(t, err)
	require.NotNil(t, assignment)
	assert.Equal(t, campaign.StatusSent, assignment.Status)

	report, err := a.Report(ctx, entry.PersonaID)
	require.NoError(t, err)
	assert.Len(t, report.Variants, 1)
	assert.Equal(t, int64(0), report.TotalClicks)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.ListenAddr = "127.0.0.1:0"

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Run(ctx))
}

func TestBuildNormalizers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg, err := buildNormalizers(config.WebhooksConfig{Providers: []string{"ses", "resend"}}, logger)
	require.NoError(t, err)
	assert.Equal(t, []string{"resend", "ses"}, reg.Names())

	_, err = buildNormalizers(config.WebhooksConfig{Providers: []string{"mailgun"}}, logger)
	assert.Error(t, err)

	_, err = buildNormalizers(config.WebhooksConfig{Providers: []string{"resend"}, ResendSecret: "whsec_!!!"}, logger)
	assert.Error(t, err)
}

func TestBuildTransport(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	tests := []struct {
		cfg  config.TransportConfig
		want string
	}{
		{config.TransportConfig{Type: "log"}, "log"},
		{config.TransportConfig{Type: "resend", Resend: config.ResendConfig{APIKey: "re_test"}}, "resend"},
		{config.TransportConfig{Type: "smtp", SMTP: config.SMTPTransportConfig{Addr: "relay:587"}}, "smtp"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			tr, err := buildTransport(ctx, tt.cfg, logger)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tr.Name())
		})
	}

	_, err := buildTransport(ctx, config.TransportConfig{
		Type: "smtp",
		SMTP: config.SMTPTransportConfig{
			Addr: "relay:587",
			DKIM: config.DKIMConfig{Enabled: true, KeyFile: "/nonexistent.pem", Domain: "example.com", Selector: "s1"},
		},
	}, logger)
	assert.Error(t, err)
}

func TestLimitConfig(t *testing.T) {
	assert.Nil(t, limitConfig(nil))

	lc := limitConfig(&config.LimitValues{MessagesPerHour: 5, MessagesPerDay: 50})
	require.NotNil(t, lc)
	assert.Equal(t, 5, lc.MessagesPerHour)
	assert.Equal(t, 50, lc.MessagesPerDay)
}
