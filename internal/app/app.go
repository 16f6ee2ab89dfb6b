package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"github.com/foxzi/leadcast/internal/ai"
	"github.com/foxzi/leadcast/internal/api"
	"github.com/foxzi/leadcast/internal/bandit"
	"github.com/foxzi/leadcast/internal/campaign"
	"github.com/foxzi/leadcast/internal/classify"
	"github.com/foxzi/leadcast/internal/config"
	"github.com/foxzi/leadcast/internal/dispatch"
	"github.com/foxzi/leadcast/internal/ingest"
	"github.com/foxzi/leadcast/internal/ipfilter"
	"github.com/foxzi/leadcast/internal/metrics"
	"github.com/foxzi/leadcast/internal/ratelimit"
	"github.com/foxzi/leadcast/internal/stats"
	"github.com/foxzi/leadcast/internal/store"
	"github.com/foxzi/leadcast/internal/transport"
)

// App is the main application
type App struct {
	config *config.Config
	logger *slog.Logger

	db    *store.DB
	state *bolt.DB
	redis *redis.Client

	leads       *store.LeadRepository
	variants    *store.VariantRepository
	assignments *store.AssignmentRepository
	errorLog    *store.ErrorLogRepository
	stats       stats.Store

	rateLimiter   *ratelimit.Limiter
	metrics       *metrics.Metrics
	collector     *metrics.Collector
	metricsServer *metrics.Server

	dispatcher *dispatch.Dispatcher
	scheduler  *dispatch.Scheduler
	ingestor   *ingest.Ingestor
	apiServer  *api.Server
}

// New creates a new application. The ledger schema is migrated before
// anything else is built.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)
	a := &App{config: cfg, logger: logger}

	if err := a.build(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.config
	logger := a.logger

	// Ledger database
	db, err := store.Open(store.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	a.leads = store.NewLeadRepository(db)
	a.variants = store.NewVariantRepository(db)
	a.assignments = store.NewAssignmentRepository(db)
	a.errorLog = store.NewErrorLogRepository(db)

	// Local state for quota counters and persisted metrics
	if err := os.MkdirAll(filepath.Dir(cfg.StatePath()), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	state, err := bolt.Open(cfg.StatePath(), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open state file %s: %w", cfg.StatePath(), err)
	}
	a.state = state

	// Variant statistics
	switch cfg.Stats.Backend {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Stats.Redis.Addr,
			Password: cfg.Stats.Redis.Password,
			DB:       cfg.Stats.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Stats.Redis.Addr, err)
		}
		a.stats = stats.NewRedisStore(a.redis, cfg.Stats.Redis.KeyPrefix)
		logger.Info("variant stats in redis", "addr", cfg.Stats.Redis.Addr)
	default:
		a.stats = store.NewStatsRepository(db)
		a.assignments.WithInlineStats()
	}

	// Send quotas
	if cfg.RateLimit.Enabled {
		a.rateLimiter, err = ratelimit.NewLimiter(state, &ratelimit.Config{
			Global:        limitConfig(cfg.RateLimit.Global),
			Transport:     limitConfig(cfg.RateLimit.Transport),
			Persona:       limitConfig(cfg.RateLimit.Persona),
			FlushInterval: cfg.RateLimit.FlushInterval,
		})
		if err != nil {
			return fmt.Errorf("failed to create rate limiter: %w", err)
		}
		logger.Info("send quotas enabled")
	}

	// Metrics
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		metrics.SetGlobal(a.metrics)

		// Storage size is only reported for a local ledger file
		storagePath := ""
		if cfg.Database.Driver == string(store.DialectSQLite) && cfg.Database.DSN != ":memory:" {
			storagePath = cfg.Database.DSN
		}
		a.collector, err = metrics.NewCollector(state, a.metrics, a.assignments, storagePath, cfg.Metrics.FlushInterval)
		if err != nil {
			return fmt.Errorf("failed to create metrics collector: %w", err)
		}

		filter := ipfilter.New(cfg.Metrics.AllowedIPs, logger.With("component", "metrics_filter"))
		a.metricsServer = metrics.NewServer(a.metrics, cfg.Metrics.ListenAddr, cfg.Metrics.Path, filter, logger)
	}

	// Content generation and persona classification
	generator, err := buildGenerator(ctx, cfg.AI, logger)
	if err != nil {
		return err
	}
	var fallback classify.Fallback
	var content dispatch.ContentGenerator
	if generator != nil {
		fallback = generator
		content = generator
	}
	classifier := classify.New(fallback, logger)

	tr, err := buildTransport(ctx, cfg.Transport, logger)
	if err != nil {
		return err
	}

	layout, err := dispatch.NewLayout(cfg.Dispatch.Signature)
	if err != nil {
		return fmt.Errorf("failed to build email layout: %w", err)
	}

	deps := dispatch.Deps{
		Leads:      a.leads,
		Classifier: classifier,
		Content:    content,
		Variants:   a.variants,
		Stats:      a.stats,
		Ledger:     a.assignments,
		Errors:     a.errorLog,
		Selector: bandit.NewSelector(bandit.Config{
			ExploreThreshold:  cfg.Dispatch.ExploreThreshold,
			NormalApproxAbove: cfg.Dispatch.NormalApproxAbove,
		}, nil),
		Transport: tr,
		Layout:    layout,
	}
	if a.rateLimiter != nil {
		deps.Quota = a.rateLimiter
	}

	a.dispatcher = dispatch.New(dispatch.Config{
		DefaultLimit: cfg.Dispatch.DefaultLimit,
		MaxLimit:     cfg.Dispatch.MaxLimit,
		DueAfter:     cfg.Dispatch.DueAfter,
		MaxVariants:  cfg.Dispatch.MaxVariants,
		Delay:        cfg.Dispatch.Delay,
		CallTimeout:  cfg.Dispatch.CallTimeout,
		PublicURL:    cfg.Tracking.PublicURL,
		From:         cfg.Dispatch.From,
		FromName:     cfg.Dispatch.FromName,
		ReplyTo:      cfg.Dispatch.ReplyTo,
	}, deps, logger)

	if cfg.Dispatch.ScheduleInterval > 0 {
		a.scheduler = dispatch.NewScheduler(a.dispatcher, cfg.Dispatch.ScheduleInterval, cfg.Dispatch.ScheduleLimit, logger)
	}

	// Event ingestion
	a.ingestor = ingest.New(a.assignments, a.stats, a.errorLog, logger)

	normalizers, err := buildNormalizers(cfg.Webhooks, logger)
	if err != nil {
		return err
	}

	var filterOpts []ipfilter.Option
	if cfg.Webhooks.TrustForwardedHeaders {
		filterOpts = append(filterOpts, ipfilter.TrustForwardedHeaders())
	}
	webhookFilter := ipfilter.New(cfg.Webhooks.AllowedIPs, logger.With("component", "webhook_filter"), filterOpts...)

	a.apiServer = api.NewServer(&cfg.API, cfg.Tracking.RedirectURL, api.Deps{
		Dispatcher:    a.dispatcher,
		Events:        a.ingestor,
		Normalizers:   normalizers,
		Assignments:   a.assignments,
		Variants:      a.variants,
		Stats:         a.stats,
		Errors:        a.errorLog,
		WebhookFilter: webhookFilter,
	}, logger)

	logger.Info("components ready",
		"database", cfg.Database.Driver,
		"stats_backend", cfg.Stats.Backend,
		"ai_provider", cfg.AI.Provider,
		"transport", tr.Name(),
		"webhook_providers", normalizers.Names(),
	)
	return nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting leadcast",
		"api_addr", a.config.API.ListenAddr,
		"public_url", a.config.Tracking.PublicURL,
		"schedule_interval", a.config.Dispatch.ScheduleInterval,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.apiServer.Run(gctx); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if a.metricsServer != nil {
		a.collector.Start(gctx)
		g.Go(func() error {
			if err := a.metricsServer.Run(gctx); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	if a.scheduler != nil {
		a.scheduler.Start()
	}

	err := g.Wait()
	if err != nil {
		a.logger.Error("server error", "error", err)
	} else {
		a.logger.Info("shutdown signal received")
	}

	if shutdownErr := a.Shutdown(); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}

// Dispatch runs one batch outside the server, as the CLI does.
func (a *App) Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Summary, error) {
	return a.dispatcher.Run(ctx, req)
}

// Report summarizes the variants of a persona.
func (a *App) Report(ctx context.Context, persona campaign.PersonaID) (*stats.Report, error) {
	variants, err := a.variants.ListByPersona(ctx, persona)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	counters, err := a.stats.Get(ctx, persona)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	clicks, err := a.assignments.CountClicks(ctx, persona)
	if err != nil {
		return nil, fmt.Errorf("failed to count clicks: %w", err)
	}
	return stats.BuildReport(persona, variants, counters, clicks), nil
}

// Shutdown stops background work and releases storage
func (a *App) Shutdown() error {
	a.logger.Info("shutting down")

	// Stop scheduler first (a running batch stops between leads)
	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	if err := a.close(); err != nil {
		return err
	}

	a.logger.Info("shutdown complete")
	return nil
}

// Close releases storage without the shutdown sequence, for one-shot commands.
func (a *App) Close() error {
	return a.close()
}

func (a *App) close() error {
	var firstErr error
	keep := func(what string, err error) {
		if err == nil {
			return
		}
		a.logger.Error(what+" error", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	// Persist counters before the state file closes
	if a.collector != nil {
		keep("metrics collector stop", a.collector.Stop())
		a.collector = nil
	}
	if a.rateLimiter != nil {
		keep("rate limiter stop", a.rateLimiter.Stop())
		a.rateLimiter = nil
	}
	if a.state != nil {
		keep("state close", a.state.Close())
		a.state = nil
	}
	if a.redis != nil {
		keep("redis close", a.redis.Close())
		a.redis = nil
	}
	if a.db != nil {
		keep("database close", a.db.Close())
		a.db = nil
	}
	return firstErr
}

func limitConfig(v *config.LimitValues) *ratelimit.LimitConfig {
	if v == nil {
		return nil
	}
	return &ratelimit.LimitConfig{
		MessagesPerHour: v.MessagesPerHour,
		MessagesPerDay:  v.MessagesPerDay,
	}
}

// buildGenerator returns nil when no model provider is configured.
func buildGenerator(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (*ai.Generator, error) {
	var completer ai.Completer
	switch cfg.Provider {
	case "bedrock":
		b, err := ai.NewBedrock(ctx, ai.BedrockConfig{
			Region:          cfg.Bedrock.Region,
			ModelID:         cfg.Bedrock.ModelID,
			AccessKeyID:     cfg.Bedrock.AccessKeyID,
			SecretAccessKey: cfg.Bedrock.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bedrock client: %w", err)
		}
		completer = b
	case "openai":
		completer = ai.NewOpenAI(ai.OpenAIConfig{
			Endpoint: cfg.OpenAI.Endpoint,
			APIKey:   cfg.OpenAI.APIKey,
			Model:    cfg.OpenAI.Model,
			Timeout:  cfg.OpenAI.Timeout,
		})
	default:
		logger.Info("content generation disabled, using fixed templates")
		return nil, nil
	}
	return ai.NewGenerator(completer, cfg.Category, logger), nil
}

func buildTransport(ctx context.Context, cfg config.TransportConfig, logger *slog.Logger) (transport.Transport, error) {
	switch cfg.Type {
	case "resend":
		return transport.NewResend(transport.ResendConfig{
			APIKey:  cfg.Resend.APIKey,
			BaseURL: cfg.Resend.BaseURL,
			Timeout: cfg.Resend.Timeout,
		}), nil
	case "ses":
		t, err := transport.NewSES(ctx, transport.SESConfig{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create ses transport: %w", err)
		}
		return t, nil
	case "smtp":
		relay := transport.NewSMTPRelay(transport.SMTPConfig{
			Addr:               cfg.SMTP.Addr,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			Security:           cfg.SMTP.Security,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
			Timeout:            cfg.SMTP.Timeout,
		}, logger)
		if cfg.SMTP.DKIM.Enabled {
			signer, err := transport.LoadDKIMSigner(cfg.SMTP.DKIM.KeyFile, cfg.SMTP.DKIM.Domain, cfg.SMTP.DKIM.Selector)
			if err != nil {
				return nil, fmt.Errorf("failed to load DKIM key: %w", err)
			}
			relay.SetDKIMSigner(signer)
			logger.Info("DKIM signing enabled", "domain", cfg.SMTP.DKIM.Domain, "selector", cfg.SMTP.DKIM.Selector)
		}
		return relay, nil
	default:
		logger.Warn("log transport selected, emails are not delivered")
		return transport.NewLogTransport(logger), nil
	}
}

func buildNormalizers(cfg config.WebhooksConfig, logger *slog.Logger) (*ingest.Registry, error) {
	var normalizers []ingest.Normalizer
	for _, name := range cfg.Providers {
		switch name {
		case ingest.ProviderResend:
			n, err := ingest.NewResendNormalizer(cfg.ResendSecret)
			if err != nil {
				return nil, fmt.Errorf("failed to create resend webhook verifier: %w", err)
			}
			if cfg.ResendSecret == "" {
				logger.Warn("resend webhook signatures are not verified")
			}
			normalizers = append(normalizers, n)
		case ingest.ProviderSES:
			normalizers = append(normalizers, ingest.NewSESNormalizer(logger))
		default:
			return nil, fmt.Errorf("unknown webhook provider: %s", name)
		}
	}
	return ingest.NewRegistry(normalizers...), nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
