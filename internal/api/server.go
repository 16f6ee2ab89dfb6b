package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/foxzi/leadcast/internal/campaign"
	"github.com/foxzi/leadcast/internal/config"
	"github.com/foxzi/leadcast/internal/dispatch"
	"github.com/foxzi/leadcast/internal/ingest"
	"github.com/foxzi/leadcast/internal/ipfilter"
	"github.com/foxzi/leadcast/internal/metrics"
)

// Version is reported by /health. Set by the binary at startup.
var Version = "dev"

// Dispatcher runs dispatch batches
type Dispatcher interface {
	Run(ctx context.Context, req dispatch.Request) (*dispatch.Summary, error)
}

// EventProcessor applies provider events and tracked clicks
type EventProcessor interface {
	Process(ctx context.Context, ev campaign.ProviderEvent) (*ingest.Result, error)
	TrackClick(ctx context.Context, assignmentID string, meta map[string]any) (*ingest.Result, error)
}

// AssignmentReader reads the assignment ledger
type AssignmentReader interface {
	GetByID(ctx context.Context, id string) (*campaign.Assignment, error)
	ListEvents(ctx context.Context, assignmentID string) ([]campaign.Event, error)
	CountClicks(ctx context.Context, persona campaign.PersonaID) (int64, error)
}

// VariantLister lists a persona's variants
type VariantLister interface {
	ListByPersona(ctx context.Context, persona campaign.PersonaID) ([]campaign.Variant, error)
}

// StatsReader reads variant counters
type StatsReader interface {
	Get(ctx context.Context, persona campaign.PersonaID) (map[campaign.VariantID]campaign.Stat, error)
}

// ErrorLister lists error log records
type ErrorLister interface {
	List(ctx context.Context, workflow string, limit int) ([]campaign.ErrorRecord, error)
}

// Deps bundles the collaborators of the API server. Errors and WebhookFilter
// are optional.
type Deps struct {
	Dispatcher    Dispatcher
	Events        EventProcessor
	Normalizers   *ingest.Registry
	Assignments   AssignmentReader
	Variants      VariantLister
	Stats         StatsReader
	Errors        ErrorLister
	WebhookFilter *ipfilter.Filter
}

// Server is the HTTP API server
type Server struct {
	router      *chi.Mux
	httpServer  *http.Server
	config      *config.APIConfig
	redirectURL string
	deps        Deps
	logger      *slog.Logger
	startTime   time.Time

	// ctx outlives requests; dispatch batches run under it.
	ctx context.Context
}

// NewServer creates a new API server. Clicks on /t/{id} redirect to redirectURL.
func NewServer(cfg *config.APIConfig, redirectURL string, deps Deps, logger *slog.Logger) *Server {
	if deps.WebhookFilter == nil {
		deps.WebhookFilter = ipfilter.New(nil, logger)
	}
	s := &Server{
		router:      chi.NewRouter(),
		config:      cfg,
		redirectURL: redirectURL,
		deps:        deps,
		logger:      logger.With("component", "api"),
		startTime:   time.Now(),
		ctx:         context.Background(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// Provider callbacks and email links are reached from third-party origins.
	public := cors.Handler(cors.Options{
		AllowedOrigins: s.config.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Client-Info", "Apikey",
			"Svix-Id", "Svix-Timestamp", "Svix-Signature"},
		MaxAge: 300,
	})

	s.router.Group(func(r chi.Router) {
		r.Use(public)
		r.With(s.deps.WebhookFilter.Middleware).Post("/webhooks/{provider}", s.handleWebhook)
		r.Get("/t/{assignmentID}", s.handleTrack)
	})

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/dispatch", s.handleDispatch)
		r.Get("/stats/{persona}", s.handleStats)
		r.Get("/assignments/{id}", s.handleAssignment)
		r.Get("/errors", s.handleErrors)
	})
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.ctx = ctx
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down HTTP API server")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
