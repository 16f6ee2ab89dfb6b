// Package dispatch runs campaign batches: for each due lead it picks a
// persona, a subject variant and a body, records an assignment and hands
// the rendered message to a transport.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/foxzi/leadcast/internal/bandit"
	"github.com/foxzi/leadcast/internal/campaign"
	"github.com/foxzi/leadcast/internal/metrics"
	"github.com/foxzi/leadcast/internal/ratelimit"
	"github.com/foxzi/leadcast/internal/transport"
)

var (
	// ErrBatchRunning is returned when a batch is triggered while another runs.
	ErrBatchRunning = errors.New("dispatch batch already running")

	// ErrInvalidRequest is returned for malformed batch requests.
	ErrInvalidRequest = errors.New("invalid dispatch request")
)

// Error categories recorded in the error log
const (
	CategoryClassify  = "classify"
	CategoryVariants  = "variants"
	CategorySelect    = "select"
	CategoryLedger    = "ledger"
	CategoryTransport = "transport"
	CategoryQuota     = "quota"
	CategoryPanic     = "panic"
)

// LeadSource lists leads to contact and records dispatch results on them
type LeadSource interface {
	ListDue(ctx context.Context, limit int, ids []string, dueBefore time.Time) ([]campaign.Lead, error)
	MarkSent(ctx context.Context, leadID string, at time.Time) error
	SetPersona(ctx context.Context, leadID string, persona campaign.PersonaID) error
}

// Classifier assigns a persona to a lead
type Classifier interface {
	Classify(ctx context.Context, lead campaign.Lead) (campaign.PersonaID, error)
}

// ContentGenerator produces subject lines and email bodies
type ContentGenerator interface {
	GenerateVariants(ctx context.Context, persona campaign.PersonaID, lang string) ([]string, error)
	GenerateBody(ctx context.Context, req campaign.BodyRequest) (*campaign.Body, error)
}

// VariantStore reads and persists subject variants
type VariantStore interface {
	List(ctx context.Context, persona campaign.PersonaID, lang string, limit int) ([]campaign.Variant, error)
	Create(ctx context.Context, variants []campaign.Variant) error
}

// StatsReader returns the Beta parameters of a persona's variants
type StatsReader interface {
	Get(ctx context.Context, persona campaign.PersonaID) (map[campaign.VariantID]campaign.Stat, error)
}

// Ledger persists assignments and their send outcome
type Ledger interface {
	Create(ctx context.Context, a *campaign.Assignment) error
	MarkSent(ctx context.Context, id, correlationID string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
	CountClicks(ctx context.Context, persona campaign.PersonaID) (int64, error)
}

// ErrorLog records operational errors
type ErrorLog interface {
	Record(ctx context.Context, rec *campaign.ErrorRecord) error
}

// Quota admits or denies a send
type Quota interface {
	Allow(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error)
}

// Config contains dispatcher settings
type Config struct {
	DefaultLimit int
	MaxLimit     int
	DueAfter     time.Duration
	MaxVariants  int
	Delay        time.Duration
	CallTimeout  time.Duration

	// PublicURL is the externally reachable base of the tracking endpoint.
	PublicURL string

	From     string
	FromName string
	ReplyTo  string
}

// DefaultConfig returns default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		DefaultLimit: 10,
		MaxLimit:     500,
		DueAfter:     24 * time.Hour,
		MaxVariants:  3,
		Delay:        7 * time.Second,
		CallTimeout:  30 * time.Second,
		FromName:     "PreventIQ",
	}
}

// Request selects the leads of a batch
type Request struct {
	Limit   int      `json:"limit"`
	LeadIDs []string `json:"lead_ids,omitempty"`
}

// Entry describes one lead that was sent
type Entry struct {
	LeadID       string             `json:"lead_id"`
	PersonaID    campaign.PersonaID `json:"persona_id"`
	VariantID    campaign.VariantID `json:"variant_id"`
	Subject      string             `json:"subject"`
	AssignmentID string             `json:"assignment_id"`
	Phase        bandit.Phase       `json:"phase"`
	AIGenerated  bool               `json:"ai_generated"`
}

// Skip describes one lead that was not sent
type Skip struct {
	LeadID   string `json:"lead_id"`
	Category string `json:"category"`
	Reason   string `json:"reason"`
}

// Summary is the result of a batch
type Summary struct {
	Examined  int       `json:"examined"`
	Processed int       `json:"processed"`
	Entries   []Entry   `json:"entries"`
	Skipped   []Skip    `json:"skipped"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}

// Dispatcher runs dispatch batches. Only one batch runs at a time.
type Dispatcher struct {
	config     Config
	leads      LeadSource
	classifier Classifier
	content    ContentGenerator
	variants   VariantStore
	stats      StatsReader
	ledger     Ledger
	errors     ErrorLog
	selector   *bandit.Selector
	transport  transport.Transport
	layout     *Layout
	pacer      *ratelimit.Pacer
	quota      Quota
	logger     *slog.Logger

	running sync.Mutex
	now     func() time.Time
}

// Deps bundles the collaborators of a Dispatcher. Content and Quota are optional.
type Deps struct {
	Leads      LeadSource
	Classifier Classifier
	Content    ContentGenerator
	Variants   VariantStore
	Stats      StatsReader
	Ledger     Ledger
	Errors     ErrorLog
	Selector   *bandit.Selector
	Transport  transport.Transport
	Layout     *Layout
	Quota      Quota
}

// New creates a dispatcher
func New(cfg Config, deps Deps, logger *slog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.DueAfter <= 0 {
		cfg.DueAfter = def.DueAfter
	}
	if cfg.MaxVariants <= 0 {
		cfg.MaxVariants = def.MaxVariants
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	return &Dispatcher{
		config:     cfg,
		leads:      deps.Leads,
		classifier: deps.Classifier,
		content:    deps.Content,
		variants:   deps.Variants,
		stats:      deps.Stats,
		ledger:     deps.Ledger,
		errors:     deps.Errors,
		selector:   deps.Selector,
		transport:  deps.Transport,
		layout:     deps.Layout,
		pacer:      ratelimit.NewPacer(cfg.Delay),
		quota:      deps.Quota,
		logger:     logger.With("component", "dispatch"),
		now:        time.Now,
	}
}

// leadError is a per-lead failure with its error-log category
type leadError struct {
	category string
	err      error
}

func (e *leadError) Error() string { return e.category + ": " + e.err.Error() }
func (e *leadError) Unwrap() error { return e.err }

func fail(category string, err error) *leadError {
	return &leadError{category: category, err: err}
}

// Run processes one batch. Per-lead failures are logged, recorded in the
// error log and reported in Summary.Skipped; only failures to list leads or
// a concurrent batch abort the run.
func (d *Dispatcher) Run(ctx context.Context, req Request) (*Summary, error) {
	if !d.running.TryLock() {
		metrics.IncDispatchBatch("busy")
		return nil, ErrBatchRunning
	}
	defer d.running.Unlock()

	limit := req.Limit
	if limit < 0 || limit > d.config.MaxLimit {
		return nil, fmt.Errorf("%w: limit must be between 0 and %d", ErrInvalidRequest, d.config.MaxLimit)
	}
	if limit == 0 {
		limit = d.config.DefaultLimit
	}
	for _, id := range req.LeadIDs {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("%w: empty lead id", ErrInvalidRequest)
		}
	}

	metrics.SetDispatchRunning(true)
	defer metrics.SetDispatchRunning(false)

	start := d.now()
	summary := &Summary{StartedAt: start, Entries: []Entry{}, Skipped: []Skip{}}

	leads, err := d.leads.ListDue(ctx, limit, req.LeadIDs, start.Add(-d.config.DueAfter))
	if err != nil {
		metrics.IncDispatchBatch("error")
		return nil, fmt.Errorf("failed to list leads: %w", err)
	}

	d.logger.Info("dispatch batch started", "leads", len(leads), "limit", limit, "explicit", len(req.LeadIDs) > 0)

	d.pacer.Reset()
	for _, lead := range leads {
		if ctx.Err() != nil {
			d.logger.Info("dispatch batch interrupted", "error", ctx.Err())
			break
		}
		if err := d.pacer.Wait(ctx); err != nil {
			d.logger.Info("dispatch batch interrupted", "error", err)
			break
		}

		summary.Examined++
		entry, lerr := d.processLeadSafe(ctx, lead)
		if lerr != nil {
			d.recordSkip(ctx, summary, lead, lerr)
			continue
		}

		summary.Processed++
		summary.Entries = append(summary.Entries, *entry)
		metrics.IncDispatchProcessed()
	}

	elapsed := d.now().Sub(start)
	summary.Duration = elapsed.Round(time.Millisecond).String()
	metrics.ObserveDispatchBatch(elapsed.Seconds())
	metrics.IncDispatchBatch("ok")

	d.logger.Info("dispatch batch finished",
		"examined", summary.Examined,
		"processed", summary.Processed,
		"skipped", len(summary.Skipped),
		"duration", summary.Duration,
	)

	return summary, nil
}

func (d *Dispatcher) recordSkip(ctx context.Context, summary *Summary, lead campaign.Lead, lerr *leadError) {
	summary.Skipped = append(summary.Skipped, Skip{
		LeadID:   lead.ID,
		Category: lerr.category,
		Reason:   lerr.err.Error(),
	})
	metrics.IncDispatchSkipped(lerr.category)

	d.logger.Warn("lead skipped",
		"lead_id", lead.ID,
		"category", lerr.category,
		"error", lerr.err,
	)

	if d.errors == nil {
		return
	}
	rec := &campaign.ErrorRecord{
		Workflow:  campaign.WorkflowDispatch,
		Category:  lerr.category,
		LeadID:    lead.ID,
		PersonaID: lead.PersonaID,
		Message:   lerr.err.Error(),
	}
	// The batch context may be cancelled already; the record still matters.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.CallTimeout)
	defer cancel()
	if err := d.errors.Record(recCtx, rec); err != nil {
		d.logger.Error("failed to record error", "lead_id", lead.ID, "error", err)
	}
}

// call runs fn under the per-call timeout
func (d *Dispatcher) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, d.config.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

// processLeadSafe confines a panic in any collaborator to the lead that
// triggered it. An assignment created before the panic stays pending.
func (d *Dispatcher) processLeadSafe(ctx context.Context, lead campaign.Lead) (entry *Entry, lerr *leadError) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while processing lead", "lead_id", lead.ID, "panic", r, "stack", string(debug.Stack()))
			entry, lerr = nil, fail(CategoryPanic, fmt.Errorf("panic: %v", r))
		}
	}()
	return d.processLead(ctx, lead)
}

func (d *Dispatcher) processLead(ctx context.Context, lead campaign.Lead) (*Entry, *leadError) {
	lang := campaign.NormalizeLanguage(lead.Language)

	// 1. Persona
	persona := lead.PersonaID
	if persona == "" {
		err := d.call(ctx, func(ctx context.Context) error {
			var err error
			persona, err = d.classifier.Classify(ctx, lead)
			return err
		})
		if err != nil {
			return nil, fail(CategoryClassify, err)
		}
		if err := d.call(ctx, func(ctx context.Context) error {
			return d.leads.SetPersona(ctx, lead.ID, persona)
		}); err != nil {
			return nil, fail(CategoryLedger, fmt.Errorf("failed to save persona: %w", err))
		}
		lead.PersonaID = persona
	}

	// 2. Candidate variants
	candidates, lerr := d.candidates(ctx, persona, lang)
	if lerr != nil {
		return nil, lerr
	}

	// 3-4. Statistics and selection
	var stats map[campaign.VariantID]campaign.Stat
	var clicks int64
	err := d.call(ctx, func(ctx context.Context) error {
		var err error
		if stats, err = d.stats.Get(ctx, persona); err != nil {
			return fmt.Errorf("failed to read stats: %w", err)
		}
		if clicks, err = d.ledger.CountClicks(ctx, persona); err != nil {
			return fmt.Errorf("failed to count clicks: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fail(CategorySelect, err)
	}

	decision, err := d.selector.Select(candidates, stats, clicks)
	if err != nil {
		return nil, fail(CategorySelect, err)
	}
	variant := decision.Variant
	metrics.IncSelection(string(persona), string(decision.Phase))

	// 5. Body
	body, aiGenerated := d.body(ctx, lead, persona, lang, variant.Content)

	// Quota is consumed only for leads that will actually be sent.
	if d.quota != nil {
		res, err := d.quota.Allow(ctx, &ratelimit.Request{Transport: d.transport.Name(), Persona: string(persona)})
		if err != nil {
			return nil, fail(CategoryQuota, err)
		}
		if !res.Allowed {
			metrics.IncQuotaExceeded(string(res.DeniedBy))
			return nil, fail(CategoryQuota, fmt.Errorf("%s quota exceeded for %q, retry after %s",
				res.DeniedBy, res.DeniedKey, res.RetryAfter.Round(time.Second)))
		}
	}

	// 6. Pending assignment
	assignment := &campaign.Assignment{
		LeadID:    lead.ID,
		PersonaID: persona,
		VariantID: variant.ID,
	}
	if err := d.call(ctx, func(ctx context.Context) error {
		return d.ledger.Create(ctx, assignment)
	}); err != nil {
		return nil, fail(CategoryLedger, err)
	}

	// 7. Send
	msg, err := d.message(lead, assignment, variant, body, aiGenerated)
	if err != nil {
		d.markFailed(ctx, assignment.ID, err)
		return nil, fail(CategoryTransport, err)
	}

	var correlationID string
	sendStart := d.now()
	err = d.call(ctx, func(ctx context.Context) error {
		var err error
		correlationID, err = d.transport.Send(ctx, msg)
		return err
	})
	metrics.ObserveTransportSend(d.transport.Name(), sendResult(err), d.now().Sub(sendStart).Seconds())
	if err != nil {
		d.markFailed(ctx, assignment.ID, err)
		return nil, fail(CategoryTransport, err)
	}

	sentAt := d.now().UTC()
	if err := d.call(ctx, func(ctx context.Context) error {
		if err := d.ledger.MarkSent(ctx, assignment.ID, correlationID, sentAt); err != nil {
			return err
		}
		return d.leads.MarkSent(ctx, lead.ID, sentAt)
	}); err != nil {
		// The message is out; the provider's sent event can still advance the assignment.
		return nil, fail(CategoryLedger, fmt.Errorf("sent as %s but failed to record: %w", correlationID, err))
	}

	d.logger.Info("lead dispatched",
		"lead_id", lead.ID,
		"persona", persona,
		"variant_id", variant.ID,
		"phase", decision.Phase,
		"assignment_id", assignment.ID,
		"correlation_id", correlationID,
	)

	return &Entry{
		LeadID:       lead.ID,
		PersonaID:    persona,
		VariantID:    variant.ID,
		Subject:      variant.Content,
		AssignmentID: assignment.ID,
		Phase:        decision.Phase,
		AIGenerated:  aiGenerated,
	}, nil
}

// candidates returns up to MaxVariants stored variants, generating and
// storing a new set when none exist for the persona and language.
func (d *Dispatcher) candidates(ctx context.Context, persona campaign.PersonaID, lang string) ([]campaign.Variant, *leadError) {
	var variants []campaign.Variant
	err := d.call(ctx, func(ctx context.Context) error {
		var err error
		variants, err = d.variants.List(ctx, persona, lang, d.config.MaxVariants)
		return err
	})
	if err != nil {
		return nil, fail(CategoryVariants, err)
	}
	if len(variants) > 0 {
		return variants, nil
	}

	if d.content == nil {
		return nil, fail(CategoryVariants, fmt.Errorf("no variants for %s/%s and no content generator", persona, lang))
	}

	var subjects []string
	err = d.call(ctx, func(ctx context.Context) error {
		var err error
		subjects, err = d.content.GenerateVariants(ctx, persona, lang)
		return err
	})
	if err != nil {
		metrics.IncContentGenerated("subjects", "error")
		return nil, fail(CategoryVariants, err)
	}
	metrics.IncContentGenerated("subjects", "ai")

	now := d.now().UTC()
	for _, subject := range subjects {
		variants = append(variants, campaign.Variant{
			ID:        newVariantID(persona, now),
			PersonaID: persona,
			Language:  lang,
			Content:   subject,
			Channel:   campaign.ChannelEmail,
			CreatedAt: now,
		})
	}
	if len(variants) > d.config.MaxVariants {
		variants = variants[:d.config.MaxVariants]
	}
	if len(variants) == 0 {
		return nil, fail(CategoryVariants, fmt.Errorf("generator returned no subjects for %s/%s", persona, lang))
	}

	if err := d.call(ctx, func(ctx context.Context) error {
		return d.variants.Create(ctx, variants)
	}); err != nil {
		return nil, fail(CategoryVariants, fmt.Errorf("failed to store variants: %w", err))
	}

	d.logger.Info("variants generated", "persona", persona, "lang", lang, "count", len(variants))
	return variants, nil
}

// body generates the email body, falling back to the static template.
func (d *Dispatcher) body(ctx context.Context, lead campaign.Lead, persona campaign.PersonaID, lang, subject string) (campaign.Body, bool) {
	if d.content != nil {
		var body *campaign.Body
		err := d.call(ctx, func(ctx context.Context) error {
			var err error
			body, err = d.content.GenerateBody(ctx, campaign.BodyRequest{
				PersonaID: persona,
				LeadName:  lead.Name,
				Language:  lang,
				Subject:   subject,
			})
			return err
		})
		if err == nil && body != nil {
			metrics.IncContentGenerated("body", "ai")
			return *body, true
		}
		d.logger.Warn("body generation failed, using template", "lead_id", lead.ID, "error", err)
	}

	metrics.IncContentGenerated("body", "template")
	return TemplateBody(persona, lang, lead.FirstName()), false
}

func (d *Dispatcher) message(lead campaign.Lead, a *campaign.Assignment, v campaign.Variant, body campaign.Body, aiGenerated bool) (*transport.Message, error) {
	html, err := d.layout.Render(body, d.TrackingURL(a.ID), aiGenerated)
	if err != nil {
		return nil, err
	}

	source := "template"
	if aiGenerated {
		source = "ai-generated"
	}

	return &transport.Message{
		From:     d.config.From,
		FromName: d.config.FromName,
		ReplyTo:  d.config.ReplyTo,
		To:       lead.Email,
		ToName:   lead.Name,
		Subject:  v.Content,
		HTML:     html,
		Tags: []transport.Tag{
			{Name: "campaign", Value: "true"},
			{Name: "persona_" + string(a.PersonaID), Value: "true"},
			{Name: "variant_" + string(v.ID), Value: "true"},
			{Name: source, Value: "true"},
			{Name: "assignment_id", Value: a.ID},
		},
		Headers: map[string]string{
			"X-Leadcast-Assignment": a.ID,
		},
	}, nil
}

// TrackingURL is the click-through link embedded in the email for an assignment
func (d *Dispatcher) TrackingURL(assignmentID string) string {
	return d.config.PublicURL + "/t/" + assignmentID
}

func (d *Dispatcher) markFailed(ctx context.Context, id string, cause error) {
	err := d.call(context.WithoutCancel(ctx), func(ctx context.Context) error {
		return d.ledger.MarkFailed(ctx, id, cause.Error())
	})
	if err != nil {
		d.logger.Error("failed to mark assignment failed", "assignment_id", id, "error", err)
	}
}

func sendResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case transport.IsTemporaryError(err):
		return "temporary_error"
	default:
		return "permanent_error"
	}
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// newVariantID builds <persona>_<unix millis>_<9 random base36 chars>
func newVariantID(persona campaign.PersonaID, now time.Time) campaign.VariantID {
	var b strings.Builder
	b.WriteString(string(persona))
	b.WriteByte('_')
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteByte('_')
	for i := 0; i < 9; i++ {
		b.WriteByte(idAlphabet[rand.IntN(len(idAlphabet))])
	}
	return campaign.VariantID(b.String())
}
