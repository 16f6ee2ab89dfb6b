// Package ingest applies provider delivery and engagement events to the
// assignment ledger and feeds their outcome into variant statistics.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/leadcast/internal/campaign"
	"github.com/foxzi/leadcast/internal/metrics"
	"github.com/foxzi/leadcast/internal/store"
)

var (
	// ErrInvalidEvent is returned for events missing a type or a reference
	// to an assignment, and for payloads a normalizer cannot parse.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrInvalidSignature is returned when a webhook signature does not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Outcome of processing one event
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeNotFound  Outcome = "not_found"
)

// Result describes what Process did with an event
type Result struct {
	Outcome       Outcome            `json:"outcome"`
	AssignmentID  string             `json:"assignment_id,omitempty"`
	Type          campaign.EventType `json:"event_type"`
	StatusChanged bool               `json:"status_changed"`
}

// Ledger resolves assignments and records events against them
type Ledger interface {
	GetByID(ctx context.Context, id string) (*campaign.Assignment, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*campaign.Assignment, error)
	ApplyEvent(ctx context.Context, a *campaign.Assignment, e *campaign.Event) (*store.ApplyResult, error)
}

// StatsWriter increments variant counters
type StatsWriter interface {
	IncrementSuccess(ctx context.Context, persona campaign.PersonaID, variant campaign.VariantID) error
	IncrementFailure(ctx context.Context, persona campaign.PersonaID, variant campaign.VariantID) error
}

// ErrorLog records operational errors
type ErrorLog interface {
	Record(ctx context.Context, rec *campaign.ErrorRecord) error
}

// Ingestor processes provider events. It is safe for concurrent use.
type Ingestor struct {
	ledger Ledger
	stats  StatsWriter
	errors ErrorLog
	logger *slog.Logger
	now    func() time.Time
}

// New creates an ingestor. errs may be nil.
func New(ledger Ledger, stats StatsWriter, errs ErrorLog, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		ledger: ledger,
		stats:  stats,
		errors: errs,
		logger: logger.With("component", "ingest"),
		now:    time.Now,
	}
}

// Process resolves the event's assignment and applies it. Unknown
// assignments yield OutcomeNotFound with a nil error; replays of an already
// stored event yield OutcomeDuplicate and change nothing.
func (i *Ingestor) Process(ctx context.Context, ev campaign.ProviderEvent) (*Result, error) {
	if ev.Type == "" || (ev.CorrelationID == "" && ev.AssignmentID == "") {
		return nil, fmt.Errorf("%w: type and correlation or assignment id are required", ErrInvalidEvent)
	}

	res := &Result{Type: ev.Type}

	a, err := i.resolve(ctx, ev)
	if err != nil {
		i.fail(ctx, ev, err)
		return nil, err
	}
	if a == nil {
		res.Outcome = OutcomeNotFound
		metrics.IncEventIngested(ev.Provider, string(ev.Type), string(res.Outcome))
		i.logger.Warn("assignment not found",
			"provider", ev.Provider,
			"correlation_id", ev.CorrelationID,
			"assignment_id", ev.AssignmentID,
			"type", ev.RawType,
		)
		return res, nil
	}
	res.AssignmentID = a.ID

	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = i.now()
	}
	event := &campaign.Event{
		AssignmentID: a.ID,
		Type:         ev.Type,
		ExternalID:   externalID(ev, occurred),
		OccurredAt:   occurred,
		Meta:         ev.Meta,
	}

	applied, err := i.ledger.ApplyEvent(ctx, a, event)
	if err != nil {
		err = fmt.Errorf("failed to apply event: %w", err)
		i.fail(ctx, ev, err)
		return nil, err
	}
	if !applied.Inserted {
		res.Outcome = OutcomeDuplicate
		metrics.IncEventIngested(ev.Provider, string(ev.Type), string(res.Outcome))
		i.logger.Debug("duplicate event", "assignment_id", a.ID, "type", ev.Type, "external_id", event.ExternalID)
		return res, nil
	}
	res.Outcome = OutcomeProcessed
	res.StatusChanged = applied.StatusChanged

	// Counters either committed with the event or follow the commit; a
	// post-commit increment error leaves the event stored.
	switch {
	case applied.StatsApplied:
		switch {
		case ev.Type == campaign.EventClick:
			metrics.IncStatsIncrement("success")
		case applied.CreditFailure:
			metrics.IncStatsIncrement("failure")
		}
	case ev.Type == campaign.EventClick:
		if err := i.stats.IncrementSuccess(ctx, a.PersonaID, a.VariantID); err != nil {
			err = fmt.Errorf("failed to increment success: %w", err)
			i.fail(ctx, ev, err)
			return nil, err
		}
		metrics.IncStatsIncrement("success")
	case applied.CreditFailure:
		if err := i.stats.IncrementFailure(ctx, a.PersonaID, a.VariantID); err != nil {
			err = fmt.Errorf("failed to increment failure: %w", err)
			i.fail(ctx, ev, err)
			return nil, err
		}
		metrics.IncStatsIncrement("failure")
	}

	metrics.IncEventIngested(ev.Provider, string(ev.Type), string(res.Outcome))
	i.logger.Info("event processed",
		"provider", ev.Provider,
		"assignment_id", a.ID,
		"type", ev.Type,
		"raw_type", ev.RawType,
		"status_changed", applied.StatusChanged,
	)
	return res, nil
}

// TrackClick records a click from the tracking redirect. Each call is a
// distinct click event.
func (i *Ingestor) TrackClick(ctx context.Context, assignmentID string, meta map[string]any) (*Result, error) {
	if _, err := uuid.Parse(assignmentID); err != nil {
		return &Result{Outcome: OutcomeNotFound, Type: campaign.EventClick}, nil
	}
	return i.Process(ctx, campaign.ProviderEvent{
		Provider:     ProviderTracking,
		AssignmentID: assignmentID,
		Type:         campaign.EventClick,
		RawType:      "redirect",
		ExternalID:   uuid.New().String(),
		OccurredAt:   i.now(),
		Meta:         meta,
	})
}

func (i *Ingestor) resolve(ctx context.Context, ev campaign.ProviderEvent) (*campaign.Assignment, error) {
	if ev.AssignmentID != "" {
		a, err := i.ledger.GetByID(ctx, ev.AssignmentID)
		if err != nil {
			return nil, fmt.Errorf("failed to get assignment: %w", err)
		}
		return a, nil
	}
	a, err := i.ledger.GetByCorrelationID(ctx, ev.CorrelationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment by correlation id: %w", err)
	}
	return a, nil
}

func (i *Ingestor) fail(ctx context.Context, ev campaign.ProviderEvent, err error) {
	metrics.IncEventIngested(ev.Provider, string(ev.Type), "error")
	i.logger.Error("failed to process event",
		"provider", ev.Provider,
		"type", ev.RawType,
		"correlation_id", ev.CorrelationID,
		"error", err,
	)
	if i.errors == nil {
		return
	}

	workflow := campaign.WorkflowIngest
	if ev.Provider == ProviderTracking {
		workflow = campaign.WorkflowTrackClick
	}
	rec := &campaign.ErrorRecord{
		Workflow: workflow,
		Category: string(ev.Type),
		Message:  err.Error(),
		Payload: map[string]any{
			"provider":       ev.Provider,
			"raw_type":       ev.RawType,
			"correlation_id": ev.CorrelationID,
			"assignment_id":  ev.AssignmentID,
			"external_id":    ev.ExternalID,
		},
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := i.errors.Record(recCtx, rec); rerr != nil {
		i.logger.Error("failed to record error", "error", rerr)
	}
}

// externalID is the event's identity for deduplication. Providers that carry
// no delivery id are keyed by raw type and timestamp, so a retried
// notification collapses onto the first.
func externalID(ev campaign.ProviderEvent, occurred time.Time) string {
	if ev.ExternalID != "" {
		return ev.ExternalID
	}
	return ev.Provider + ":" + ev.RawType + ":" + strconv.FormatInt(occurred.UTC().UnixNano(), 10)
}
