package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/leadcast/internal/campaign"
)

type AssignmentRepository struct {
	db          *DB
	inlineStats bool
}

func NewAssignmentRepository(db *DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// WithInlineStats makes ApplyEvent update variant_stats inside its own
// transaction. Use it when the counters live in the same database.
func (r *AssignmentRepository) WithInlineStats() *AssignmentRepository {
	r.inlineStats = true
	return r
}

const assignmentColumns = `id, lead_id, persona_id, variant_id, correlation_id, status, error, created_at, sent_at, updated_at`

// Create persists a new pending assignment.
func (r *AssignmentRepository) Create(ctx context.Context, a *campaign.Assignment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.Status = campaign.StatusPending
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO assignments (id, lead_id, persona_id, variant_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.LeadID, string(a.PersonaID), string(a.VariantID), string(a.Status), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

// GetByID returns an assignment by ID
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*campaign.Assignment, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`), id)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetByCorrelationID returns the assignment a provider message id belongs to.
func (r *AssignmentRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*campaign.Assignment, error) {
	if correlationID == "" {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+assignmentColumns+` FROM assignments WHERE correlation_id = ? ORDER BY created_at LIMIT 1`), correlationID)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// MarkSent stores the provider correlation id and moves a pending assignment to sent.
func (r *AssignmentRepository) MarkSent(ctx context.Context, id, correlationID string, at time.Time) error {
	at = at.UTC()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE assignments SET
			correlation_id = ?,
			status = CASE WHEN status = ? THEN ? ELSE status END,
			sent_at = COALESCE(sent_at, ?),
			updated_at = ?
		WHERE id = ?`),
		correlationID, string(campaign.StatusPending), string(campaign.StatusSent), at, at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark assignment sent: %w", err)
	}
	return nil
}

// MarkFailed moves an assignment to failed and records the reason.
func (r *AssignmentRepository) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE assignments SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND status <> ?`),
		string(campaign.StatusFailed), reason, time.Now().UTC(), id, string(campaign.StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("failed to mark assignment failed: %w", err)
	}
	return nil
}

// CountClicks returns the number of stored click events across all
// assignments of a persona.
func (r *AssignmentRepository) CountClicks(ctx context.Context, persona campaign.PersonaID) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT COUNT(*) FROM events e
		JOIN assignments a ON a.id = e.assignment_id
		WHERE a.persona_id = ? AND e.type = ?`),
		string(persona), string(campaign.EventClick),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count clicks: %w", err)
	}
	return n, nil
}

// CountByStatus returns the number of assignments in each status.
func (r *AssignmentRepository) CountByStatus(ctx context.Context) (map[campaign.Status]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM assignments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}
	defer rows.Close()

	counts := make(map[campaign.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[campaign.Status(status)] = n
	}
	return counts, rows.Err()
}

// ListEvents returns the events of an assignment in arrival order.
func (r *AssignmentRepository) ListEvents(ctx context.Context, assignmentID string) ([]campaign.Event, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT id, assignment_id, type, external_id, occurred_at, meta
		FROM events WHERE assignment_id = ? ORDER BY id`), assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []campaign.Event
	for rows.Next() {
		var e campaign.Event
		var meta sql.NullString
		if err := rows.Scan(&e.ID, &e.AssignmentID, &e.Type, &e.ExternalID, &e.OccurredAt, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Meta); err != nil {
				return nil, fmt.Errorf("failed to decode meta of event %d: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ApplyResult describes what ApplyEvent changed.
type ApplyResult struct {
	Inserted      bool // false when the event was a duplicate
	StatusChanged bool
	CreditFailure bool // the assignment earned its single failure credit
	StatsApplied  bool // counters were updated in the same transaction
}

// ApplyEvent records one canonical event against an assignment in a single
// transaction: the guarded status transition, the idempotent event insert
// and, for a first delivery without clicks, the failure-credit claim.
func (r *AssignmentRepository) ApplyEvent(ctx context.Context, a *campaign.Assignment, e *campaign.Event) (*ApplyResult, error) {
	res := &ApplyResult{}

	meta := ""
	if len(e.Meta) > 0 {
		data, err := json.Marshal(e.Meta)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event meta: %w", err)
		}
		meta = string(data)
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	e.OccurredAt = e.OccurredAt.UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if to, ok := e.Type.TargetStatus(); ok {
		changed, err := r.transition(ctx, tx, a.ID, to, e.OccurredAt)
		if err != nil {
			return nil, err
		}
		res.StatusChanged = changed
	}

	result, err := tx.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO events (assignment_id, type, external_id, occurred_at, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (assignment_id, type, external_id) DO NOTHING`),
		a.ID, string(e.Type), e.ExternalID, e.OccurredAt, nullString(meta), time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read insert result: %w", err)
	}
	if n == 0 {
		// Duplicate delivery; the status update above was a no-op replay.
		return &ApplyResult{}, nil
	}
	res.Inserted = true

	if e.Type == campaign.EventDelivered {
		claim, err := tx.ExecContext(ctx, r.db.Rebind(`
			UPDATE assignments SET beta_credited = TRUE
			WHERE id = ? AND beta_credited = FALSE
			AND NOT EXISTS (SELECT 1 FROM events WHERE assignment_id = ? AND type = ?)`),
			a.ID, a.ID, string(campaign.EventClick),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to claim failure credit: %w", err)
		}
		if n, err := claim.RowsAffected(); err == nil && n > 0 {
			res.CreditFailure = true
		}
	}

	if r.inlineStats {
		var serr error
		switch {
		case e.Type == campaign.EventClick:
			serr = incrementStat(ctx, tx, r.db.dialect, a.PersonaID, a.VariantID, true)
		case res.CreditFailure:
			serr = incrementStat(ctx, tx, r.db.dialect, a.PersonaID, a.VariantID, false)
		}
		if serr != nil {
			return nil, serr
		}
		res.StatsApplied = true
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit event: %w", err)
	}
	return res, nil
}

// transition applies a guarded status change. It reports whether a row changed.
func (r *AssignmentRepository) transition(ctx context.Context, tx *sql.Tx, id string, to campaign.Status, at time.Time) (bool, error) {
	from := campaign.SourceStates(to)
	if len(from) == 0 {
		return false, nil
	}

	query := `UPDATE assignments SET status = ?, updated_at = ?`
	args := []any{string(to), time.Now().UTC()}
	if to == campaign.StatusSent {
		query += `, sent_at = ?`
		args = append(args, at)
	}
	query += ` WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`
	args = append(args, id)
	for _, s := range from {
		args = append(args, string(s))
	}

	result, err := tx.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to update assignment status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return n > 0, nil
}

func scanAssignment(s rowScanner) (*campaign.Assignment, error) {
	var (
		a                  campaign.Assignment
		correlation, errMs sql.NullString
		sentAt             sql.NullTime
	)
	if err := s.Scan(&a.ID, &a.LeadID, &a.PersonaID, &a.VariantID, &correlation, &a.Status, &errMs, &a.CreatedAt, &sentAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.CorrelationID = correlation.String
	a.Error = errMs.String
	if sentAt.Valid {
		t := sentAt.Time
		a.SentAt = &t
	}
	return &a, nil
}
