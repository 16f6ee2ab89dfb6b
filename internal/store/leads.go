package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/leadcast/internal/campaign"
)

type LeadRepository struct {
	db *DB
}

func NewLeadRepository(db *DB) *LeadRepository {
	return &LeadRepository{db: db}
}

const leadColumns = `id, name, email, language, persona_id, age, city, org_type, is_test, last_sent_at`

// ListDue returns non-test leads eligible for a send.
// With explicit ids the due filter is skipped.
func (r *LeadRepository) ListDue(ctx context.Context, limit int, ids []string, dueBefore time.Time) ([]campaign.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE is_test = FALSE`
	var args []any

	if len(ids) > 0 {
		query += ` AND id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	} else {
		query += ` AND (last_sent_at IS NULL OR last_sent_at < ?)`
		args = append(args, dueBefore.UTC())
	}
	query += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var leads []campaign.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *lead)
	}
	return leads, rows.Err()
}

// Get returns a lead by ID
func (r *LeadRepository) Get(ctx context.Context, id string) (*campaign.Lead, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+leadColumns+` FROM leads WHERE id = ?`), id)
	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return lead, err
}

// Upsert inserts a lead or replaces its profile fields.
func (r *LeadRepository) Upsert(ctx context.Context, l *campaign.Lead) error {
	var age sql.NullInt64
	if l.Age != nil {
		age = sql.NullInt64{Int64: int64(*l.Age), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO leads (id, name, email, language, persona_id, age, city, org_type, is_test, last_sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, email = excluded.email, language = excluded.language,
			persona_id = excluded.persona_id, age = excluded.age, city = excluded.city,
			org_type = excluded.org_type, is_test = excluded.is_test`),
		l.ID, l.Name, l.Email, campaign.NormalizeLanguage(l.Language), nullString(string(l.PersonaID)),
		age, nullString(l.City), nullString(l.OrgType), l.IsTest, nullTime(l.LastSentAt), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert lead: %w", err)
	}
	return nil
}

// MarkSent records the time of the last successful send.
func (r *LeadRepository) MarkSent(ctx context.Context, leadID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE leads SET last_sent_at = ? WHERE id = ?`), at.UTC(), leadID)
	if err != nil {
		return fmt.Errorf("failed to mark lead sent: %w", err)
	}
	return nil
}

// SetPersona persists the classified persona of a lead.
func (r *LeadRepository) SetPersona(ctx context.Context, leadID string, persona campaign.PersonaID) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE leads SET persona_id = ? WHERE id = ?`), string(persona), leadID)
	if err != nil {
		return fmt.Errorf("failed to set lead persona: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(s rowScanner) (*campaign.Lead, error) {
	var (
		l                      campaign.Lead
		persona, city, orgType sql.NullString
		age                    sql.NullInt64
		lastSent               sql.NullTime
	)
	if err := s.Scan(&l.ID, &l.Name, &l.Email, &l.Language, &persona, &age, &city, &orgType, &l.IsTest, &lastSent); err != nil {
		return nil, err
	}
	l.PersonaID = campaign.PersonaID(persona.String)
	l.City = city.String
	l.OrgType = orgType.String
	if age.Valid {
		a := int(age.Int64)
		l.Age = &a
	}
	if lastSent.Valid {
		t := lastSent.Time
		l.LastSentAt = &t
	}
	return &l, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
