package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foxzi/leadcast/internal/campaign"
)

type ErrorLogRepository struct {
	db *DB
}

func NewErrorLogRepository(db *DB) *ErrorLogRepository {
	return &ErrorLogRepository{db: db}
}

// Record appends an entry to the error log.
func (r *ErrorLogRepository) Record(ctx context.Context, rec *campaign.ErrorRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var payload sql.NullString
	if len(rec.Payload) > 0 {
		data, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO error_log (workflow, category, lead_id, persona_id, message, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.Workflow, nullString(rec.Category), nullString(rec.LeadID), nullString(string(rec.PersonaID)),
		rec.Message, payload, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (r *ErrorLogRepository) List(ctx context.Context, workflow string, limit int) ([]campaign.ErrorRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, workflow, category, lead_id, persona_id, message, payload, created_at FROM error_log`
	var args []any
	if workflow != "" {
		query += ` WHERE workflow = ?`
		args = append(args, workflow)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query error log: %w", err)
	}
	defer rows.Close()

	var records []campaign.ErrorRecord
	for rows.Next() {
		var rec campaign.ErrorRecord
		var category, leadID, persona, payload sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Workflow, &category, &leadID, &persona, &rec.Message, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan error record: %w", err)
		}
		rec.Category = category.String
		rec.LeadID = leadID.String
		rec.PersonaID = campaign.PersonaID(persona.String)
		if payload.Valid {
			json.Unmarshal([]byte(payload.String), &rec.Payload)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
