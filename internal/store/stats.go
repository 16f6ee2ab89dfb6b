package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/leadcast/internal/campaign"
)

// StatsRepository keeps variant counters in the variant_stats table.
type StatsRepository struct {
	db *DB
}

func NewStatsRepository(db *DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// Get returns the counters of every variant of a persona that has any.
func (r *StatsRepository) Get(ctx context.Context, persona campaign.PersonaID) (map[campaign.VariantID]campaign.Stat, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`SELECT variant_id, alpha, beta FROM variant_stats WHERE persona_id = ?`), string(persona))
	if err != nil {
		return nil, fmt.Errorf("failed to query variant stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[campaign.VariantID]campaign.Stat)
	for rows.Next() {
		var id string
		var st campaign.Stat
		if err := rows.Scan(&id, &st.Alpha, &st.Beta); err != nil {
			return nil, fmt.Errorf("failed to scan variant stats: %w", err)
		}
		stats[campaign.VariantID(id)] = st
	}
	return stats, rows.Err()
}

// IncrementSuccess adds one to alpha.
func (r *StatsRepository) IncrementSuccess(ctx context.Context, persona campaign.PersonaID, variant campaign.VariantID) error {
	return incrementStat(ctx, r.db.DB, r.db.dialect, persona, variant, true)
}

// IncrementFailure adds one to beta.
func (r *StatsRepository) IncrementFailure(ctx context.Context, persona campaign.PersonaID, variant campaign.VariantID) error {
	return incrementStat(ctx, r.db.DB, r.db.dialect, persona, variant, false)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// incrementStat upserts one counter. A new row starts from the uniform
// prior (1, 1) plus the increment.
func incrementStat(ctx context.Context, ex execer, d Dialect, persona campaign.PersonaID, variant campaign.VariantID, success bool) error {
	query := `
		INSERT INTO variant_stats (persona_id, variant_id, alpha, beta, updated_at)
		VALUES (?, ?, 1, 2, ?)
		ON CONFLICT (persona_id, variant_id) DO UPDATE SET
			beta = variant_stats.beta + 1,
			updated_at = excluded.updated_at`
	field := "beta"
	if success {
		query = `
		INSERT INTO variant_stats (persona_id, variant_id, alpha, beta, updated_at)
		VALUES (?, ?, 2, 1, ?)
		ON CONFLICT (persona_id, variant_id) DO UPDATE SET
			alpha = variant_stats.alpha + 1,
			updated_at = excluded.updated_at`
		field = "alpha"
	}
	if _, err := ex.ExecContext(ctx, rebind(d, query), string(persona), string(variant), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to increment %s: %w", field, err)
	}
	return nil
}
