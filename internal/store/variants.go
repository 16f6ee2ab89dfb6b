package store

import (
	"context"
	"fmt"
	"time"

	"github.com/foxzi/leadcast/internal/campaign"
)

type VariantRepository struct {
	db *DB
}

func NewVariantRepository(db *DB) *VariantRepository {
	return &VariantRepository{db: db}
}

// List returns up to limit email variants for a persona and language, oldest first.
func (r *VariantRepository) List(ctx context.Context, persona campaign.PersonaID, lang string, limit int) ([]campaign.Variant, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT id, persona_id, language, content, channel, created_at
		FROM variants
		WHERE persona_id = ? AND language = ? AND channel = ?
		ORDER BY created_at, id
		LIMIT ?`),
		string(persona), lang, campaign.ChannelEmail, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer rows.Close()

	var variants []campaign.Variant
	for rows.Next() {
		var v campaign.Variant
		if err := rows.Scan(&v.ID, &v.PersonaID, &v.Language, &v.Content, &v.Channel, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// ListByPersona returns all variants of a persona in every language.
func (r *VariantRepository) ListByPersona(ctx context.Context, persona campaign.PersonaID) ([]campaign.Variant, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT id, persona_id, language, content, channel, created_at
		FROM variants WHERE persona_id = ? ORDER BY language, created_at, id`),
		string(persona),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer rows.Close()

	var variants []campaign.Variant
	for rows.Next() {
		var v campaign.Variant
		if err := rows.Scan(&v.ID, &v.PersonaID, &v.Language, &v.Content, &v.Channel, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// Create stores new variants in one transaction.
func (r *VariantRepository) Create(ctx context.Context, variants []campaign.Variant) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := r.db.Rebind(`INSERT INTO variants (id, persona_id, language, content, channel, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	for i := range variants {
		v := &variants[i]
		if v.Channel == "" {
			v.Channel = campaign.ChannelEmail
		}
		if v.CreatedAt.IsZero() {
			v.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, stmt, string(v.ID), string(v.PersonaID), v.Language, v.Content, v.Channel, v.CreatedAt); err != nil {
			return fmt.Errorf("failed to create variant: %w", err)
		}
	}

	return tx.Commit()
}
