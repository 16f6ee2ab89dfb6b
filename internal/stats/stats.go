// Package stats defines the variant statistics contract and its Redis backend.
package stats

import (
	"context"
	"sort"

	"github.com/foxzi/leadcast/internal/campaign"
)

// Store keeps per-(persona, variant) Beta counters.
// Missing variants read as the (1, 1) prior and counters never decrease.
type Store interface {
	Get(ctx context.Context, persona campaign.PersonaID) (map[campaign.VariantID]campaign.Stat, error)
	IncrementSuccess(ctx context.Context, persona campaign.PersonaID, variant campaign.VariantID) error
	IncrementFailure(ctx context.Context, persona campaign.PersonaID, variant campaign.VariantID) error
}

// VariantReport is the summary of one variant.
type VariantReport struct {
	VariantID    campaign.VariantID `json:"variant_id"`
	Language     string             `json:"language"`
	Content      string             `json:"content"`
	Alpha        float64            `json:"alpha"`
	Beta         float64            `json:"beta"`
	EstimatedCTR float64            `json:"estimated_ctr"`
}

// Report summarizes variant performance for a persona.
type Report struct {
	PersonaID   campaign.PersonaID `json:"persona_id"`
	TotalClicks int64              `json:"total_clicks"`
	Variants    []VariantReport    `json:"variants"`
}

// BuildReport combines variants with their counters, best estimated CTR first.
func BuildReport(persona campaign.PersonaID, variants []campaign.Variant, st map[campaign.VariantID]campaign.Stat, totalClicks int64) *Report {
	r := &Report{
		PersonaID:   persona,
		TotalClicks: totalClicks,
		Variants:    make([]VariantReport, 0, len(variants)),
	}
	for _, v := range variants {
		s, ok := st[v.ID]
		if !ok {
			s = campaign.DefaultStat
		}
		r.Variants = append(r.Variants, VariantReport{
			VariantID:    v.ID,
			Language:     v.Language,
			Content:      v.Content,
			Alpha:        s.Alpha,
			Beta:         s.Beta,
			EstimatedCTR: s.EstimatedCTR(),
		})
	}
	sort.SliceStable(r.Variants, func(i, j int) bool {
		return r.Variants[i].EstimatedCTR > r.Variants[j].EstimatedCTR
	})
	return r
}
