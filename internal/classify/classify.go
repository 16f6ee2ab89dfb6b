// Package classify assigns a persona to a lead.
package classify

import (
	"context"
	"log/slog"

	"github.com/foxzi/leadcast/internal/campaign"
)

// Method tells how a persona was chosen
type Method string

const (
	MethodRules   Method = "deterministic"
	MethodAI      Method = "ai"
	MethodDefault Method = "default"
)

// Fallback classifies leads the age rules cannot place.
type Fallback interface {
	ClassifyPersona(ctx context.Context, lead campaign.Lead) (campaign.PersonaID, error)
}

// Classifier applies age rules first, then an optional model fallback, then
// campaign.DefaultPersona. It never fails.
type Classifier struct {
	fallback Fallback
	logger   *slog.Logger
}

// New creates a classifier. fallback may be nil.
func New(fallback Fallback, logger *slog.Logger) *Classifier {
	return &Classifier{
		fallback: fallback,
		logger:   logger.With("component", "classify"),
	}
}

// Classify returns the persona for the lead.
func (c *Classifier) Classify(ctx context.Context, lead campaign.Lead) (campaign.PersonaID, error) {
	id, _ := c.ClassifyWithMethod(ctx, lead)
	return id, nil
}

// ClassifyWithMethod is Classify that also reports which method decided.
func (c *Classifier) ClassifyWithMethod(ctx context.Context, lead campaign.Lead) (campaign.PersonaID, Method) {
	if lead.Age != nil {
		if id, ok := ByAge(*lead.Age); ok {
			c.logger.Debug("lead classified", "lead_id", lead.ID, "persona", id, "method", MethodRules)
			return id, MethodRules
		}
	}

	if c.fallback != nil {
		id, err := c.fallback.ClassifyPersona(ctx, lead)
		if err == nil {
			c.logger.Debug("lead classified", "lead_id", lead.ID, "persona", id, "method", MethodAI)
			return id, MethodAI
		}
		c.logger.Warn("ai classification failed, using default",
			"lead_id", lead.ID,
			"error", err,
		)
	}

	return campaign.DefaultPersona, MethodDefault
}

// ByAge maps an age to a persona. Ranges overlap and are checked in order:
// 18-25 student, 55+ senior, 35-50 parent, 25-40 professional, 40+ at-risk.
// Ages below 18 have no rule.
func ByAge(age int) (campaign.PersonaID, bool) {
	switch {
	case age >= 18 && age <= 25:
		return campaign.PersonaStudent, true
	case age >= 55:
		return campaign.PersonaSenior, true
	case age >= 35 && age <= 50:
		return campaign.PersonaTimePressed, true
	case age >= 25 && age <= 40:
		return campaign.PersonaProfessional, true
	case age >= 40:
		return campaign.PersonaRisk, true
	}
	return "", false
}
