package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/foxzi/leadcast/internal/campaign"
)

const (
	// SubjectCount is the number of subject lines requested per generation.
	SubjectCount = 3

	// MaxSubjectLength is the longest accepted subject line, in characters.
	MaxSubjectLength = 52

	defaultCategory = "Preventive Health"
)

type persona struct {
	label      string
	psychology string
}

var personas = map[campaign.PersonaID]persona{
	campaign.PersonaProfessional: {"Proactive Professional", "data-driven professional who values efficiency and ROI, responds to statistics and expert opinions"},
	campaign.PersonaTimePressed:  {"Time-poor Parent", "busy parent concerned about family health and hereditary risks, values convenience and trust"},
	campaign.PersonaSenior:       {"Senior Citizen", "senior citizen who trusts traditional medical advice, prefers respectful and clear communication"},
	campaign.PersonaStudent:      {"Student / Young Adult", "budget-conscious young adult influenced by peer recommendations and social proof"},
	campaign.PersonaRisk:         {"At-risk but Avoidant", "health-aware individual who procrastinates, needs gentle nudges and fear-of-missing-out triggers"},
	campaign.PersonaPrice:        {"Price-sensitive Seeker", "value-seeker motivated by discounts and special offers, responds to limited-time deals"},
}

// Generator produces campaign content with a Completer.
type Generator struct {
	completer Completer
	category  string
	logger    *slog.Logger
}

// NewGenerator creates a content generator. category names the campaign in
// prompts and defaults to "Preventive Health".
func NewGenerator(completer Completer, category string, logger *slog.Logger) *Generator {
	if category == "" {
		category = defaultCategory
	}
	return &Generator{
		completer: completer,
		category:  category,
		logger:    logger.With("component", "ai", "provider", completer.Name()),
	}
}

func languageName(lang string) string {
	if lang == "hi" {
		return "Hindi"
	}
	return "English"
}

// GenerateVariants asks the model for SubjectCount subject lines for the
// persona and language. Fewer than SubjectCount valid lines is an error.
func (g *Generator) GenerateVariants(ctx context.Context, personaID campaign.PersonaID, lang string) ([]string, error) {
	prompt := fmt.Sprintf(`You are a healthcare marketing expert. Generate %d concise email subject lines for a "%s" preventive health campaign in %s.
The audience is general population in India. Each subject must be under %d characters.
Do not use medical claims like "cure" or "guarantee".
Return ONLY a valid JSON object: {"subjects": ["Subject 1", "Subject 2", "Subject 3"]}`,
		SubjectCount, g.category, languageName(lang), MaxSubjectLength)

	if p, ok := personas[personaID]; ok {
		prompt += fmt.Sprintf("\nWrite for this audience: %s.", p.psychology)
	}

	content, err := g.completer.Complete(ctx, Request{
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		Temperature: 0.9,
		MaxTokens:   200,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate subjects: %w", err)
	}

	subjects, err := parseSubjects(content)
	if err != nil {
		g.logger.Warn("unusable subject response", "persona", personaID, "error", err)
		return nil, err
	}

	g.logger.Debug("subjects generated", "persona", personaID, "lang", lang, "count", len(subjects))
	return subjects, nil
}

func parseSubjects(content string) ([]string, error) {
	var parsed struct {
		Subjects []any `json:"subjects"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(content)), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if parsed.Subjects == nil {
		return nil, fmt.Errorf("%w: missing subjects", ErrInvalidResponse)
	}

	valid := make([]string, 0, SubjectCount)
	for _, raw := range parsed.Subjects {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || utf8.RuneCountInString(s) > MaxSubjectLength {
			continue
		}
		valid = append(valid, s)
		if len(valid) == SubjectCount {
			break
		}
	}

	if len(valid) < SubjectCount {
		return nil, fmt.Errorf("%w: only %d valid subjects", ErrInvalidResponse, len(valid))
	}
	return valid, nil
}

// GenerateBody writes a personalized email body. A response without a
// greeting or call to action is rejected so the caller can fall back.
func (g *Generator) GenerateBody(ctx context.Context, req campaign.BodyRequest) (*campaign.Body, error) {
	p, ok := personas[req.PersonaID]
	if !ok {
		p = persona{label: string(req.PersonaID), psychology: "general audience interested in preventive health"}
	}

	name := req.LeadName
	if name == "" {
		name = "there"
	}
	subject := req.Subject
	if subject == "" {
		subject = "Your Health Matters"
	}
	lang := languageName(req.Language)

	prompt := fmt.Sprintf(`You are an expert healthcare marketing copywriter. Generate a personalized email body for a preventive health campaign.

CONTEXT:
- Persona: %s
- Persona Psychology: %s
- Lead Name: %s
- Subject Line: %s
- Language: %s

REQUIREMENTS:
1. Write in %s language
2. Keep tone appropriate for the persona
3. Include a warm greeting using the lead's name
4. 2-3 short paragraphs maximum (under 150 words total)
5. Focus on benefits relevant to this persona
6. Include a clear call-to-action that motivates them
7. End with a professional signature
8. DO NOT include the subject line in the body
9. DO NOT make medical claims like "cure" or "guarantee"

Return ONLY a JSON object with these keys:
{"greeting": "...", "body_paragraph_1": "...", "body_paragraph_2": "...", "call_to_action": "...", "closing": "..."}`,
		p.label, p.psychology, name, subject, lang, lang)

	content, err := g.completer.Complete(ctx, Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "You are an expert healthcare marketing copywriter specializing in personalized email content."},
			{Role: RoleUser, Content: prompt},
		},
		Temperature: 0.8,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate body: %w", err)
	}

	body, err := parseBody(content)
	if err != nil {
		g.logger.Warn("unusable body response", "persona", req.PersonaID, "error", err)
		return nil, err
	}
	return body, nil
}

func parseBody(content string) (*campaign.Body, error) {
	var body campaign.Body
	if err := json.Unmarshal([]byte(cleanJSON(content)), &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if strings.TrimSpace(body.Greeting) == "" || strings.TrimSpace(body.CallToAction) == "" {
		return nil, fmt.Errorf("%w: missing greeting or call to action", ErrInvalidResponse)
	}
	return &body, nil
}

// ClassifyPersona asks the model to place a lead without a known age into
// one of the built-in archetypes.
func (g *Generator) ClassifyPersona(ctx context.Context, lead campaign.Lead) (campaign.PersonaID, error) {
	orNA := func(s string) string {
		if s == "" {
			return "Not provided"
		}
		return s
	}

	prompt := fmt.Sprintf(`You are a healthcare marketing analyst. Classify this lead into one of these 6 archetypes based on their data.
Return ONLY a JSON object with the key "archetype" containing the ID.

ARCHETYPES (with age and behavior patterns):
- ARCH_PRO: 25-40 years old, tech-savvy professionals, metro city dwellers (Mumbai, Delhi, Bangalore, Hyderabad), data-driven
- ARCH_TP: 35-50 years old, family-focused parents, concerned about hereditary risks, time-constrained
- ARCH_SEN: 55+ years old, senior citizens, trusts doctors over online ads, traditional communication preferred
- ARCH_STU: 18-25 years old, students/young adults, budget-conscious, influenced by social proof
- ARCH_RISK: 40+ years old, at-risk individuals, aware but procrastinates on health checkups
- ARCH_PRICE: Any age, primary motivation is discounts/free offers, price-sensitive

LEAD DATA:
- City: %s
- Organization Type: %s
- Language: %s

Return ONLY: {"archetype": "ARCH_XXX"}`, orNA(lead.City), orNA(lead.OrgType), lead.Language)

	content, err := g.completer.Complete(ctx, Request{
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   100,
	})
	if err != nil {
		return "", fmt.Errorf("failed to classify lead: %w", err)
	}

	var parsed struct {
		Archetype string `json:"archetype"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(content)), &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	id := campaign.PersonaID(strings.TrimSpace(parsed.Archetype))
	if !id.Known() {
		return "", fmt.Errorf("%w: unknown archetype %q", ErrInvalidResponse, parsed.Archetype)
	}
	return id, nil
}
