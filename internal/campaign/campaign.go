package campaign

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/language"
)

var (
	ErrInvalidPersona = errors.New("invalid persona id")
	ErrInvalidVariant = errors.New("invalid variant id")
)

// PersonaID identifies an audience segment (archetype).
type PersonaID string

// Known archetypes. The set is open: any well-formed id is accepted.
const (
	PersonaProfessional PersonaID = "ARCH_PRO"
	PersonaTimePressed  PersonaID = "ARCH_TP"
	PersonaSenior       PersonaID = "ARCH_SEN"
	PersonaStudent      PersonaID = "ARCH_STU"
	PersonaRisk         PersonaID = "ARCH_RISK"
	PersonaPrice        PersonaID = "ARCH_PRICE"
)

// DefaultPersona is used when classification is impossible.
const DefaultPersona = PersonaProfessional

var personaPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,31}$`)

// ParsePersonaID validates a persona id received from an untrusted boundary.
func ParsePersonaID(s string) (PersonaID, error) {
	s = strings.TrimSpace(s)
	if !personaPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPersona, s)
	}
	return PersonaID(s), nil
}

func (p PersonaID) String() string { return string(p) }

// Known reports whether p is one of the built-in archetypes.
func (p PersonaID) Known() bool {
	switch p {
	case PersonaProfessional, PersonaTimePressed, PersonaSenior,
		PersonaStudent, PersonaRisk, PersonaPrice:
		return true
	}
	return false
}

// VariantID identifies one content variant within a persona.
type VariantID string

const maxVariantIDLen = 128

// ParseVariantID validates a variant id.
func ParseVariantID(s string) (VariantID, error) {
	if s == "" || len(s) > maxVariantIDLen {
		return "", fmt.Errorf("%w: %q", ErrInvalidVariant, s)
	}
	return VariantID(s), nil
}

func (v VariantID) String() string { return string(v) }

// NormalizeLanguage reduces a language tag to its base ISO code,
// falling back to "en" for empty or unparseable input.
func NormalizeLanguage(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "en"
	}
	tag, err := language.Parse(s)
	if err != nil {
		return "en"
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "en"
	}
	return base.String()
}

// Channel of a variant. Only email is dispatched today.
const ChannelEmail = "email"

// Variant is a candidate piece of content (subject line) for a persona.
type Variant struct {
	ID        VariantID `json:"id"`
	PersonaID PersonaID `json:"persona_id"`
	Language  string    `json:"language"`
	Content   string    `json:"content"`
	Channel   string    `json:"channel"`
	CreatedAt time.Time `json:"created_at"`
}

// Stat holds the Beta-distribution parameters of a variant. Both are >= 1.
type Stat struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// DefaultStat is the uniform prior used for variants without recorded outcomes.
var DefaultStat = Stat{Alpha: 1, Beta: 1}

// EstimatedCTR returns the posterior mean alpha/(alpha+beta).
func (s Stat) EstimatedCTR() float64 {
	if s.Alpha+s.Beta == 0 {
		return 0
	}
	return s.Alpha / (s.Alpha + s.Beta)
}

// Lead is the subset of a lead record the dispatch engine needs.
type Lead struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Language   string     `json:"language"`
	PersonaID  PersonaID  `json:"persona_id,omitempty"`
	Age        *int       `json:"age,omitempty"`
	City       string     `json:"city,omitempty"`
	OrgType    string     `json:"org_type,omitempty"`
	IsTest     bool       `json:"is_test"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
}

// FirstName returns the first word of the lead name, or "there".
func (l *Lead) FirstName() string {
	fields := strings.Fields(l.Name)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

// Assignment records one dispatch decision and its delivery state.
type Assignment struct {
	ID            string     `json:"id"`
	LeadID        string     `json:"lead_id"`
	PersonaID     PersonaID  `json:"persona_id"`
	VariantID     VariantID  `json:"variant_id"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Status        Status     `json:"status"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ErrorRecord is an entry of the operational error log.
type ErrorRecord struct {
	ID        int64          `json:"id"`
	Workflow  string         `json:"workflow"`
	Category  string         `json:"category"`
	LeadID    string         `json:"lead_id,omitempty"`
	PersonaID PersonaID      `json:"persona_id,omitempty"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Workflow names used in the error log.
const (
	WorkflowDispatch   = "campaign-send"
	WorkflowIngest     = "sync-events"
	WorkflowTrackClick = "track-click"
)
