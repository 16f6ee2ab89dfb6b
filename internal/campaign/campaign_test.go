package campaign

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePersonaID(t *testing.T) {
	tests := []struct {
		in      string
		want    PersonaID
		wantErr bool
	}{
		{"ARCH_PRO", PersonaProfessional, false},
		{" ARCH_SEN ", PersonaSenior, false},
		{"ARCH_CUSTOM_9", "ARCH_CUSTOM_9", false},
		{"", "", true},
		{"arch_pro", "", true},
		{"A", "", true},
		{"ARCH PRO", "", true},
	}

	for _, tt := range tests {
		got, err := ParsePersonaID(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidPersona, "input %q", tt.in)
			continue
		}
		if assert.NoError(t, err, "input %q", tt.in) {
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestPersonaKnown(t *testing.T) {
	assert.True(t, PersonaPrice.Known())
	assert.False(t, PersonaID("ARCH_OTHER").Known())
}

func TestParseVariantID(t *testing.T) {
	_, err := ParseVariantID("")
	assert.ErrorIs(t, err, ErrInvalidVariant)

	_, err = ParseVariantID(strings.Repeat("a", 129))
	assert.ErrorIs(t, err, ErrInvalidVariant)

	v, err := ParseVariantID("ARCH_PRO_1_abc")
	assert.NoError(t, err)
	assert.Equal(t, VariantID("ARCH_PRO_1_abc"), v)
}

func TestNormalizeLanguage(t *testing.T) {
	tests := map[string]string{
		"":      "en",
		"en":    "en",
		"en-US": "en",
		"hi":    "hi",
		"hi-IN": "hi",
		"HI":    "hi",
		"!!":    "en",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeLanguage(in), "input %q", in)
	}
}

func TestStatEstimatedCTR(t *testing.T) {
	assert.Equal(t, 0.75, Stat{Alpha: 3, Beta: 1}.EstimatedCTR())
	assert.Zero(t, Stat{}.EstimatedCTR())
}

func TestLeadFirstName(t *testing.T) {
	l := &Lead{Name: "  Asha  Rao "}
	assert.Equal(t, "Asha", l.FirstName())
	l.Name = ""
	assert.Equal(t, "there", l.FirstName())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusSent, true},
		{StatusPending, StatusDelivered, true},
		{StatusPending, StatusFailed, true},
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusFailed, true},
		{StatusDelivered, StatusFailed, true},
		{StatusDelivered, StatusDelivered, true},
		{StatusSent, StatusPending, false},
		{StatusDelivered, StatusSent, false},
		{StatusFailed, StatusSent, false},
		{StatusFailed, StatusDelivered, false},
		{StatusFailed, StatusPending, false},
		{StatusFailed, StatusFailed, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestFailedIsTerminal(t *testing.T) {
	assert.True(t, StatusFailed.Terminal())
	for _, s := range []Status{StatusPending, StatusSent, StatusDelivered} {
		assert.False(t, s.Terminal(), "%s must not be terminal", s)
	}
}

func TestEventTargetStatus(t *testing.T) {
	tests := []struct {
		typ    EventType
		want   Status
		wantOK bool
	}{
		{EventSent, StatusSent, true},
		{EventDelivered, StatusDelivered, true},
		{EventFailed, StatusFailed, true},
		{EventOpen, "", false},
		{EventClick, "", false},
		{EventOther, "", false},
	}
	for _, tt := range tests {
		got, ok := tt.typ.TargetStatus()
		assert.Equal(t, tt.want, got, "%s", tt.typ)
		assert.Equal(t, tt.wantOK, ok, "%s", tt.typ)
	}
}
