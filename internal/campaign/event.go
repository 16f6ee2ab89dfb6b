package campaign

import "time"

// EventType is the canonical engagement or delivery event type.
type EventType string

const (
	EventSent      EventType = "sent"
	EventDelivered EventType = "delivered"
	EventOpen      EventType = "open"
	EventClick     EventType = "click"
	EventFailed    EventType = "failed"
	EventOther     EventType = "other"
)

// TargetStatus returns the assignment status implied by an event type,
// or false when the event does not affect status.
func (t EventType) TargetStatus() (Status, bool) {
	switch t {
	case EventSent:
		return StatusSent, true
	case EventDelivered:
		return StatusDelivered, true
	case EventFailed:
		return StatusFailed, true
	}
	return "", false
}

// Event is a stored engagement or delivery event.
type Event struct {
	ID           int64          `json:"id"`
	AssignmentID string         `json:"assignment_id"`
	Type         EventType      `json:"type"`
	ExternalID   string         `json:"external_id"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Meta         map[string]any `json:"meta,omitempty"`
}

// ProviderEvent is a provider event after normalization, before ledger resolution.
type ProviderEvent struct {
	Provider      string
	CorrelationID string // provider message id
	AssignmentID  string // set directly by the click tracker
	Type          EventType
	RawType       string
	ExternalID    string
	OccurredAt    time.Time
	Meta          map[string]any
}
