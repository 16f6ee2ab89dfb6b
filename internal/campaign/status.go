package campaign

// Status is the delivery state of an assignment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusFailed
}

// allowedFrom lists the states a target status may be entered from.
var allowedFrom = map[Status][]Status{
	StatusSent:      {StatusPending},
	StatusDelivered: {StatusPending, StatusSent},
	StatusFailed:    {StatusPending, StatusSent, StatusDelivered},
}

// CanTransition reports whether an assignment may move from one status to another.
// Staying in the same state is always permitted and is a no-op.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// SourceStates returns the statuses from which to may be entered, excluding to itself.
// Ledger updates use it to guard transitions in a single statement.
func SourceStates(to Status) []Status {
	return allowedFrom[to]
}
