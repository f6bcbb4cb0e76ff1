package calls

// Status is the persisted phase of a call record.
type Status string

const (
	StatusWaitingResponder   Status = "waiting_responder"
	StatusResponderConnected Status = "responder_connected"
	StatusInCall             Status = "in_call"
	StatusCompleted          Status = "completed"
	StatusRejected           Status = "rejected"

	// StatusWaitingAdmin is the admin-deployment name for waiting_responder.
	// It is accepted on read and never written.
	StatusWaitingAdmin Status = "waiting_admin"
)

// Canonical folds aliases onto their canonical status.
func (s Status) Canonical() Status {
	if s == StatusWaitingAdmin {
		return StatusWaitingResponder
	}
	return s
}

func (s Status) Valid() bool {
	switch s.Canonical() {
	case StatusWaitingResponder, StatusResponderConnected, StatusInCall, StatusCompleted, StatusRejected:
		return true
	default:
		return false
	}
}

// IsLive reports whether a record in this status blocks its requester from starting another call.
func (s Status) IsLive() bool {
	switch s.Canonical() {
	case StatusWaitingResponder, StatusResponderConnected, StatusInCall:
		return true
	default:
		return false
	}
}

func (s Status) IsTerminal() bool {
	switch s.Canonical() {
	case StatusCompleted, StatusRejected:
		return true
	default:
		return false
	}
}

var transitions = map[Status][]Status{
	StatusWaitingResponder:   {StatusResponderConnected, StatusInCall, StatusRejected},
	StatusResponderConnected: {StatusInCall, StatusRejected},
	StatusInCall:             {StatusCompleted, StatusRejected},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from.Canonical()] {
		if next == to.Canonical() {
			return true
		}
	}
	return false
}

// LiveStatuses lists every stored value that counts as live, aliases included.
func LiveStatuses() []Status {
	return []Status{StatusWaitingResponder, StatusWaitingAdmin, StatusResponderConnected, StatusInCall}
}
