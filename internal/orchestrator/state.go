package orchestrator

// RequesterState is the requester's single source of truth for the UI.
type RequesterState string

const (
	RequesterIdle       RequesterState = "idle"
	RequesterRequested  RequesterState = "requested"
	RequesterWaiting    RequesterState = "waiting_for_responder"
	RequesterConnecting RequesterState = "connecting"
	RequesterVerifying  RequesterState = "verifying"
	// Transient: reported to listeners, then the requester returns to idle.
	RequesterEnded    RequesterState = "ended"
	RequesterRejected RequesterState = "rejected"
)

func (s RequesterState) Banner() string {
	switch s {
	case RequesterRequested:
		return "Requesting a verification call..."
	case RequesterWaiting:
		return "Waiting for a verifier to join..."
	case RequesterConnecting:
		return "Verifier joined. Connecting video..."
	case RequesterVerifying:
		return "Verification in progress"
	case RequesterEnded:
		return "Call ended"
	case RequesterRejected:
		return "The verifier declined the call"
	default:
		return ""
	}
}

// InCall reports whether local media is live.
func (s RequesterState) InCall() bool {
	return s == RequesterConnecting || s == RequesterVerifying
}

// ResponderState is the responder's single source of truth for the UI.
type ResponderState string

const (
	ResponderIdle       ResponderState = "idle"
	ResponderNotified   ResponderState = "notified"
	ResponderAccepted   ResponderState = "accepted"
	ResponderConnecting ResponderState = "connecting"
	ResponderReviewing  ResponderState = "reviewing"
	// Transient: reported to listeners, then the responder returns to idle.
	ResponderRejected ResponderState = "rejected"
	ResponderDecided  ResponderState = "decided"
	ResponderEnded    ResponderState = "ended"
)

func (s ResponderState) Banner() string {
	switch s {
	case ResponderNotified:
		return "Incoming verification request"
	case ResponderAccepted:
		return "Starting camera..."
	case ResponderConnecting:
		return "Connecting to the user..."
	case ResponderReviewing:
		return "Verify the user's identity document"
	case ResponderRejected:
		return "Request declined"
	case ResponderDecided:
		return "Decision saved"
	case ResponderEnded:
		return "Call ended"
	default:
		return ""
	}
}

func (s ResponderState) InCall() bool {
	return s == ResponderConnecting || s == ResponderReviewing
}

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a short, user-facing message. Err carries the cause for logs and tests.
type Notice struct {
	Level   NoticeLevel
	Message string
	Err     error
}
