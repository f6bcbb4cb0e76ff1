package peer

import (
	"encoding/json"

	"videokyc-platform/internal/media"
)

// State is the connection state reported to orchestration.
type State string

const (
	StateNew          State = "new"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// IsTerminal reports whether the call must be torn down.
func (s State) IsTerminal() bool {
	return s == StateDisconnected || s == StateFailed || s == StateClosed
}

// RemoteTrack describes media received from the other party.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     string
	MimeType string
}

// Callbacks are invoked from transport goroutines. They must not block.
type Callbacks struct {
	OnLocalCandidate func(candidate json.RawMessage)
	OnRemoteTrack    func(track RemoteTrack)
	OnStateChange    func(state State)
}

// Connection is one media session for one call attempt.
//
// Session descriptions and candidates are opaque JSON blobs so they can be relayed untouched.
// The side that receives an offer answers; it never offers.
type Connection interface {
	AttachLocalMedia(stream media.Stream) error
	CreateOffer() (json.RawMessage, error)
	CreateAnswer() (json.RawMessage, error)
	SetRemoteDescription(desc json.RawMessage) error
	// AddICECandidate may fail for late, early or malformed candidates; callers treat that as non-fatal.
	AddICECandidate(candidate json.RawMessage) error
	State() State
	Stats() Stats
	// Close releases local media and the transport. Idempotent.
	Close() error
}

// Factory creates connections configured with the deployment's ICE servers.
type Factory interface {
	Create(cb Callbacks) (Connection, error)
}

// Stats counts received media.
type Stats struct {
	PacketsReceived uint64 `json:"packets_received"`
	BytesReceived   uint64 `json:"bytes_received"`
}
