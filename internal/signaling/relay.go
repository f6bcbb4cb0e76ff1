package signaling

import "context"

// Relay is one party's client of the signaling channel for a call.
//
// A client holds at most one subscription: Join replaces any previous one.
// Send is a silent no-op until the client has joined; messages are not buffered
// for parties that have not joined yet. Leave is idempotent.
// A client never receives its own messages.
type Relay interface {
	Join(ctx context.Context, callID string, onMessage func(Message)) error
	Send(ctx context.Context, callID string, msg Message) error
	Leave() error
}
