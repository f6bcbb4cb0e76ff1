package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType tags a Message on the wire.
type MessageType string

const (
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypeRoleJoined   MessageType = "role-joined"
)

// Roles announced with role-joined.
const (
	RoleRequester = "requester"
	RoleResponder = "responder"
)

// Message is one negotiation signal exchanged between the two parties of a call.
// Offer, Answer and Candidate are opaque: they are relayed byte for byte and never inspected.
type Message struct {
	Type MessageType `json:"type"`
	// Sender identifies the relay client that published the message.
	Sender string `json:"sender,omitempty"`

	Role      string          `json:"role,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

var ErrInvalidMessage = errors.New("signaling: invalid message")

// Validate checks that the payload matching the tag is present.
func (m Message) Validate() error {
	switch m.Type {
	case TypeOffer:
		if len(m.Offer) == 0 {
			return fmt.Errorf("%w: offer without session description", ErrInvalidMessage)
		}
	case TypeAnswer:
		if len(m.Answer) == 0 {
			return fmt.Errorf("%w: answer without session description", ErrInvalidMessage)
		}
	case TypeICECandidate:
		if len(m.Candidate) == 0 {
			return fmt.Errorf("%w: ice-candidate without candidate", ErrInvalidMessage)
		}
	case TypeRoleJoined:
		if m.Role == "" {
			return fmt.Errorf("%w: role-joined without role", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

func OfferMessage(sdp json.RawMessage) Message {
	return Message{Type: TypeOffer, Offer: sdp}
}

func AnswerMessage(sdp json.RawMessage) Message {
	return Message{Type: TypeAnswer, Answer: sdp}
}

func CandidateMessage(candidate json.RawMessage) Message {
	return Message{Type: TypeICECandidate, Candidate: candidate}
}

func RoleJoinedMessage(role string) Message {
	return Message{Type: TypeRoleJoined, Role: role}
}

// ChannelName is the relay channel scoping one call's signals.
func ChannelName(callID string) string {
	return "video_call_" + callID
}

func encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
