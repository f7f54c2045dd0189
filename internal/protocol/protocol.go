// Package protocol defines the signaling wire format: every WebSocket text
// frame is a JSON envelope {"type": <event>, "payload": <payload>}.
package protocol

import (
	"encoding/json"
	"fmt"
)

type EventType string

// Inbound events (client → server).
const (
	EventRegister     EventType = "register"
	EventJoinRoom     EventType = "joinRoom"
	EventOffer        EventType = "offer"
	EventAnswer       EventType = "answer"
	EventICECandidate EventType = "iceCandidate"
	EventCallEnd      EventType = "callEnd"
)

// Outbound events (server → client). offer, answer, iceCandidate and callEnd
// are echoed under their inbound names.
const (
	EventRoomFull             EventType = "roomFull"
	EventWaitingForOpponent   EventType = "waitingForOpponent"
	EventReadyForCall         EventType = "readyForCall"
	EventOpponentDisconnected EventType = "opponentDisconnected"
	EventError                EventType = "error"
)

// IsRelay reports whether t is one of the negotiation messages forwarded
// verbatim between peers.
func (t EventType) IsRelay() bool {
	return t == EventOffer || t == EventAnswer || t == EventICECandidate
}

// BlobField is the payload key carrying the opaque negotiation blob of a
// relay event.
func (t EventType) BlobField() string {
	switch t {
	case EventOffer:
		return "offer"
	case EventAnswer:
		return "answer"
	case EventICECandidate:
		return "candidate"
	default:
		return ""
	}
}

type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinRoom struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// RelayRequest is an inbound offer, answer or iceCandidate. Blob is never
// interpreted by the server.
type RelayRequest struct {
	Kind     EventType
	ToUserID string
	RoomID   string
	Blob     json.RawMessage
}

func (r RelayRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"toUserId":         r.ToUserID,
		"roomId":           r.RoomID,
		r.Kind.BlobField(): r.Blob,
	})
}

type CallEndRequest struct {
	ToUserID string `json:"toUserId"`
	RoomID   string `json:"roomId"`
}

// Relayed is the outbound form of a RelayRequest as delivered to its target.
type Relayed struct {
	Kind       EventType
	FromUserID string
	RoomID     string
	Blob       json.RawMessage
}

func (r Relayed) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"fromUserId":       r.FromUserID,
		"roomId":           r.RoomID,
		r.Kind.BlobField(): r.Blob,
	})
}

// DecodeRelayed parses an outbound relay payload of the given kind.
func DecodeRelayed(kind EventType, payload []byte) (Relayed, error) {
	if !kind.IsRelay() {
		return Relayed{}, fmt.Errorf("%w: %q is not a relay event", ErrUnknownEvent, kind)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Relayed{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	out := Relayed{Kind: kind, Blob: fields[kind.BlobField()]}
	if err := unmarshalString(fields, "fromUserId", &out.FromUserID); err != nil {
		return Relayed{}, err
	}
	if err := unmarshalString(fields, "roomId", &out.RoomID); err != nil {
		return Relayed{}, err
	}
	return out, nil
}

type ReadyForCall struct {
	CallerID string `json:"callerId"`
}

type CallEnded struct {
	FromUserID string `json:"fromUserId"`
}

type OpponentDisconnected struct {
	RoomID             string `json:"roomId"`
	DisconnectedUserID string `json:"disconnectedUserId"`
}

// Encode builds an envelope frame. A nil payload is omitted.
func Encode(t EventType, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// MustEncode is Encode for payload types that cannot fail to marshal.
func MustEncode(t EventType, payload any) []byte {
	b, err := Encode(t, payload)
	if err != nil {
		panic(err)
	}
	return b
}
