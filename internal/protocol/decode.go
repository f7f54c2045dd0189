package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Inbound is a decoded, structurally valid client event. Only the field
// matching Type is set.
type Inbound struct {
	Type EventType

	UserID  string // register
	Join    JoinRoom
	Relay   RelayRequest
	CallEnd CallEndRequest
}

// Decode parses and validates one inbound frame. The envelope must not carry
// unknown fields; payloads may, and extra payload fields are ignored.
func Decode(data []byte) (Inbound, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Inbound{}, fmt.Errorf("%w: unexpected trailing data", ErrInvalidPayload)
	}

	in := Inbound{Type: env.Type}
	switch env.Type {
	case EventRegister:
		if err := json.Unmarshal(env.Payload, &in.UserID); err != nil {
			return Inbound{}, fmt.Errorf("%w: register payload must be a user id string", ErrInvalidPayload)
		}
		if err := required("userId", in.UserID); err != nil {
			return Inbound{}, err
		}

	case EventJoinRoom:
		if err := decodeObject(env, &in.Join); err != nil {
			return Inbound{}, err
		}
		if err := required("roomId", in.Join.RoomID); err != nil {
			return Inbound{}, err
		}
		if err := required("userId", in.Join.UserID); err != nil {
			return Inbound{}, err
		}

	case EventOffer, EventAnswer, EventICECandidate:
		relay, err := decodeRelay(env)
		if err != nil {
			return Inbound{}, err
		}
		in.Relay = relay

	case EventCallEnd:
		if err := decodeObject(env, &in.CallEnd); err != nil {
			return Inbound{}, err
		}
		if err := required("toUserId", in.CallEnd.ToUserID); err != nil {
			return Inbound{}, err
		}
		if err := required("roomId", in.CallEnd.RoomID); err != nil {
			return Inbound{}, err
		}

	case "":
		return Inbound{}, fmt.Errorf("%w: missing type", ErrInvalidPayload)
	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	return in, nil
}

func decodeRelay(env Envelope) (RelayRequest, error) {
	var fields map[string]json.RawMessage
	if err := decodeObject(env, &fields); err != nil {
		return RelayRequest{}, err
	}

	r := RelayRequest{Kind: env.Type}
	if err := unmarshalString(fields, "toUserId", &r.ToUserID); err != nil {
		return RelayRequest{}, err
	}
	if err := unmarshalString(fields, "roomId", &r.RoomID); err != nil {
		return RelayRequest{}, err
	}
	if err := required("toUserId", r.ToUserID); err != nil {
		return RelayRequest{}, err
	}
	if err := required("roomId", r.RoomID); err != nil {
		return RelayRequest{}, err
	}

	field := env.Type.BlobField()
	blob, ok := fields[field]
	if !ok || bytes.Equal(bytes.TrimSpace(blob), []byte("null")) {
		return RelayRequest{}, fmt.Errorf("%w: %s payload missing %s", ErrInvalidPayload, env.Type, field)
	}
	r.Blob = blob
	return r, nil
}

func decodeObject(env Envelope, v any) error {
	trimmed := bytes.TrimSpace(env.Payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: %s payload must be an object", ErrInvalidPayload, env.Type)
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Type, err)
	}
	return nil
}

func unmarshalString(fields map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s must be a string", ErrInvalidPayload, key)
	}
	return nil
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidPayload, field)
	}
	return nil
}
