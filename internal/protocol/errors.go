package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrUnknownEvent   = fmt.Errorf("%w: unknown event type", ErrInvalidPayload)
)

// Code is the machine-readable reason carried by an outbound error event.
type Code string

const (
	CodeInvalidPayload Code = "invalid_payload"
	CodeNotRegistered  Code = "not_registered"
	CodeRateLimited    Code = "rate_limited"
)

// Error is reported to the offending connection as
// {"type":"error","payload":{"code":...,"message":...}}.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	if e.Code == CodeInvalidPayload {
		return ErrInvalidPayload
	}
	return nil
}

// Frame encodes e as an error event.
func (e *Error) Frame() []byte {
	return MustEncode(EventError, e)
}

// AsError maps err onto the client-facing error. Errors that aren't already
// an *Error are reported as invalid_payload.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Code: CodeInvalidPayload, Message: err.Error()}
}

func NotRegistered(t EventType) *Error {
	return &Error{Code: CodeNotRegistered, Message: fmt.Sprintf("%s requires a prior register", t)}
}
