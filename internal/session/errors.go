package session

import "github.com/gorilla/websocket"

// ErrorCode is spec.md §7's error taxonomy, tagged rather than dispatched
// on dynamically (spec.md §9).
type ErrorCode string

const (
	CodeBadRequest          ErrorCode = "kBadRequest"
	CodeAlreadyActive       ErrorCode = "kAlreadyActive"
	CodeNotActive           ErrorCode = "kNotActive"
	CodeAudioFormat         ErrorCode = "kAudioFormat"
	CodeBackpressure        ErrorCode = "kBackpressure"
	CodeIdleTimeout         ErrorCode = "kIdleTimeout"
	CodeProviderUnavailable ErrorCode = "kProviderUnavailable"
	CodeProviderAuth        ErrorCode = "kProviderAuth"
	CodeInternal            ErrorCode = "kInternal"
)

// SessionError is the one error type that crosses every component boundary
// in this core (spec.md §9, "exceptions for control flow" — translated to
// an explicit result type instead of panics/exceptions).
type SessionError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func NewSessionError(code ErrorCode, message string, cause error) *SessionError {
	return &SessionError{Code: code, Message: message, Cause: cause}
}

func (e *SessionError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *SessionError) Unwrap() error { return e.Cause }

// ClientMessage is the text sent in the `error` event's `message` field.
func (e *SessionError) ClientMessage() string {
	return e.Message
}

// fatal reports whether this error code always ends the session (spec.md
// §7: protocol-misuse codes keep the socket open; everything else is
// fatal).
func (e *SessionError) fatal() bool {
	switch e.Code {
	case CodeBadRequest, CodeAlreadyActive, CodeNotActive:
		return false
	default:
		return true
	}
}

// closeCode maps a fatal SessionError onto the WebSocket close code used
// when the socket is closed (spec.md §6).
func (e *SessionError) closeCode() int {
	switch e.Code {
	case CodeProviderAuth:
		return websocket.CloseInternalServerErr
	case CodeIdleTimeout:
		return websocket.CloseNormalClosure
	case CodeBadRequest:
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}
