package session

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ControlKind tags a parsed client→server control message with one of the
// three variants spec.md §9 names, replacing a dynamic dispatch over the
// raw JSON action field.
type ControlKind int

const (
	ControlUnknown ControlKind = iota
	ControlStart
	ControlStop
)

// StartMessage is the validated payload of a `{"action":"start",...}`
// control message (spec.md §6).
type StartMessage struct {
	SessionID            string
	PresentationID       string
	LectureID            int64
	LanguageCode         string
	Model                string
	EnableInterimResults bool
}

// ControlMessage is the tagged union of client→server control messages.
type ControlMessage struct {
	Kind  ControlKind
	Start *StartMessage
}

// rawControlMessage mirrors the wire JSON shape of spec.md §6's control
// message table before field defaulting and validation.
type rawControlMessage struct {
	Action               string `json:"action" validate:"required,oneof=start stop"`
	SessionID            string `json:"session_id"`
	PresentationID       string `json:"presentation_id"`
	LectureID            *int64 `json:"lecture_id"`
	LanguageCode         string `json:"language_code"`
	Model                string `json:"model"`
	EnableInterimResults *bool  `json:"enable_interim_results"`
}

// ParseControlMessage decodes and validates one client→server JSON text
// frame. Any failure is returned as a *SessionError with CodeBadRequest,
// ready to forward as the `error` event's message.
func ParseControlMessage(data []byte) (ControlMessage, error) {
	var raw rawControlMessage
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return ControlMessage{}, NewSessionError(CodeBadRequest, "malformed control message: invalid JSON", err)
	}
	if err := validate.Struct(&raw); err != nil {
		return ControlMessage{}, NewSessionError(CodeBadRequest, fmt.Sprintf("malformed control message: %v", err), err)
	}

	switch raw.Action {
	case "start":
		if raw.LectureID == nil {
			return ControlMessage{}, NewSessionError(CodeBadRequest, "start requires lecture_id", nil)
		}
		start := &StartMessage{
			SessionID: raw.SessionID,
			// PresentationID defaults to the session id (spec.md §3), but the
			// session id itself may not exist yet here — raw.SessionID is
			// empty on the common no-id-supplied path, and the server only
			// generates one in beginStart. Defaulting against the
			// pre-generation value would bake in an empty string, so the
			// default is resolved there instead, once the real id is known.
			PresentationID:       raw.PresentationID,
			LectureID:            *raw.LectureID,
			LanguageCode:         defaultString(raw.LanguageCode, "ja-JP"),
			Model:                defaultString(raw.Model, "latest_long"),
			EnableInterimResults: raw.EnableInterimResults == nil || *raw.EnableInterimResults,
		}
		return ControlMessage{Kind: ControlStart, Start: start}, nil
	case "stop":
		return ControlMessage{Kind: ControlStop}, nil
	default:
		return ControlMessage{}, NewSessionError(CodeBadRequest, fmt.Sprintf("unknown action %q", raw.Action), nil)
	}
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
