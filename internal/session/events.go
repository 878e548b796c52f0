package session

import (
	"github.com/bytedance/sonic"

	"github.com/lecture-live/transcribe-core/internal/result"
)

// Server→client event payloads (spec.md §6), each a tagged variant carrying
// its own `event` discriminator. Marshalled with bytedance/sonic — the same
// JSON library used across this core — generalizing the teacher's
// fmt.Sprintf-built JSON string into structured, schema-checked payloads.

type sessionStartedEvent struct {
	Event          string `json:"event"`
	SessionID      string `json:"session_id"`
	PresentationID string `json:"presentation_id"`
	LanguageCode   string `json:"language_code"`
	Model          string `json:"model"`
}

func newSessionStartedPayload(s *Session) ([]byte, error) {
	return sonic.Marshal(sessionStartedEvent{
		Event:          "session_started",
		SessionID:      s.ID,
		PresentationID: s.PresentationID,
		LanguageCode:   s.LanguageCode,
		Model:          s.Model,
	})
}

type slidePayload struct {
	SlideID         string   `json:"slide_id"`
	Score           float64  `json:"score"`
	Confidence      float64  `json:"confidence"`
	MatchedKeywords []string `json:"matched_keywords"`
}

type transcriptionResultPayload struct {
	Text           string        `json:"text"`
	IsFinal        bool          `json:"is_final"`
	Confidence     float64       `json:"confidence"`
	Timestamp      int64         `json:"timestamp"`
	SessionID      string        `json:"session_id"`
	PresentationID string        `json:"presentation_id"`
	Slide          *slidePayload `json:"slide,omitempty"`
}

type transcriptionEvent struct {
	Event  string                     `json:"event"`
	Result transcriptionResultPayload `json:"result"`
}

func newTranscriptionPayload(r result.Result) ([]byte, error) {
	ev := transcriptionEvent{
		Event: "transcription",
		Result: transcriptionResultPayload{
			Text:           r.Text,
			IsFinal:        r.IsFinal,
			Confidence:     r.Confidence,
			Timestamp:      r.Timestamp.UnixMilli(),
			SessionID:      r.SessionID,
			PresentationID: r.PresentationID,
		},
	}
	if r.Slide != nil {
		ev.Result.Slide = &slidePayload{
			SlideID:         r.Slide.SlideID,
			Score:           r.Slide.Score,
			Confidence:      r.Slide.Confidence,
			MatchedKeywords: r.Slide.MatchedKeywords,
		}
	}
	return sonic.Marshal(ev)
}

type summaryPayload struct {
	SessionID       string `json:"session_id"`
	PresentationID  string `json:"presentation_id"`
	CreatedAt       int64  `json:"created_at"`
	DurationMS      int64  `json:"duration_ms"`
	Status          string `json:"status"`
	RenewalCount    int    `json:"renewal_count"`
	TotalChunksSent int64  `json:"total_chunks_sent"`
	TotalBytesSent  int64  `json:"total_bytes_sent"`
	IdleMS          int64  `json:"idle_ms"`
}

type sessionClosedEvent struct {
	Event     string         `json:"event"`
	SessionID string         `json:"session_id"`
	Summary   summaryPayload `json:"summary"`
}

func newSessionClosedPayload(sum Summary) ([]byte, error) {
	return sonic.Marshal(sessionClosedEvent{
		Event:     "session_closed",
		SessionID: sum.SessionID,
		Summary: summaryPayload{
			SessionID:       sum.SessionID,
			PresentationID:  sum.PresentationID,
			CreatedAt:       sum.CreatedAt.UnixMilli(),
			DurationMS:      sum.Duration.Milliseconds(),
			Status:          sum.Status,
			RenewalCount:    sum.RenewalCount,
			TotalChunksSent: sum.TotalChunksSent,
			TotalBytesSent:  sum.TotalBytesSent,
			IdleMS:          sum.IdleAtClose.Milliseconds(),
		},
	})
}

type errorEvent struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

func newErrorPayload(message string) ([]byte, error) {
	return sonic.Marshal(errorEvent{Event: "error", Message: message})
}
