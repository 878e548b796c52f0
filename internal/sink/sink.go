// Package sink publishes finalized transcription results to the external
// persistence backend (spec.md §6's Sink callback). It is a best-effort,
// fire-and-forget collaborator: failures here never fail a session.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

// Timeout is SINK_TIMEOUT: the per-attempt deadline for a Sink call.
const Timeout = 3 * time.Second

// Record is the JSON body POSTed to BACKEND_BASE_URL/api/transcriptions.
type Record struct {
	LectureID       int64    `json:"lecture_id"`
	SessionID       string   `json:"session_id"`
	PresentationID  string   `json:"presentation_id"`
	Text            string   `json:"text"`
	Confidence      float64  `json:"confidence"`
	Timestamp       int64    `json:"timestamp"`
	IsFinal         bool     `json:"is_final"`
	SlideNumber     *string  `json:"slide_number,omitempty"`
	SlideScore      *float64 `json:"slide_score,omitempty"`
	SlideConfidence *float64 `json:"slide_confidence,omitempty"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
}

// Sink is the capability interface the Result Handler (C4) publishes
// finals through (spec.md §9, "cycles avoided": C4 never knows this is
// HTTP).
type Sink interface {
	Publish(ctx context.Context, rec Record) error
}

// HTTPSink is the one wired Sink implementation: a bearer-authenticated
// POST to the backend's transcriptions endpoint, following the REST-call
// shape of wwb.ai's asr_service.go (build request, set bearer header,
// range-check status, decode JSON) generalized from "call ASR" to "report a
// final transcript".
type HTTPSink struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPSink builds a Sink posting to baseURL. token may be empty, in
// which case no Authorization header is sent. timeout is the per-attempt
// client deadline (BACKEND_CALLBACK_TIMEOUT); a zero value falls back to
// Timeout (SINK_TIMEOUT).
func NewHTTPSink(baseURL, token string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = Timeout
	}
	return &HTTPSink{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSink) Publish(ctx context.Context, rec Record) error {
	body, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sink: marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/transcriptions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sink: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sink: call backend: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sink: backend returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// PublishWithRetry attempts Publish once, and on failure retries exactly
// once, logging and swallowing a second failure — spec.md §4.4's "3-second
// timeout, one retry, then a logged drop". It returns the outcome ("ok",
// "retried", or "dropped") for the caller's SinkPublishes metric.
func PublishWithRetry(ctx context.Context, s Sink, rec Record) string {
	attempt := func() error {
		c, cancel := context.WithTimeout(ctx, Timeout)
		defer cancel()
		return s.Publish(c, rec)
	}

	if err := attempt(); err == nil {
		return "ok"
	} else {
		slog.Warn("sink: publish failed, retrying once",
			slog.String("session_id", rec.SessionID), slog.String("error", err.Error()))
	}

	if err := attempt(); err != nil {
		slog.Warn("sink: publish dropped after retry",
			slog.String("session_id", rec.SessionID), slog.String("error", err.Error()))
		return "dropped"
	}
	return "retried"
}
