// Package asr owns the long-lived bidirectional stream to the ASR
// provider: the ProviderClient/ProviderStream capability interfaces, the
// concrete AWS Transcribe Streaming implementation, and the Driver that
// runs the epoch lifecycle and renewal protocol of spec.md §4.3.
package asr

import (
	"context"
	"time"
)

// StreamConfig configures a newly opened provider stream. It is sent as the
// provider's configuration frame immediately after the stream reaches Open.
type StreamConfig struct {
	LanguageCode  string
	Model         string
	EnableInterim bool
}

// EventKind tags a ProviderEvent, replacing dynamic dispatch over the
// provider's wire event types with the small set of variants named in
// spec.md §9 (ProviderEvent ∈ {Interim, Final, EpochEnded, ProviderError}).
type EventKind int

const (
	// EventInterim is a non-final transcription hypothesis.
	EventInterim EventKind = iota
	// EventFinal is a committed transcription result.
	EventFinal
	// EventEnded signals the provider closed the stream with no error
	// (the normal outcome of a Draining epoch reaching EOF).
	EventEnded
	// EventError signals a transport-level provider error.
	EventError
)

// ProviderEvent is one event received from a ProviderStream.
type ProviderEvent struct {
	Kind       EventKind
	Text       string
	Confidence float64
	// ResultID is a provider-supplied stable identifier for this result, used
	// to deduplicate finals re-sent across an epoch renewal boundary (see
	// spec.md §9's Open Question resolution). Empty if the provider does not
	// supply one.
	ResultID string
	// Timestamp is the provider's event timestamp, used to enforce the
	// non-decreasing-finals invariant (spec.md §3).
	Timestamp time.Time
	// EpochIndex identifies which epoch produced this event, set by the
	// Driver's receiver loop (not by ProviderStream implementations).
	EpochIndex int
	Err        error
}

// ProviderStream is one underlying stream to the ASR provider: one ASR
// Epoch in the terms of spec.md §3. Send/Recv may be called concurrently
// from different goroutines (sender vs. receiver) but Send itself, and Recv
// itself, are each called from a single goroutine at a time.
type ProviderStream interface {
	// Send forwards one canonical audio frame.
	Send(ctx context.Context, pcm []byte) error
	// CloseSend half-closes the stream: no more audio will be sent, but
	// Recv may still be called to drain pending results until it reports
	// EventEnded or EventError.
	CloseSend() error
	// Recv blocks for the next event. Callers stop calling Recv once they
	// observe EventEnded or EventError.
	Recv() ProviderEvent
}

// ProviderClient opens new ProviderStreams against the configured ASR
// backend. One ProviderClient is shared by every session; it holds no
// per-session state.
type ProviderClient interface {
	OpenStream(ctx context.Context, cfg StreamConfig) (ProviderStream, error)
}
