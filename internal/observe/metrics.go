// Package observe provides this core's observability primitives:
// OpenTelemetry metric instruments with a Prometheus scrape bridge, and a
// rotating structured-log writer. Grounded on
// MrWong99-glyphoxa/internal/observe (metrics.go, provider.go,
// middleware.go), with the instrument set swapped for this domain.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/lecture-live/transcribe-core"

// Metrics holds every OpenTelemetry instrument this core records. All
// fields are safe for concurrent use (the OTel SDK types handle their own
// synchronization).
type Metrics struct {
	ActiveSessions metric.Int64UpDownCounter
	ActiveEpochs   metric.Int64UpDownCounter

	EpochRenewals  metric.Int64Counter
	SessionsClosed metric.Int64Counter // attribute "status": the terminal status string

	SinkPublishes metric.Int64Counter // attribute "outcome": ok|retried|dropped

	SlideMatchDuration metric.Float64Histogram
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// NewMetrics builds every instrument against mp, returning an error if any
// instrument registration fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.ActiveSessions, err = m.Int64UpDownCounter("transcribe.active_sessions",
		metric.WithDescription("Number of live transcription sessions.")); err != nil {
		return nil, err
	}
	if met.ActiveEpochs, err = m.Int64UpDownCounter("transcribe.active_epochs",
		metric.WithDescription("Number of currently open ASR provider streams.")); err != nil {
		return nil, err
	}
	if met.EpochRenewals, err = m.Int64Counter("transcribe.epoch_renewals",
		metric.WithDescription("Total ASR stream renewals, by trigger.")); err != nil {
		return nil, err
	}
	if met.SessionsClosed, err = m.Int64Counter("transcribe.sessions_closed",
		metric.WithDescription("Total sessions closed, by terminal status.")); err != nil {
		return nil, err
	}
	if met.SinkPublishes, err = m.Int64Counter("transcribe.sink_publishes",
		metric.WithDescription("Total Sink publish attempts, by outcome.")); err != nil {
		return nil, err
	}
	if met.SlideMatchDuration, err = m.Float64Histogram("transcribe.slide_match.duration",
		metric.WithDescription("Latency of slide-match lookups."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("transcribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return met, nil
}

// Every Record*/Inc*/Dec* method is nil-receiver-safe so callers can thread
// a possibly-absent *Metrics (observability is optional, per
// cmd/transcribeserver's "continue without them" fallback) straight through
// without a nil check at every call site.

func (m *Metrics) RecordRenewal(ctx context.Context, trigger string) {
	if m == nil {
		return
	}
	m.EpochRenewals.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

func (m *Metrics) RecordSessionClosed(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.SessionsClosed.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordSinkPublish(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.SinkPublishes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordSlideMatchDuration(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.SlideMatchDuration.Record(ctx, seconds)
}

func (m *Metrics) IncActiveSession(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

func (m *Metrics) DecActiveSession(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}

func (m *Metrics) IncActiveEpoch(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveEpochs.Add(ctx, 1)
}

func (m *Metrics) DecActiveEpoch(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveEpochs.Add(ctx, -1)
}
