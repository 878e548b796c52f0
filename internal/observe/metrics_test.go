package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMetrics_RegistersEveryInstrument(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.ActiveSessions == nil || m.ActiveEpochs == nil || m.EpochRenewals == nil ||
		m.SessionsClosed == nil || m.SinkPublishes == nil || m.SlideMatchDuration == nil ||
		m.HTTPRequestDuration == nil {
		t.Fatal("expected every instrument to be non-nil")
	}
}

func TestMetrics_RecordHelpersDoNotPanic(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	m.RecordRenewal(ctx, "soft_limit")
	m.RecordSessionClosed(ctx, "closed")
	m.RecordSinkPublish(ctx, "ok")
}
