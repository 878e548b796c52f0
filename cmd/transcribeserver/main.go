// Command transcribeserver wires configuration, the AWS Transcribe
// Streaming client, OpenTelemetry providers, and the gin router, then
// serves `/ws/transcribe` until SIGINT/SIGTERM, grounded on the teacher's
// main.go (AWS config load + http.Server + context-cancellation shutdown
// goroutine) generalized from a fixed `:8080` mux to the full wired stack.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	transcribe "github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"go.opentelemetry.io/otel"

	"github.com/lecture-live/transcribe-core/internal/asr"
	"github.com/lecture-live/transcribe-core/internal/config"
	"github.com/lecture-live/transcribe-core/internal/observe"
	"github.com/lecture-live/transcribe-core/internal/session"
	"github.com/lecture-live/transcribe-core/internal/sink"
	"github.com/lecture-live/transcribe-core/internal/slidematch"
	"github.com/lecture-live/transcribe-core/internal/transport"
)

func main() {
	observe.InitLogging(observe.LogConfig{FilePath: os.Getenv("LOG_FILE"), JSON: true})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("ENV_FILE"))
	if err != nil {
		slog.Error("config: load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithSharedCredentialsFiles([]string{cfg.ProviderCredentialsPath}),
		awsconfig.WithRegion(cfg.ProviderProjectID),
	)
	if err != nil {
		slog.Error("aws: config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	providerClient := asr.NewAWSTranscribeClient(transcribe.NewFromConfig(awsCfg))

	metricsHandler, shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("observe: provider init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(sctx)
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		// NewMetrics only fails on instrument-registration errors against the
		// global MeterProvider observe.InitProvider just installed, which
		// cannot happen with known-valid instrument definitions.
		slog.Warn("observe: metrics unavailable, continuing without them", slog.String("error", err.Error()))
		metrics = nil
	}

	var sk sink.Sink
	if cfg.BackendBaseURL != "" {
		sk = sink.NewHTTPSink(cfg.BackendBaseURL, cfg.BackendServiceToken, cfg.BackendCallbackTimeout)
	}

	var matcher slidematch.Matcher // no slide index configured by default; presentations opt in via a future admin API

	mgr := session.NewManager(cfg.SessionMax, session.Config{
		Client:  providerClient,
		Matcher: matcher,
		Sink:    sk,
		Metrics: metrics,
	})

	router := transport.NewRouter(mgr, metrics, metricsHandler)
	server := &http.Server{Addr: cfg.ListenAddr, Handler: router}

	go func() {
		<-ctx.Done()
		slog.Info("http: shutting down")
		mgr.Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(sctx)
	}()

	slog.Info("http: server start", slog.String("addr", cfg.ListenAddr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http: server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("http: server stopped")
}
