package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/lecture-live/transcribe-core/internal/asr"
	"github.com/lecture-live/transcribe-core/internal/session"
)

// noopStream never produces events; it is only used here to satisfy
// admission into a Session, not to exercise the ASR protocol itself
// (internal/session's own tests cover that).
type noopStream struct{ done chan struct{} }

func (s *noopStream) Send(ctx context.Context, pcm []byte) error { return nil }
func (s *noopStream) CloseSend() error                           { return nil }
func (s *noopStream) Recv() asr.ProviderEvent {
	<-s.done
	return asr.ProviderEvent{Kind: asr.EventEnded}
}

type noopClient struct{}

func (noopClient) OpenStream(ctx context.Context, cfg asr.StreamConfig) (asr.ProviderStream, error) {
	return &noopStream{done: make(chan struct{})}, nil
}

func newTestRouter(maxConcurrent int64) (*httptest.Server, string) {
	mgr := session.NewManager(maxConcurrent, session.Config{Client: noopClient{}})
	r := NewRouter(mgr, nil, nil)
	srv := httptest.NewServer(r)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/transcribe"
	return srv, wsURL
}

func TestHealthz_ReportsOK(t *testing.T) {
	srv, _ := newTestRouter(4)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %+v", body)
	}
}

func TestMetrics_AbsentWhenHandlerNil(t *testing.T) {
	srv, _ := newTestRouter(4)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 when no metrics handler is wired, got %d", resp.StatusCode)
	}
}

func TestWebsocketUpgrade_RefusedAtSessionMaxCapacity(t *testing.T) {
	srv, wsURL := newTestRouter(1)
	defer srv.Close()

	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("first dial: %v", err)
	}
	defer first.Close()

	second, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("second dial: expected the handshake itself to succeed, got %v", err)
	}
	defer second.Close()

	_, _, err = second.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected the second connection to be closed with a WebSocket close frame, got %v", err)
	}
	if closeErr.Code != websocket.CloseTryAgainLater {
		t.Fatalf("expected close code 1013 (try again later), got %d", closeErr.Code)
	}
}
