package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lecture-live/transcribe-core/internal/asr"
)

// fakeStream is a minimal in-memory asr.ProviderStream, mirroring the one
// internal/asr's own driver tests use.
type fakeStream struct {
	mu     sync.Mutex
	closed bool
	events chan asr.ProviderEvent
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan asr.ProviderEvent, 16)}
}

func (s *fakeStream) Send(ctx context.Context, pcm []byte) error { return nil }

func (s *fakeStream) CloseSend() error {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if already {
		return nil
	}
	s.events <- asr.ProviderEvent{Kind: asr.EventEnded}
	return nil
}

func (s *fakeStream) Recv() asr.ProviderEvent { return <-s.events }

func (s *fakeStream) pushFinal(text string) {
	s.events <- asr.ProviderEvent{Kind: asr.EventFinal, Text: text}
}

// fakeClient always hands out the same fakeStream, enough for the
// single-epoch scenarios these tests drive.
type fakeClient struct {
	stream *fakeStream
}

func (c *fakeClient) OpenStream(ctx context.Context, cfg asr.StreamConfig) (asr.ProviderStream, error) {
	return c.stream, nil
}

// newTestServer wires one Manager behind a bare net/http server exposing a
// single WebSocket endpoint, grounded on the teacher's StreamAudioEndpoint
// upgrade-then-Serve shape (endpoints.go).
func newTestServer(t *testing.T, mgr *Manager) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !mgr.TryAdmit() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			mgr.Release()
			return
		}
		go mgr.Serve(context.Background(), conn)
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return out
}

func TestSession_StartProducesSessionStartedThenTranscription(t *testing.T) {
	stream := newFakeStream()
	mgr := NewManager(4, Config{Client: &fakeClient{stream: stream}})
	srv, url := newTestServer(t, mgr)
	defer srv.Close()

	conn := dial(t, url)
	defer conn.Close()

	start := map[string]any{
		"action":      "start",
		"session_id":  "s1",
		"lecture_id":  42,
		"language_code": "en-US",
	}
	payload, _ := json.Marshal(start)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write start: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 3200)); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	ev := readEvent(t, conn)
	if ev["event"] != "session_started" {
		t.Fatalf("expected session_started, got %v", ev)
	}

	stream.pushFinal("hello world")
	ev = readEvent(t, conn)
	if ev["event"] != "transcription" {
		t.Fatalf("expected transcription, got %v", ev)
	}
	result := ev["result"].(map[string]any)
	if result["text"] != "hello world" || result["is_final"] != true {
		t.Fatalf("unexpected result payload: %v", result)
	}
}

func TestSession_DuplicateStartIsRejectedWithoutClosingSocket(t *testing.T) {
	stream := newFakeStream()
	mgr := NewManager(4, Config{Client: &fakeClient{stream: stream}})
	srv, url := newTestServer(t, mgr)
	defer srv.Close()

	conn := dial(t, url)
	defer conn.Close()

	start, _ := json.Marshal(map[string]any{"action": "start", "session_id": "s2", "lecture_id": 1})
	conn.WriteMessage(websocket.TextMessage, start)
	readEvent(t, conn) // session_started

	conn.WriteMessage(websocket.TextMessage, start)
	ev := readEvent(t, conn)
	if ev["event"] != "error" {
		t.Fatalf("expected error event on duplicate start, got %v", ev)
	}
}

func TestSession_StopEndsSessionGracefully(t *testing.T) {
	stream := newFakeStream()
	mgr := NewManager(4, Config{Client: &fakeClient{stream: stream}})
	srv, url := newTestServer(t, mgr)
	defer srv.Close()

	conn := dial(t, url)
	defer conn.Close()

	start, _ := json.Marshal(map[string]any{"action": "start", "session_id": "s3", "lecture_id": 1})
	conn.WriteMessage(websocket.TextMessage, start)
	readEvent(t, conn) // session_started

	stop, _ := json.Marshal(map[string]any{"action": "stop"})
	conn.WriteMessage(websocket.TextMessage, stop)

	ev := readEvent(t, conn)
	if ev["event"] != "session_closed" {
		t.Fatalf("expected session_closed, got %v", ev)
	}
	summary := ev["summary"].(map[string]any)
	if summary["status"] != "closed" {
		t.Fatalf("expected closed status, got %v", summary["status"])
	}
}

func TestSession_StopWithoutStartIsRejected(t *testing.T) {
	stream := newFakeStream()
	mgr := NewManager(4, Config{Client: &fakeClient{stream: stream}})
	srv, url := newTestServer(t, mgr)
	defer srv.Close()

	conn := dial(t, url)
	defer conn.Close()

	stop, _ := json.Marshal(map[string]any{"action": "stop"})
	conn.WriteMessage(websocket.TextMessage, stop)

	ev := readEvent(t, conn)
	if ev["event"] != "error" {
		t.Fatalf("expected error event, got %v", ev)
	}
}

func TestSession_PresentationIDDefaultsToSessionIDWhenOmitted(t *testing.T) {
	stream := newFakeStream()
	mgr := NewManager(4, Config{Client: &fakeClient{stream: stream}})
	srv, url := newTestServer(t, mgr)
	defer srv.Close()

	conn := dial(t, url)
	defer conn.Close()

	// No session_id/presentation_id supplied: the server generates a session
	// id and presentation_id must default to it, never to an empty string.
	start, _ := json.Marshal(map[string]any{"action": "start", "lecture_id": 1})
	conn.WriteMessage(websocket.TextMessage, start)

	ev := readEvent(t, conn)
	if ev["event"] != "session_started" {
		t.Fatalf("expected session_started, got %v", ev)
	}
	sessionID, _ := ev["session_id"].(string)
	presentationID, _ := ev["presentation_id"].(string)
	if sessionID == "" {
		t.Fatal("expected a generated session_id")
	}
	if presentationID != sessionID {
		t.Fatalf("expected presentation_id to default to session_id %q, got %q", sessionID, presentationID)
	}
}

func TestSession_SummaryReportsChunksAndBytesSent(t *testing.T) {
	stream := newFakeStream()
	mgr := NewManager(4, Config{Client: &fakeClient{stream: stream}})
	srv, url := newTestServer(t, mgr)
	defer srv.Close()

	conn := dial(t, url)
	defer conn.Close()

	start, _ := json.Marshal(map[string]any{"action": "start", "session_id": "s4", "lecture_id": 1})
	conn.WriteMessage(websocket.TextMessage, start)
	readEvent(t, conn) // session_started

	const frames = 3
	frame := make([]byte, 3200)
	for i := 0; i < frames; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}

	// A short pause before the stop; the count does not depend on it, since
	// after a stop the driver's sender loop forwards every frame still
	// buffered in the queue before the session closes.
	time.Sleep(100 * time.Millisecond)

	stop, _ := json.Marshal(map[string]any{"action": "stop"})
	conn.WriteMessage(websocket.TextMessage, stop)

	ev := readEvent(t, conn)
	if ev["event"] != "session_closed" {
		t.Fatalf("expected session_closed, got %v", ev)
	}
	summary := ev["summary"].(map[string]any)
	if got := summary["total_chunks_sent"].(float64); got != frames {
		t.Fatalf("expected total_chunks_sent=%d, got %v", frames, got)
	}
	if got := summary["total_bytes_sent"].(float64); got != frames*3200 {
		t.Fatalf("expected total_bytes_sent=%d, got %v", frames*3200, got)
	}
}

func TestManager_AdmissionControlRejectsBeyondCapacity(t *testing.T) {
	mgr := NewManager(1, Config{Client: &fakeClient{stream: newFakeStream()}})
	if !mgr.TryAdmit() {
		t.Fatal("expected first admission to succeed")
	}
	if mgr.TryAdmit() {
		t.Fatal("expected second admission to be refused at capacity 1")
	}
	mgr.Release()
	if !mgr.TryAdmit() {
		t.Fatal("expected admission to succeed again after release")
	}
}
