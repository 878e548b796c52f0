// Package transport exposes the HTTP/WebSocket surface: the
// `/ws/transcribe` upgrade endpoint bridging into the Session Manager, plus
// `/healthz` and `/metrics`, grounded on the teacher's StreamAudioEndpoint
// (endpoints.go) combined with wuwenbin0122-wwb.ai's gin-based ASR
// WebSocket handler shape.
package transport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/lecture-live/transcribe-core/internal/observe"
	"github.com/lecture-live/transcribe-core/internal/session"
)

// upgrader mirrors the teacher's permissive CheckOrigin — this core sits
// behind a reverse proxy that owns origin policy.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter builds the gin engine exposing the transcription WebSocket plus
// operational endpoints. metrics/metricsHandler may be nil in tests; when
// set, requests are timed into metrics and /metrics exposes
// metricsHandler (internal/observe's Prometheus scrape handler).
func NewRouter(mgr *session.Manager, metrics *observe.Metrics, metricsHandler http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if metrics != nil {
		r.Use(observe.GinMiddleware(metrics))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "active_sessions": mgr.Count()})
	})

	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	r.GET("/ws/transcribe", func(c *gin.Context) {
		handleTranscribe(c, mgr)
	})

	return r
}

// handleTranscribe upgrades the connection and hands it to the Manager,
// applying SESSION_MAX admission control (spec.md §6) before a Session is
// ever constructed. A connection over capacity is still upgraded (the
// refusal is a WebSocket-level concern, not an HTTP one) and immediately
// closed with close code 1013 ("try again later"), per spec.md §6.
func handleTranscribe(c *gin.Context, mgr *session.Manager) {
	if !mgr.TryAdmit() {
		refuseAtCapacity(c)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		mgr.Release()
		slog.Error("transport: websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	summary := mgr.Serve(c.Request.Context(), conn)
	slog.Info("transport: session closed",
		slog.String("session_id", summary.SessionID),
		slog.String("status", summary.Status),
		slog.Int("renewals", summary.RenewalCount))
}

// refuseAtCapacity upgrades the connection only to immediately close it with
// 1013, so a client sees a standard WebSocket close rather than a bare
// connection drop or an HTTP error it may not be watching for.
func refuseAtCapacity(c *gin.Context) {
	slog.Warn("transport: refusing connection, at SESSION_MAX capacity", slog.String("remote", c.Request.RemoteAddr))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server at capacity"),
		time.Now().Add(time.Second))
}
