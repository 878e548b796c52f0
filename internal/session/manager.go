package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"
)

// Manager is the process-wide session registry and admission controller
// (spec.md §6/§9): it gates concurrent WebSocket connections behind
// SESSION_MAX and tracks every registered session by id so a duplicate
// `session_id` on start is rejected rather than silently colliding.
type Manager struct {
	cfg Config

	sem *semaphore.Weighted

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager builds a Manager that admits at most maxConcurrent connections
// at a time and shares cfg's provider client, matcher, and sink across every
// session it creates.
func NewManager(maxConcurrent int64, cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		sem:      semaphore.NewWeighted(maxConcurrent),
		sessions: make(map[string]*Session),
	}
}

// TryAdmit attempts to reserve one of SESSION_MAX concurrent connection
// slots, returning false if the process is already at capacity. The
// transport layer closes the socket with 1013 (try again later) on false.
func (m *Manager) TryAdmit() bool {
	return m.sem.TryAcquire(1)
}

// Release frees the connection slot reserved by a prior successful
// TryAdmit. Must be called exactly once per TryAdmit==true, regardless of
// whether the session ever reached Start.
func (m *Manager) Release() {
	m.sem.Release(1)
}

// Serve admits conn as a new Session, serves it to completion, and releases
// its connection slot. It blocks for the lifetime of the connection, so
// callers run it in its own goroutine per accepted WebSocket.
func (m *Manager) Serve(ctx context.Context, conn *websocket.Conn) Summary {
	defer m.Release()
	s := New(conn, m.cfg, m)
	return s.Serve(ctx)
}

// register inserts s under id, failing if id is already taken by a live
// session — the uniqueness guarantee spec.md §9 asks the registry to
// enforce at start time.
func (m *Manager) register(id string, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return fmt.Errorf("session: id %q already registered", id)
	}
	m.sessions[id] = s
	m.cfg.Metrics.IncActiveSession(context.Background())
	return nil
}

// unregister removes id from the registry. Safe to call even if id was
// never registered.
func (m *Manager) unregister(id string) {
	m.mu.Lock()
	_, existed := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if existed {
		m.cfg.Metrics.DecActiveSession(context.Background())
	}
}

// Count reports the number of currently registered (started) sessions, for
// the /metrics and /healthz surfaces.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown does not cancel sessions: Manager only owns the registry, so
// Shutdown logs the sessions still live at shutdown time for operational
// visibility. A session ends when the context passed to its Serve call
// (the transport layer passes each request's context) is cancelled.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.sessions) == 0 {
		return
	}
	slog.Info("session manager: shutting down with sessions still active", slog.Int("count", len(m.sessions)))
}
