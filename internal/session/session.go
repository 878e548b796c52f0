// Package session is the Session Manager (C5): per-connection lifecycle
// and state machine, the client control protocol, and ownership of C1
// through C4 for one WebSocket (spec.md §4.5).
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/lecture-live/transcribe-core/internal/asr"
	"github.com/lecture-live/transcribe-core/internal/audio"
	"github.com/lecture-live/transcribe-core/internal/observe"
	"github.com/lecture-live/transcribe-core/internal/result"
	"github.com/lecture-live/transcribe-core/internal/sink"
	"github.com/lecture-live/transcribe-core/internal/slidematch"
)

// State is one of the six Session Manager states of spec.md §4.5.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// sendQueueCapacity bounds the outbound event queue; the sendLoop is
// decoupled from the control loop exactly as kylesean-asr_server's sendLoop
// is decoupled from ProcessAudioData, so a slow client never blocks
// recognition.
const sendQueueCapacity = 64

// maxSendErrors mirrors kylesean-asr_server's send-error budget before a session
// gives up writing to an unresponsive socket.
const maxSendErrors = 5

// Summary is the Session Summary emitted at close (spec.md §3).
type Summary struct {
	SessionID       string
	PresentationID  string
	CreatedAt       time.Time
	Duration        time.Duration
	Status          string
	RenewalCount    int
	TotalChunksSent int64
	TotalBytesSent  int64
	IdleAtClose     time.Duration
}

// registrar is the subset of Manager a Session needs: registry
// insert/remove, keeping the registry itself (spec.md §9's one process-wide
// mutable structure) out of Session's own concerns.
type registrar interface {
	register(id string, s *Session) error
	unregister(id string)
}

// Session owns one WebSocket connection's complete recognition lifecycle:
// C1 (Normalizer), C2 (Queue), C3 (Driver) and C4 (Handler), plus the
// control-protocol state machine.
type Session struct {
	conn    *websocket.Conn
	client  asr.ProviderClient
	matcher slidematch.Matcher
	sk      sink.Sink
	mgr     registrar
	metrics *observe.Metrics

	ID             string
	PresentationID string
	LectureID      int64
	LanguageCode   string
	Model          string
	EnableInterim  bool
	CreatedAt      time.Time

	normalizer *audio.Normalizer
	queue      *audio.Queue
	driver     *asr.Driver
	handler    *result.Handler

	sendCh       chan []byte
	sendErrCount int32
	registered   int32

	mu          sync.Mutex
	state       State
	lastAudioAt time.Time
	closeCode   int
}

// Config carries the dependencies every Session needs that are shared
// process-wide (spec.md §9's "global singletons").
type Config struct {
	Client  asr.ProviderClient
	Matcher slidematch.Matcher // nil disables slide matching
	Sink    sink.Sink          // nil disables the Sink
	Metrics *observe.Metrics   // nil disables recording
}

// New constructs a Session for one freshly upgraded WebSocket connection.
// It does not yet touch the registry or open a provider stream — both
// happen once a valid `start` control message arrives.
func New(conn *websocket.Conn, cfg Config, mgr registrar) *Session {
	return &Session{
		conn:       conn,
		client:     cfg.Client,
		matcher:    cfg.Matcher,
		sk:         cfg.Sink,
		mgr:        mgr,
		metrics:    cfg.Metrics,
		normalizer: audio.NewNormalizer(),
		queue:      audio.NewQueue(),
		sendCh:     make(chan []byte, sendQueueCapacity),
		state:      StateIdle,
	}
}

func (s *Session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Serve runs the session to completion: reader, sender, and control loops,
// all torn down via parentCtx or the session's own terminal transitions. It
// blocks until the session is fully closed and returns its Summary.
func (s *Session) Serve(parentCtx context.Context) Summary {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	eg, egCtx := errgroup.WithContext(ctx)

	ctrlCh := make(chan ControlMessage, 4)
	fatalCh := make(chan *SessionError, 1)
	disconnected := make(chan struct{})

	eg.Go(func() error {
		s.readerLoop(egCtx, ctrlCh, fatalCh, disconnected)
		return nil
	})
	eg.Go(func() error {
		s.sendLoop(egCtx)
		return nil
	})

	summary := s.controlLoop(egCtx, ctrlCh, fatalCh, disconnected)

	cancel()
	s.sendClose()
	_ = s.conn.Close()
	_ = eg.Wait()

	if atomic.LoadInt32(&s.registered) == 1 {
		s.mgr.unregister(s.ID)
	}

	return summary
}

// readerLoop is the session's single dedicated socket reader: it forwards
// binary audio straight into C1/C2 (even in Idle/Starting, per spec.md
// §4.5's "binary messages are buffered into C1" note) and decodes text
// frames as control messages, grounded on the teacher's
// StreamAudioEndpoint reader goroutine (endpoints.go) generalized from
// "one fixed audio session" to "pre-Start buffering plus control parsing".
func (s *Session) readerLoop(ctx context.Context, ctrlCh chan<- ControlMessage, fatalCh chan<- *SessionError, disconnected chan<- struct{}) {
	defer close(disconnected)
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			s.ingestAudio(ctx, data, fatalCh)
		case websocket.TextMessage:
			msg, err := ParseControlMessage(data)
			if err != nil {
				if se, ok := err.(*SessionError); ok {
					select {
					case fatalCh <- se:
					case <-ctx.Done():
					}
					continue
				}
				continue
			}
			if msg.Kind == ControlStop && s.getState() == StateActive {
				// C1's residue is flushed onto the queue ahead of the stop,
				// so it is drained to the provider rather than dropped.
				for _, f := range s.normalizer.Flush() {
					if s.queue.Push(ctx, f) != nil {
						break
					}
				}
			}
			select {
			case ctrlCh <- msg:
			case <-ctx.Done():
				return
			}
		default:
			// control frames (ping/pong/close) are handled by gorilla/websocket itself.
		}
	}
}

// ingestAudio runs one payload through the Normalizer and pushes the
// resulting frames onto the Audio Queue, surfacing kAudioFormat /
// kBackpressure as fatal SessionErrors.
func (s *Session) ingestAudio(ctx context.Context, payload []byte, fatalCh chan<- *SessionError) {
	frames, err := s.normalizer.Feed(payload)
	if err != nil {
		select {
		case fatalCh <- NewSessionError(CodeAudioFormat, "misaligned PCM payload", err):
		case <-ctx.Done():
		}
		return
	}
	for _, f := range frames {
		if perr := s.queue.Push(ctx, f); perr != nil {
			if perr == audio.ErrBackpressure {
				select {
				case fatalCh <- NewSessionError(CodeBackpressure, "producer blocked beyond backpressure budget", perr):
				case <-ctx.Done():
				}
			}
			return
		}
		s.touchAudio()
	}
}

func (s *Session) touchAudio() {
	s.mu.Lock()
	s.lastAudioAt = time.Now()
	s.mu.Unlock()
}

// sendLoop drains the outbound event queue to the socket, tracking
// consecutive write failures exactly as kylesean-asr_server's sendLoop
// does, giving up on the connection after maxSendErrors.
func (s *Session) sendLoop(ctx context.Context) {
	for {
		select {
		case payload := <-s.sendCh:
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if atomic.AddInt32(&s.sendErrCount, 1) > maxSendErrors {
					return
				}
				continue
			}
			atomic.StoreInt32(&s.sendErrCount, 0)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) enqueue(payload []byte, err error) {
	if err != nil {
		slog.Error("session: failed to encode event", slog.String("session_id", s.ID), slog.String("error", err.Error()))
		return
	}
	select {
	case s.sendCh <- payload:
	default:
		slog.Warn("session: outbound queue full, dropping event", slog.String("session_id", s.ID))
	}
}

func (s *Session) sendError(e *SessionError) {
	s.enqueue(newErrorPayload(e.ClientMessage()))
}

// controlLoop is the single-logical-threaded control plane of spec.md
// §4.5: it owns `state` and is the only goroutine that ever mutates it.
func (s *Session) controlLoop(ctx context.Context, ctrlCh <-chan ControlMessage, fatalCh <-chan *SessionError, disconnected <-chan struct{}) Summary {
	var events <-chan asr.ProviderEvent
	var firstCommit <-chan struct{}

	for {
		select {
		case <-ctx.Done():
			return s.summary("kInternal")

		case <-disconnected:
			switch s.getState() {
			case StateActive:
				s.setState(StateStopping)
				s.queue.Close()
				disconnected = nil
			case StateStarting:
				s.queue.Close()
				disconnected = nil
			default:
				return s.summary("closed")
			}

		case msg := <-ctrlCh:
			switch msg.Kind {
			case ControlStart:
				if s.getState() != StateIdle {
					s.sendError(NewSessionError(CodeAlreadyActive, "a session is already active on this connection", nil))
					continue
				}
				if err := s.beginStart(msg.Start); err != nil {
					s.sendError(err)
					continue
				}
				s.setState(StateStarting)
				events = s.driver.Run(ctx)
				firstCommit = s.driver.FirstCommit()

			case ControlStop:
				if s.getState() != StateActive {
					s.sendError(NewSessionError(CodeNotActive, "session is not active", nil))
					continue
				}
				s.setState(StateStopping)
				s.queue.Close()
			}

		case <-firstCommit:
			firstCommit = nil
			s.setState(StateActive)
			s.enqueue(newSessionStartedPayload(s))

		case fe := <-fatalCh:
			if !fe.fatal() {
				// A malformed control message is reported without closing
				// the socket while Idle; in any other state it fails the session.
				s.sendError(fe)
				if s.getState() == StateIdle {
					continue
				}
			}
			return s.fail(fe)

		case ev, ok := <-events:
			if !ok {
				return s.driverStopped()
			}
			if res, publish := s.handler.Handle(ctx, ev); publish {
				s.enqueue(newTranscriptionPayload(res))
			}
		}
	}
}

// beginStart assigns the session its id, registers it, and wires C1-C4
// together: the Normalizer/Queue already exist, so Start only has to build
// the Driver and Handler and start the Driver running.
func (s *Session) beginStart(start *StartMessage) *SessionError {
	id := start.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	if err := s.mgr.register(id, s); err != nil {
		return NewSessionError(CodeBadRequest, fmt.Sprintf("session id %q already in use", id), err)
	}
	atomic.StoreInt32(&s.registered, 1)

	s.ID = id
	// presentation_id defaults to the session id (spec.md §3); resolved here,
	// after id is finalized, rather than against the client's raw
	// (possibly-empty) session_id in ParseControlMessage.
	s.PresentationID = start.PresentationID
	if s.PresentationID == "" {
		s.PresentationID = id
	}
	s.LectureID = start.LectureID
	s.LanguageCode = start.LanguageCode
	s.Model = start.Model
	s.EnableInterim = start.EnableInterimResults
	s.CreatedAt = time.Now()
	s.touchAudio()

	s.driver = asr.NewDriver(s.client, asr.StreamConfig{
		LanguageCode:  s.LanguageCode,
		Model:         s.Model,
		EnableInterim: s.EnableInterim,
	}, s.queue, asr.WithMetrics(s.metrics))

	s.handler = result.NewHandler(s.ID, s.PresentationID, s.LectureID, s.EnableInterim, s.matcher, s.sk, s.metrics)
	go s.handler.Run(context.Background())

	return nil
}

// driverStopped translates the Driver's terminal StopReason into the right
// session-level outcome: a graceful close, an idle-timeout close, or a
// fatal provider failure.
func (s *Session) driverStopped() Summary {
	switch s.driver.StopReason() {
	case asr.StopRequested:
		return s.summary("closed")
	case asr.StopIdleTimeout:
		return s.summary("kIdleTimeout")
	case asr.StopProviderUnavailable:
		err := NewSessionError(CodeProviderUnavailable, "the ASR provider is unavailable", s.driver.Err())
		return s.fail(err)
	default:
		return s.summary("closed")
	}
}

func (s *Session) fail(e *SessionError) Summary {
	s.setState(StateFailed)
	s.mu.Lock()
	s.closeCode = e.closeCode()
	s.mu.Unlock()
	if e.fatal() {
		s.sendError(e)
	}
	return s.summaryWithCode("kInternal", e.Code)
}

func (s *Session) summary(status string) Summary {
	s.setState(StateClosed)
	return s.summaryWithCode(status, "")
}

func (s *Session) summaryWithCode(status string, code ErrorCode) Summary {
	if code != "" {
		status = string(code)
	}

	s.mu.Lock()
	lastAudioAt := s.lastAudioAt
	createdAt := s.CreatedAt
	s.mu.Unlock()

	sum := Summary{
		SessionID:      s.ID,
		PresentationID: s.PresentationID,
		CreatedAt:      createdAt,
		Status:         status,
	}
	if !createdAt.IsZero() {
		sum.Duration = time.Since(createdAt)
		sum.IdleAtClose = time.Since(lastAudioAt)
	}
	if s.driver != nil {
		sum.RenewalCount = s.driver.RenewalCount()
		sum.TotalChunksSent = s.driver.ChunksForwarded()
		sum.TotalBytesSent = s.driver.BytesForwarded()
	}

	s.metrics.RecordSessionClosed(context.Background(), status)
	s.enqueue(newSessionClosedPayload(sum))
	return sum
}

// sendClose writes the WebSocket close control frame carrying the close
// code spec.md §6/§7 mandates for this session's outcome (1000/1008/1011,
// set via fail's SessionError.closeCode(); 1000 otherwise), best-effort
// ahead of the bare TCP close Serve always does.
func (s *Session) sendClose() {
	s.mu.Lock()
	code := s.closeCode
	s.mu.Unlock()
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
}
