package result

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/lecture-live/transcribe-core/internal/asr"
	"github.com/lecture-live/transcribe-core/internal/observe"
	"github.com/lecture-live/transcribe-core/internal/sink"
	"github.com/lecture-live/transcribe-core/internal/slidematch"
)

// sinkQueueCapacity bounds the Handler's internal publish queue; a full
// queue means the sink is falling behind, and spec.md §4.4 makes the Sink
// strictly best-effort, so the Handler drops rather than blocks the
// receiver loop.
const sinkQueueCapacity = 32

// Handler classifies raw ASR provider events into Transcription Results
// for one session, applies interim rate limiting and final deduplication,
// optionally enriches finals with a Slide Match, and forwards finals to the
// Sink. One Handler is owned by exactly one session.
type Handler struct {
	sessionID      string
	presentationID string
	lectureID      int64
	enableInterim  bool

	matcher slidematch.Matcher // nil disables slide matching for this session
	sk      sink.Sink          // nil disables the Sink for this session
	sinkCh  chan sink.Record

	metrics *observe.Metrics

	mu              sync.Mutex
	lastInterimText string
	lastInterimAt   time.Time
	dedup           *dedupTracker
}

// NewHandler builds a Handler for one session. enableInterim mirrors the
// client's `enable_interim_results` start field (spec.md §6): when false,
// interim events are suppressed entirely rather than merely rate-limited —
// enforced here rather than at the provider, since not every ProviderClient
// (e.g. AWS Transcribe Streaming) exposes a way to suppress partials
// upstream. matcher and sk may be nil to disable slide matching / sink
// publication respectively. metrics may be nil to disable recording.
func NewHandler(sessionID, presentationID string, lectureID int64, enableInterim bool, matcher slidematch.Matcher, sk sink.Sink, metrics *observe.Metrics) *Handler {
	h := &Handler{
		sessionID:      sessionID,
		presentationID: presentationID,
		lectureID:      lectureID,
		enableInterim:  enableInterim,
		matcher:        matcher,
		sk:             sk,
		metrics:        metrics,
		dedup:          newDedupTracker(),
	}
	if sk != nil {
		h.sinkCh = make(chan sink.Record, sinkQueueCapacity)
	}
	return h
}

// Run starts the background sink-publishing worker and blocks until ctx is
// cancelled. Callers with a nil Sink may skip calling Run entirely.
func (h *Handler) Run(ctx context.Context) {
	if h.sinkCh == nil {
		return
	}
	for {
		select {
		case rec := <-h.sinkCh:
			outcome := sink.PublishWithRetry(ctx, h.sk, rec)
			h.metrics.RecordSinkPublish(ctx, outcome)
		case <-ctx.Done():
			return
		}
	}
}

// Handle classifies one provider event. It returns the Result to publish
// to the client and ok=true, or ok=false if the event should be suppressed:
// a non-transcript event, a rate-limited interim, or a duplicate final
// resent across an epoch-renewal boundary.
func (h *Handler) Handle(ctx context.Context, ev asr.ProviderEvent) (Result, bool) {
	switch ev.Kind {
	case asr.EventInterim, asr.EventFinal:
	default:
		return Result{}, false
	}

	if ev.Kind == asr.EventFinal && h.dedup.isDuplicate(ev) {
		return Result{}, false
	}

	res := Result{
		SessionID:      h.sessionID,
		PresentationID: h.presentationID,
		Text:           ev.Text,
		IsFinal:        ev.Kind == asr.EventFinal,
		Confidence:     ev.Confidence,
		Timestamp:      ev.Timestamp,
	}

	if !res.IsFinal {
		if !h.enableInterim || !h.admitInterim(res.Text) {
			return Result{}, false
		}
		return res, true
	}

	h.clearInterimState()

	if h.matcher != nil {
		res.Slide = h.matchSlide(ctx, res.Text)
	}

	h.enqueueSink(res)
	return res, true
}

// admitInterim applies spec.md §4.4's interim rate limit: publish only if
// the text changed by more than InterimEditDistanceThreshold or at least
// InterimMinInterval elapsed since the last published interim.
func (h *Handler) admitInterim(text string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if h.lastInterimAt.IsZero() {
		h.lastInterimText, h.lastInterimAt = text, now
		return true
	}

	dist := matchr.Levenshtein(h.lastInterimText, text)
	if dist > InterimEditDistanceThreshold || now.Sub(h.lastInterimAt) >= InterimMinInterval {
		h.lastInterimText, h.lastInterimAt = text, now
		return true
	}
	return false
}

// clearInterimState resets the interim view once a final supersedes it.
func (h *Handler) clearInterimState() {
	h.mu.Lock()
	h.lastInterimText = ""
	h.lastInterimAt = time.Time{}
	h.mu.Unlock()
}

// matchSlide runs the slide matcher under SLIDE_MATCH_DEADLINE. A timeout
// or matcher error yields an unannotated final plus a logged warning,
// never a session failure.
func (h *Handler) matchSlide(ctx context.Context, text string) *Slide {
	mctx, cancel := context.WithTimeout(ctx, SlideMatchDeadline)
	defer cancel()

	start := time.Now()
	m, err := h.matcher.Match(mctx, text)
	h.metrics.RecordSlideMatchDuration(ctx, time.Since(start).Seconds())
	if err != nil {
		slog.Warn("slidematch: match failed or timed out, publishing unannotated final",
			slog.String("session_id", h.sessionID), slog.String("error", err.Error()))
		return nil
	}
	if m == nil || m.Score < SlideMatchMinScore {
		return nil
	}
	return &Slide{
		SlideID:         m.SlidePage,
		Score:           m.Score,
		Confidence:      m.Confidence,
		MatchedKeywords: m.MatchedKeywords,
	}
}

func (h *Handler) enqueueSink(res Result) {
	if h.sinkCh == nil {
		return
	}
	rec := sinkRecordFor(h.lectureID, res)
	select {
	case h.sinkCh <- rec:
	default:
		slog.Warn("sink: publish queue full, dropping final", slog.String("session_id", h.sessionID))
	}
}

func sinkRecordFor(lectureID int64, res Result) sink.Record {
	rec := sink.Record{
		LectureID:      lectureID,
		SessionID:      res.SessionID,
		PresentationID: res.PresentationID,
		Text:           res.Text,
		Confidence:     res.Confidence,
		Timestamp:      res.Timestamp.UnixMilli(),
		IsFinal:        res.IsFinal,
	}
	if res.Slide != nil {
		slideID := res.Slide.SlideID
		score := res.Slide.Score
		conf := res.Slide.Confidence
		rec.SlideNumber = &slideID
		rec.SlideScore = &score
		rec.SlideConfidence = &conf
		rec.MatchedKeywords = res.Slide.MatchedKeywords
	}
	return rec
}
