package asr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lecture-live/transcribe-core/internal/audio"
	"github.com/lecture-live/transcribe-core/internal/observe"
)

// SoftLimit, HardLimit and SilenceLimit are spec.md §6's
// EPOCH_SOFT_LIMIT/EPOCH_HARD_LIMIT/SILENCE_LIMIT defaults. Driver tests
// override them through WithLimits to keep renewal/idle scenarios fast.
const (
	SoftLimit    = 270 * time.Second
	HardLimit    = 300 * time.Second
	SilenceLimit = 60 * time.Second
)

// failureGraceWindow bounds how long a second consecutive provider failure
// must follow the first before the driver gives up (spec.md §4.3,
// "Provider failures").
const failureGraceWindow = 10 * time.Second

// StopReason distinguishes why a Driver's Run loop ended, mirroring the
// session-layer reasons a session transitions out of Active (spec.md §4.5).
type StopReason int

const (
	StopNone StopReason = iota
	StopRequested
	StopCancelled
	StopIdleTimeout
	StopProviderUnavailable
)

func (r StopReason) String() string {
	switch r {
	case StopRequested:
		return "requested"
	case StopCancelled:
		return "cancelled"
	case StopIdleTimeout:
		return "idle_timeout"
	case StopProviderUnavailable:
		return "provider_unavailable"
	default:
		return "none"
	}
}

// Driver owns the epoch lifecycle for one session: it pulls canonical frames
// off an audio.Queue, forwards them to the current provider stream, renews
// that stream once EPOCH_SOFT_LIMIT elapses, and retires the outgoing stream once
// it drains — all per spec.md §4.3.
type Driver struct {
	client ProviderClient
	cfg    StreamConfig
	queue  *audio.Queue

	softLimit    time.Duration
	hardLimit    time.Duration
	silenceLimit time.Duration

	mu           sync.Mutex
	current      *epoch
	renewalCount int
	lastAudioAt  time.Time
	stopReason   StopReason
	err          error

	firstCommitOnce sync.Once
	firstCommit     chan struct{}

	senderDone chan struct{}
	errCh      chan epochErr

	metrics *observe.Metrics

	// chunksForwarded/bytesForwarded accumulate across every epoch this
	// driver has owned (including ones already retired by a renewal), for
	// the session summary's total_chunks_sent/total_bytes_sent (spec.md §3).
	chunksForwarded int64
	bytesForwarded  int64
}

type epochErr struct {
	ep  *epoch
	err error
}

// Option configures a Driver at construction; used by tests to shrink the
// renewal/idle timers.
type Option func(*Driver)

// WithLimits overrides the soft/hard/silence limits. A zero value leaves the
// corresponding default untouched.
func WithLimits(soft, hard, silence time.Duration) Option {
	return func(d *Driver) {
		if soft > 0 {
			d.softLimit = soft
		}
		if hard > 0 {
			d.hardLimit = hard
		}
		if silence > 0 {
			d.silenceLimit = silence
		}
	}
}

// WithMetrics wires this driver's epoch lifecycle into m. A nil m (the
// default) disables recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// NewDriver builds a Driver bound to one session's queue and provider
// client. cfg is sent (as the provider's configuration handshake) on every
// epoch opened, including renewals.
func NewDriver(client ProviderClient, cfg StreamConfig, queue *audio.Queue, opts ...Option) *Driver {
	d := &Driver{
		client:       client,
		cfg:          cfg,
		queue:        queue,
		softLimit:    SoftLimit,
		hardLimit:    HardLimit,
		silenceLimit: SilenceLimit,
		firstCommit:  make(chan struct{}),
		senderDone:   make(chan struct{}),
		errCh:        make(chan epochErr, 4),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FirstCommit is closed once the first audio frame has been successfully
// forwarded to the provider — the signal the Session Manager waits on to
// move a session from Starting to Active (spec.md §4.5).
func (d *Driver) FirstCommit() <-chan struct{} {
	return d.firstCommit
}

// StopReason reports why Run returned. Valid only after the channel Run
// returned has been closed.
func (d *Driver) StopReason() StopReason {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopReason
}

// Err reports the terminal error, if any, associated with StopReason.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// RenewalCount reports how many times the current epoch has been swapped.
func (d *Driver) RenewalCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.renewalCount
}

// ChunksForwarded reports the total canonical frames successfully sent to
// the provider across every epoch this driver has owned.
func (d *Driver) ChunksForwarded() int64 {
	return atomic.LoadInt64(&d.chunksForwarded)
}

// BytesForwarded reports the total PCM bytes successfully sent to the
// provider across every epoch this driver has owned.
func (d *Driver) BytesForwarded() int64 {
	return atomic.LoadInt64(&d.bytesForwarded)
}

// Run drives the epoch lifecycle until ctx is cancelled, the queue closes
// (a requested stop, once drained), an idle timeout fires, or the provider
// fails twice within failureGraceWindow. It returns a channel of
// ProviderEvents that is closed when the driver stops.
func (d *Driver) Run(ctx context.Context) <-chan ProviderEvent {
	out := make(chan ProviderEvent, 32)
	go d.run(ctx, out)
	return out
}

func (d *Driver) run(ctx context.Context, out chan<- ProviderEvent) {
	defer close(out)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ep, err := d.openEpoch(runCtx, 0)
	if err != nil {
		d.finish(StopProviderUnavailable, fmt.Errorf("asr: open initial epoch: %w", err))
		return
	}
	d.setCurrent(ep)
	d.touchAudio()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.receiverLoop(ep, out)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.senderLoop(runCtx)
	}()

	softTimer := time.NewTimer(d.softLimit)
	defer softTimer.Stop()
	silenceTicker := time.NewTicker(time.Second)
	defer silenceTicker.Stop()

	var lastFailureAt time.Time
	failures := 0

	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			d.closeCurrent()
			d.finish(StopCancelled, ctx.Err())
			return

		case <-softTimer.C:
			newEp, rerr := d.renew(runCtx, out, "soft_limit")
			if rerr != nil {
				if d.registerFailure(&lastFailureAt, &failures) {
					d.closeCurrent()
					d.finish(StopProviderUnavailable, fmt.Errorf("asr: renewal failed: %w", rerr))
					return
				}
				softTimer.Reset(time.Second)
				continue
			}
			failures = 0
			softTimer.Reset(d.softLimit)
			_ = newEp

		case <-silenceTicker.C:
			if time.Since(d.audioAt()) > d.silenceLimit {
				d.closeCurrent()
				d.finish(StopIdleTimeout, nil)
				return
			}

		case fe := <-d.errCh:
			if !d.isCurrent(fe.ep) {
				// A draining epoch's receiver failed after handoff; the
				// replacement is already live, so this is not fatal.
				continue
			}
			// The transport error itself is the first failure; a failed
			// renewal right after it is the second.
			if d.registerFailure(&lastFailureAt, &failures) {
				d.closeCurrent()
				d.finish(StopProviderUnavailable, fmt.Errorf("asr: provider failure: %w", fe.err))
				return
			}
			newEp, rerr := d.renew(runCtx, out, "provider_failure")
			if rerr != nil {
				if d.registerFailure(&lastFailureAt, &failures) {
					d.closeCurrent()
					d.finish(StopProviderUnavailable, fmt.Errorf("asr: provider failure: %w", fe.err))
					return
				}
				softTimer.Reset(time.Second)
				continue
			}
			failures = 0
			softTimer.Reset(d.softLimit)
			_ = newEp

		case <-d.queueClosed():
			// queue.Pop returned ok=false with no pending ctx cancellation:
			// the session requested a graceful stop, and the sender loop has
			// already exited. Drain the current epoch to EventEnded.
			d.closeCurrent()
			d.finish(StopRequested, nil)
			return
		}
	}
}

// registerFailure records a provider failure and reports whether a second
// one has now occurred within failureGraceWindow of the first.
func (d *Driver) registerFailure(last *time.Time, count *int) bool {
	now := time.Now()
	if *count == 0 || now.Sub(*last) > failureGraceWindow {
		*count = 1
		*last = now
		return false
	}
	*count++
	return *count >= 2
}

// queueClosed reports a channel that is readable once the driver's queue
// has been closed and fully drained by the sender loop. senderLoop closes
// it when audio.Queue.Pop reports ok=false.
func (d *Driver) queueClosed() <-chan struct{} {
	return d.senderDone
}

// senderLoop is the single long-lived consumer of the session's audio
// queue. It always forwards to whichever epoch is current at Send time,
// which is what keeps invariant I1 (exactly one epoch accepts writes) true
// across a renewal: the swap in renew() happens strictly between two Pop
// calls here.
func (d *Driver) senderLoop(ctx context.Context) {
	defer close(d.senderDone)
	for {
		f, ok := d.queue.Pop(ctx)
		if !ok {
			return
		}

		ep := d.getCurrent()
		if ep == nil {
			return
		}
		if err := ep.stream.Send(ctx, f.Bytes); err != nil {
			select {
			case d.errCh <- epochErr{ep: ep, err: err}:
			default:
			}
			continue
		}

		atomic.AddInt64(&d.chunksForwarded, 1)
		atomic.AddInt64(&d.bytesForwarded, int64(len(f.Bytes)))
		d.touchAudio()
		d.firstCommitOnce.Do(func() { close(d.firstCommit) })
	}
}

// receiverLoop reads one epoch's events until it sees EventEnded or
// EventError, forwarding transcript events downstream and tagging each with
// the epoch index so the Result Handler (C4) can deduplicate finals
// resent across a renewal boundary.
func (d *Driver) receiverLoop(ep *epoch, out chan<- ProviderEvent) {
	defer close(ep.done)
	for {
		ev := ep.stream.Recv()
		switch ev.Kind {
		case EventEnded:
			d.retireEpoch(ep)
			return
		case EventError:
			d.retireEpoch(ep)
			select {
			case d.errCh <- epochErr{ep: ep, err: ev.Err}:
			default:
			}
			return
		default:
			ev.EpochIndex = ep.index
			select {
			case out <- ev:
			default:
				// Downstream (Result Handler) must keep up; a full buffer
				// here means the session is already failing elsewhere and
				// this event can be dropped without violating an invariant
				// that a healthy session would ever hit.
			}
		}
	}
}

// openEpoch opens a new provider stream and wraps it as an epoch.
func (d *Driver) openEpoch(ctx context.Context, index int) (*epoch, error) {
	stream, err := d.client.OpenStream(ctx, d.cfg)
	if err != nil {
		return nil, err
	}
	d.metrics.IncActiveEpoch(ctx)
	return newEpoch(index, stream), nil
}

// renew opens a new epoch, starts its receiver, and atomically swaps it in
// as current — the soft-limit renewal protocol of spec.md §4.3. The old
// epoch is transitioned to Draining and half-closed; its receiver keeps
// running until it observes EventEnded. trigger identifies why the renewal
// happened ("soft_limit" or "provider_failure") for the EpochRenewals metric.
func (d *Driver) renew(ctx context.Context, out chan<- ProviderEvent, trigger string) (*epoch, error) {
	old := d.getCurrent()

	next, err := d.openEpoch(ctx, old.index+1)
	if err != nil {
		return nil, err
	}

	go d.receiverLoop(next, out)

	d.setCurrent(next)

	d.mu.Lock()
	old.state = StateDraining
	d.renewalCount++
	d.mu.Unlock()
	_ = old.stream.CloseSend()

	d.metrics.RecordRenewal(ctx, trigger)

	return next, nil
}

// retireEpoch marks an epoch Closed once its receiver has observed
// end-of-stream.
func (d *Driver) retireEpoch(ep *epoch) {
	d.mu.Lock()
	if ep.state != StateFailed {
		ep.state = StateClosed
	}
	ep.stoppedAt = time.Now()
	d.mu.Unlock()
	d.metrics.DecActiveEpoch(context.Background())
}

// closeCurrent half-closes whichever epoch is current, used on a
// driver-initiated stop (cancellation, idle timeout, requested stop) to let
// its receiver drain to EventEnded instead of being abandoned mid-stream.
func (d *Driver) closeCurrent() {
	ep := d.getCurrent()
	if ep == nil {
		return
	}
	_ = ep.stream.CloseSend()
	select {
	case <-ep.done:
	case <-time.After(2 * time.Second):
	}
}

func (d *Driver) setCurrent(ep *epoch) {
	d.mu.Lock()
	d.current = ep
	d.mu.Unlock()
}

func (d *Driver) getCurrent() *epoch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *Driver) isCurrent(ep *epoch) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current == ep
}

func (d *Driver) touchAudio() {
	d.mu.Lock()
	d.lastAudioAt = time.Now()
	d.mu.Unlock()
}

func (d *Driver) audioAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastAudioAt
}

func (d *Driver) finish(reason StopReason, err error) {
	d.mu.Lock()
	d.stopReason = reason
	d.err = err
	d.mu.Unlock()
}
