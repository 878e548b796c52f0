package audio

import (
	"context"
	"testing"
	"time"
)

func TestQueue_PushPopFIFO(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := q.Push(ctx, Frame{Seq: uint64(i)}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		f, ok := q.Pop(ctx)
		if !ok {
			t.Fatalf("Pop: queue closed unexpectedly")
		}
		if f.Seq != uint64(i) {
			t.Fatalf("expected seq %d, got %d", i, f.Seq)
		}
	}
}

func TestQueue_BackpressureTimesOut(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	for i := 0; i < QueueCapacity; i++ {
		if err := q.Push(ctx, Frame{}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	start := time.Now()
	err := q.Push(ctx, Frame{})
	elapsed := time.Since(start)

	if err != ErrBackpressure {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
	if elapsed < ProducerBlockTimeout {
		t.Fatalf("expected to wait at least %v, waited %v", ProducerBlockTimeout, elapsed)
	}
}

func TestQueue_DrainReturnsAllBuffered(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := q.Push(ctx, Frame{Seq: uint64(i)}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	drained := q.Drain()
	if len(drained) != 10 {
		t.Fatalf("expected 10 drained frames, got %d", len(drained))
	}
	if more := q.Drain(); len(more) != 0 {
		t.Fatalf("expected empty queue after drain, got %d more", len(more))
	}
}

func TestQueue_CloseUnblocksProducerAndConsumer(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := q.Pop(ctx)
		if ok {
			panic("expected Pop to observe closed queue")
		}
	}()

	q.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Close")
	}

	if err := q.Push(ctx, Frame{}); err != ErrQueueClosed && err != nil {
		// Push may still succeed once if buffer has room before close is
		// observed by the select; only a returned error must be ErrQueueClosed.
		t.Fatalf("expected ErrQueueClosed or nil, got %v", err)
	}
}
