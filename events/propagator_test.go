package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/format-engine/models"
)

type recordingHandler struct {
	name string

	mu       sync.Mutex
	failures int
	attempts int
	byKey    map[string]int
	done     chan string

	// seen is touched only from the test goroutine, by awaitDelivery.
	seen map[string]bool
}

func newRecordingHandler(name string, failures int) *recordingHandler {
	return &recordingHandler{
		name:     name,
		failures: failures,
		byKey:    make(map[string]int),
		done:     make(chan string, 16),
	}
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) handle(key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts++
	if h.failures > 0 {
		h.failures--
		return errors.New("transient failure")
	}
	h.byKey[key]++
	h.done <- key
	return nil
}

func (h *recordingHandler) HandleMatchCompleted(_ context.Context, event models.MatchCompletedEvent) error {
	return h.handle(event.IdempotencyKey)
}

func (h *recordingHandler) HandleStageCompleted(_ context.Context, event models.StageCompletedEvent) error {
	return h.handle(event.IdempotencyKey)
}

func (h *recordingHandler) deliveries(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byKey[key]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// awaitDelivery blocks until the handler has completed the given key.
// Keys drained while waiting are kept, so out-of-order concurrent
// deliveries satisfy a later await.
func awaitDelivery(t *testing.T, h *recordingHandler, key string) {
	t.Helper()
	if h.seen == nil {
		h.seen = make(map[string]bool)
	}
	if h.seen[key] {
		return
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-h.done:
			h.seen[got] = true
			if got == key {
				return
			}
		case <-deadline:
			t.Fatalf("handler %s never received key %s", h.name, key)
		}
	}
}

func matchEvent(matchID, seq int) models.MatchCompletedEvent {
	return models.MatchCompletedEvent{
		IdempotencyKey: models.MatchEventKey(matchID, seq),
		MatchID:        matchID,
		WinnerID:       1,
		CompletedAt:    time.Now(),
	}
}

func TestPropagatorDeliversEachKeyOnce(t *testing.T) {
	h := newRecordingHandler("counter", 0)
	p := NewPropagator(testLogger(), h)
	p.baseBackoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	event := matchEvent(7, 1)
	p.PublishMatchCompleted(event)
	p.PublishMatchCompleted(event)
	p.PublishMatchCompleted(event)

	awaitDelivery(t, h, event.IdempotencyKey)
	time.Sleep(50 * time.Millisecond)

	if got := h.deliveries(event.IdempotencyKey); got != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", got)
	}
}

func TestPropagatorDistinctFinalizeGenerations(t *testing.T) {
	h := newRecordingHandler("counter", 0)
	p := NewPropagator(testLogger(), h)
	p.baseBackoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// The same match finalized twice (rematch path) carries a new sequence
	// and therefore a new key.
	first := matchEvent(7, 1)
	second := matchEvent(7, 2)
	p.PublishMatchCompleted(first)
	p.PublishMatchCompleted(second)

	awaitDelivery(t, h, first.IdempotencyKey)
	awaitDelivery(t, h, second.IdempotencyKey)

	if h.deliveries(first.IdempotencyKey) != 1 || h.deliveries(second.IdempotencyKey) != 1 {
		t.Fatal("each finalize generation should be delivered exactly once")
	}
}

func TestPropagatorRetriesTransientFailures(t *testing.T) {
	h := newRecordingHandler("flaky", 2)
	p := NewPropagator(testLogger(), h)
	p.baseBackoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	event := matchEvent(3, 1)
	p.PublishMatchCompleted(event)

	awaitDelivery(t, h, event.IdempotencyKey)

	h.mu.Lock()
	attempts := h.attempts
	h.mu.Unlock()
	if attempts != 3 {
		t.Fatalf("expected 3 attempts (2 failures then success), got %d", attempts)
	}
	if got := h.deliveries(event.IdempotencyKey); got != 1 {
		t.Fatalf("expected 1 delivery after retries, got %d", got)
	}
}

func TestPropagatorAbandonedKeyCanRedeliver(t *testing.T) {
	h := newRecordingHandler("broken", 5) // fails the full retry budget once
	p := NewPropagator(testLogger(), h)
	p.baseBackoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	event := matchEvent(9, 1)
	p.PublishMatchCompleted(event)

	// Wait out the abandoned attempt, then republish; the key must not stay
	// marked delivered after abandonment.
	time.Sleep(200 * time.Millisecond)
	p.PublishMatchCompleted(event)

	awaitDelivery(t, h, event.IdempotencyKey)
	if got := h.deliveries(event.IdempotencyKey); got != 1 {
		t.Fatalf("expected 1 successful delivery, got %d", got)
	}
}

func TestPropagatorStageEvents(t *testing.T) {
	h := newRecordingHandler("counter", 0)
	p := NewPropagator(testLogger(), h)
	p.baseBackoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	event := models.StageCompletedEvent{
		IdempotencyKey: models.StageEventKey(4),
		StageID:        4,
		CompletedAt:    time.Now(),
	}
	p.PublishStageCompleted(event)
	p.PublishStageCompleted(event)

	awaitDelivery(t, h, event.IdempotencyKey)
	time.Sleep(50 * time.Millisecond)

	if got := h.deliveries(event.IdempotencyKey); got != 1 {
		t.Fatalf("expected exactly 1 stage delivery, got %d", got)
	}
}
