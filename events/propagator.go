// Package events fans finished-match and finished-stage events out to
// downstream handlers with exactly-once delivery per idempotency key.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Dosada05/format-engine/models"
)

// Handler consumes propagated events. Implementations must be idempotent
// per key; the propagator additionally deduplicates keys it has already
// delivered to a handler within its lifetime.
type Handler interface {
	Name() string
	HandleMatchCompleted(ctx context.Context, event models.MatchCompletedEvent) error
	HandleStageCompleted(ctx context.Context, event models.StageCompletedEvent) error
}

type eventKind int

const (
	kindMatch eventKind = iota
	kindStage
)

type envelope struct {
	kind  eventKind
	key   string
	match models.MatchCompletedEvent
	stage models.StageCompletedEvent
}

type Propagator struct {
	handlers []Handler
	queue    chan envelope
	logger   *slog.Logger

	maxAttempts int
	baseBackoff time.Duration

	mu        sync.Mutex
	delivered map[string]map[string]bool // handler name -> key -> done
	wg        sync.WaitGroup
}

func NewPropagator(logger *slog.Logger, handlers ...Handler) *Propagator {
	return &Propagator{
		handlers:    handlers,
		queue:       make(chan envelope, 256),
		logger:      logger,
		maxAttempts: 5,
		baseBackoff: 200 * time.Millisecond,
		delivered:   make(map[string]map[string]bool),
	}
}

// PublishMatchCompleted enqueues a finished-match event. The idempotency key
// carries the finalize sequence, so a re-finalized match never produces a
// second delivery under the same key.
func (p *Propagator) PublishMatchCompleted(event models.MatchCompletedEvent) {
	p.queue <- envelope{
		kind:  kindMatch,
		key:   event.IdempotencyKey,
		match: event,
	}
}

func (p *Propagator) PublishStageCompleted(event models.StageCompletedEvent) {
	p.queue <- envelope{
		kind:  kindStage,
		key:   event.IdempotencyKey,
		stage: event,
	}
}

// Run drains the queue until ctx is cancelled, then finishes in-flight
// deliveries. Call from a dedicated goroutine.
func (p *Propagator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case env := <-p.queue:
			p.wg.Add(1)
			go func(env envelope) {
				defer p.wg.Done()
				p.dispatch(ctx, env)
			}(env)
		}
	}
}

func (p *Propagator) dispatch(ctx context.Context, env envelope) {
	for _, h := range p.handlers {
		if p.markDelivered(h.Name(), env.key) {
			continue
		}
		if err := p.deliverWithRetry(ctx, h, env); err != nil {
			p.logger.Error("event delivery abandoned",
				slog.String("handler", h.Name()),
				slog.String("key", env.key),
				slog.String("error", err.Error()))
			p.unmarkDelivered(h.Name(), env.key)
		}
	}
}

func (p *Propagator) deliverWithRetry(ctx context.Context, h Handler, env envelope) error {
	var err error
	backoff := p.baseBackoff
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		switch env.kind {
		case kindMatch:
			err = h.HandleMatchCompleted(ctx, env.match)
		case kindStage:
			err = h.HandleStageCompleted(ctx, env.stage)
		}
		if err == nil {
			return nil
		}
		if attempt == p.maxAttempts {
			break
		}
		p.logger.Warn("event delivery failed, retrying",
			slog.String("handler", h.Name()),
			slog.String("key", env.key),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// markDelivered records the key for the handler; returns true when it was
// already delivered (the duplicate must be skipped).
func (p *Propagator) markDelivered(handler, key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys, ok := p.delivered[handler]
	if !ok {
		keys = make(map[string]bool)
		p.delivered[handler] = keys
	}
	if keys[key] {
		return true
	}
	keys[key] = true
	return false
}

func (p *Propagator) unmarkDelivered(handler, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if keys, ok := p.delivered[handler]; ok {
		delete(keys, key)
	}
}
