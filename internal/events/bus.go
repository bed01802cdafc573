// Package events delivers StatementImportConfirmedEvent to downstream
// consumers.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/importer"
)

// Handler consumes one confirmation event. A returned error schedules a
// redelivery, so handlers must tolerate seeing the same event again.
type Handler func(ctx context.Context, ev domain.StatementImportConfirmedEvent) error

type subscription struct {
	name    string
	handler Handler
}

type delivery struct {
	event   domain.StatementImportConfirmedEvent
	sub     *subscription
	attempt int
}

// BusConfig tunes the bus.
type BusConfig struct {
	BufferSize int
	Workers    int
	MaxRetries int
	Backoff    time.Duration
}

// Bus is an in-process publisher. Publish enqueues one delivery per
// subscriber; workers run the handlers and redeliver failures with a
// linear backoff. It is meant for single-instance deployments.
type Bus struct {
	cfg        BusConfig
	log        zerolog.Logger
	deliveries chan delivery
	closeChan  chan struct{}
	wg         sync.WaitGroup

	mu     sync.RWMutex
	subs   []*subscription
	closed bool
}

var _ importer.EventPublisher = (*Bus)(nil)

// NewBus creates a bus. Zero config values get defaults.
func NewBus(cfg BusConfig, log zerolog.Logger) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Bus{
		cfg:        cfg,
		log:        log,
		deliveries: make(chan delivery, cfg.BufferSize),
		closeChan:  make(chan struct{}),
	}
}

// Subscribe registers a named handler for every later Publish.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, &subscription{name: name, handler: h})
}

// Publish implements importer.EventPublisher. It returns once every
// subscriber's delivery is queued.
func (b *Bus) Publish(ctx context.Context, ev domain.StatementImportConfirmedEvent) error {
	b.mu.RLock()
	closed := b.closed
	subs := append([]*subscription(nil), b.subs...)
	b.mu.RUnlock()

	if closed {
		return fmt.Errorf("event bus is closed")
	}
	for _, sub := range subs {
		if err := b.enqueue(ctx, delivery{event: ev, sub: sub, attempt: 1}); err != nil {
			return fmt.Errorf("queue delivery to %s: %w", sub.name, err)
		}
	}
	return nil
}

func (b *Bus) enqueue(ctx context.Context, d delivery) error {
	select {
	case b.deliveries <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closeChan:
		return fmt.Errorf("event bus is closed")
	}
}

// Start launches the workers. They run until ctx is done or Stop is called.
func (b *Bus) Start(ctx context.Context) {
	for i := 0; i < b.cfg.Workers; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}
}

func (b *Bus) worker(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.closeChan:
			return
		case d := <-b.deliveries:
			b.deliver(ctx, d)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, d delivery) {
	log := b.log.With().
		Str("subscriber", d.sub.name).
		Str("upload_id", d.event.StatementUploadID).
		Int("attempt", d.attempt).
		Logger()

	err := d.sub.handler(ctx, d.event)
	if err == nil {
		log.Debug().Msg("Event delivered")
		return
	}

	if d.attempt > b.cfg.MaxRetries {
		log.Error().Err(err).Msg("Event delivery abandoned")
		return
	}

	log.Warn().Err(err).Msg("Event delivery failed, retrying")
	next := d
	next.attempt++
	time.AfterFunc(time.Duration(d.attempt)*b.cfg.Backoff, func() {
		if b.isClosed() {
			return
		}
		if err := b.enqueue(ctx, next); err != nil {
			log.Error().Err(err).Msg("Event redelivery dropped")
		}
	})
}

func (b *Bus) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Stop closes the bus and waits for in-flight handlers.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeChan)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Idempotent wraps h so that each statement upload is handled at most once
// successfully. Failed attempts release the key for redelivery.
func Idempotent(h Handler) Handler {
	var mu sync.Mutex
	claimed := make(map[string]bool)

	return func(ctx context.Context, ev domain.StatementImportConfirmedEvent) error {
		key := ev.IdempotencyKey()

		mu.Lock()
		if claimed[key] {
			mu.Unlock()
			return nil
		}
		claimed[key] = true
		mu.Unlock()

		if err := h(ctx, ev); err != nil {
			mu.Lock()
			delete(claimed, key)
			mu.Unlock()
			return err
		}
		return nil
	}
}
