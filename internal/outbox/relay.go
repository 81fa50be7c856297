package outbox

import (
	"context"
	"expvar"
	"log"
	"sync/atomic"
	"time"

	"qms/turno-service/internal/store"
)

var publishedTotal = expvar.NewInt("outbox_published_total")

// Source hands out unpublished events in commit order and marks the ones
// publish accepted.
type Source interface {
	PublishOutbox(ctx context.Context, limit int, publish func(context.Context, store.OutboxEvent) error) (int, error)
}

// Sink must accept an event before it counts as published.
type Sink interface {
	Publish(ctx context.Context, event store.OutboxEvent) error
}

// Notifier receives events on a best-effort basis.
type Notifier interface {
	Publish(event store.OutboxEvent) error
}

type Config struct {
	BatchSize int
	Timeout   time.Duration
}

type Relay struct {
	source    Source
	sink      Sink
	notifiers []Notifier
	batchSize int
	timeout   time.Duration
	running   int32
}

// New builds a relay. sink may be nil when no broker is configured; events
// then only reach notifiers.
func New(source Source, sink Sink, cfg Config, notifiers ...Notifier) *Relay {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Relay{
		source:    source,
		sink:      sink,
		notifiers: notifiers,
		batchSize: batch,
		timeout:   timeout,
	}
}

// Run relays one batch. A sink failure stops the batch so later events are
// never delivered ahead of earlier ones.
func (r *Relay) Run(ctx context.Context) (int, error) {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return 0, nil
	}
	defer atomic.StoreInt32(&r.running, 0)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	published, err := r.source.PublishOutbox(ctx, r.batchSize, r.publish)
	publishedTotal.Add(int64(published))
	return published, err
}

func (r *Relay) publish(ctx context.Context, event store.OutboxEvent) error {
	if r.sink != nil {
		if err := r.sink.Publish(ctx, event); err != nil {
			return err
		}
	}
	for _, notifier := range r.notifiers {
		if err := notifier.Publish(event); err != nil {
			log.Printf("outbox notify error event=%s type=%s err=%v", event.EventID, event.Type, err)
		}
	}
	return nil
}

func Start(ctx context.Context, interval time.Duration, r *Relay) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				log.Printf("outbox relay error: %v", err)
			}
		}
	}
}
