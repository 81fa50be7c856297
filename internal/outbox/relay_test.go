package outbox

import (
	"context"
	"errors"
	"testing"

	"qms/turno-service/internal/store"
)

type fakeSource struct {
	events []store.OutboxEvent
	marked []string
}

func (f *fakeSource) PublishOutbox(ctx context.Context, limit int, publish func(context.Context, store.OutboxEvent) error) (int, error) {
	count := 0
	for _, event := range f.events {
		if count == limit {
			break
		}
		if err := publish(ctx, event); err != nil {
			return count, err
		}
		f.marked = append(f.marked, event.EventID)
		count++
	}
	return count, nil
}

type fakeSink struct {
	failOn string
	seen   []string
}

func (f *fakeSink) Publish(ctx context.Context, event store.OutboxEvent) error {
	if event.EventID == f.failOn {
		return errors.New("broker down")
	}
	f.seen = append(f.seen, event.EventID)
	return nil
}

type fakeNotifier struct {
	seen []string
	err  error
}

func (f *fakeNotifier) Publish(event store.OutboxEvent) error {
	f.seen = append(f.seen, event.EventID)
	return f.err
}

func events(ids ...string) []store.OutboxEvent {
	out := make([]store.OutboxEvent, 0, len(ids))
	for _, id := range ids {
		out = append(out, store.OutboxEvent{EventID: id, Type: "ticket.created"})
	}
	return out
}

func TestRunStopsAtSinkFailure(t *testing.T) {
	source := &fakeSource{events: events("a", "b", "c")}
	sink := &fakeSink{failOn: "b"}
	notifier := &fakeNotifier{}
	relay := New(source, sink, Config{}, notifier)

	published, err := relay.Run(context.Background())
	if err == nil {
		t.Fatalf("expected sink error")
	}
	if published != 1 || len(source.marked) != 1 || source.marked[0] != "a" {
		t.Fatalf("expected only the first event published, got %d %v", published, source.marked)
	}
	if len(notifier.seen) != 1 {
		t.Fatalf("notifier should only see delivered events, got %v", notifier.seen)
	}
}

func TestRunWithoutSinkNotifies(t *testing.T) {
	source := &fakeSource{events: events("a", "b")}
	notifier := &fakeNotifier{err: errors.New("no listeners")}
	relay := New(source, nil, Config{BatchSize: 10}, notifier)

	published, err := relay.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if published != 2 || len(notifier.seen) != 2 {
		t.Fatalf("expected both events relayed, got %d %v", published, notifier.seen)
	}
}

func TestRunRespectsBatchSize(t *testing.T) {
	source := &fakeSource{events: events("a", "b", "c")}
	relay := New(source, &fakeSink{}, Config{BatchSize: 2})

	published, err := relay.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if published != 2 {
		t.Fatalf("expected batch of 2, got %d", published)
	}
}

func TestRunSkipsWhileRunning(t *testing.T) {
	source := &fakeSource{events: events("a")}
	relay := New(source, nil, Config{})
	relay.running = 1

	published, err := relay.Run(context.Background())
	if err != nil || published != 0 || len(source.marked) != 0 {
		t.Fatalf("expected overlapping run to be skipped, got %d %v", published, err)
	}
}
