package worker

import (
	"context"
	"errors"
	"testing"
)

type fakeMovements struct {
	batches []int
	err     error
	calls   int
}

func (f *fakeMovements) RetryPendingMovements(ctx context.Context, limit int) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.calls >= len(f.batches) {
		return 0, nil
	}
	processed := f.batches[f.calls]
	f.calls++
	return processed, nil
}

func TestRunDrainsFullBatches(t *testing.T) {
	store := &fakeMovements{batches: []int{2, 2, 1}}
	w := NewStockWorker(store, Config{BatchSize: 2})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if store.calls != 3 {
		t.Fatalf("expected 3 batches, got %d", store.calls)
	}
}

func TestRunReturnsStoreError(t *testing.T) {
	w := NewStockWorker(&fakeMovements{err: errors.New("db down")}, Config{})
	if err := w.Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	store := &fakeMovements{batches: []int{2, 2, 2, 2}}
	w := NewStockWorker(store, Config{BatchSize: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancelled, got %v", err)
	}
	if store.calls != 1 {
		t.Fatalf("expected a single batch before stopping, got %d", store.calls)
	}
}

// pendingMovements claims the oldest pending movements like the Postgres
// store. Lines in failing never apply and fail once maxAttempts is reached.
type pendingMovements struct {
	order       []int64
	attempts    map[int64]int
	failing     map[int64]bool
	settled     map[int64]bool
	maxAttempts int
	calls       int
}

func newPendingMovements(total int, maxAttempts int, failing func(id int64) bool) *pendingMovements {
	p := &pendingMovements{
		attempts:    map[int64]int{},
		failing:     map[int64]bool{},
		settled:     map[int64]bool{},
		maxAttempts: maxAttempts,
	}
	for id := int64(1); id <= int64(total); id++ {
		p.order = append(p.order, id)
		p.failing[id] = failing(id)
	}
	return p
}

func (p *pendingMovements) RetryPendingMovements(ctx context.Context, limit int) (int, error) {
	p.calls++
	var claimed []int64
	for _, id := range p.order {
		if len(claimed) == limit {
			break
		}
		if !p.settled[id] {
			claimed = append(claimed, id)
		}
	}
	settled := 0
	var stillPending []int64
	for _, id := range claimed {
		p.attempts[id]++
		if !p.failing[id] || p.attempts[id] >= p.maxAttempts {
			p.settled[id] = true
			settled++
			continue
		}
		stillPending = append(stillPending, id)
	}
	// Retried lines move to the back, as updated_at does in the store.
	var next []int64
	for _, id := range p.order {
		if !p.settled[id] && !contains(stillPending, id) {
			next = append(next, id)
		}
	}
	p.order = append(next, stillPending...)
	return settled, nil
}

func contains(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func TestRunSpendsOneAttemptPerTickOnTransientFailures(t *testing.T) {
	store := newPendingMovements(60, 5, func(id int64) bool { return true })
	w := NewStockWorker(store, Config{BatchSize: 50})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if store.calls != 1 {
		t.Fatalf("expected a single batch, got %d", store.calls)
	}
	for id, attempts := range store.attempts {
		if attempts > 1 {
			t.Fatalf("movement %d attempted %d times in one tick", id, attempts)
		}
	}
	if len(store.settled) != 0 {
		t.Fatalf("expected nothing settled, got %d", len(store.settled))
	}
}

func TestRunReachesMaxAttemptsOnlyAcrossTicks(t *testing.T) {
	store := newPendingMovements(3, 3, func(id int64) bool { return true })
	w := NewStockWorker(store, Config{BatchSize: 5})

	for tick := 1; tick <= 2; tick++ {
		if err := w.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", tick, err)
		}
		if len(store.settled) != 0 {
			t.Fatalf("tick %d: movements failed early", tick)
		}
	}
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run 3: %v", err)
	}
	if len(store.settled) != 3 {
		t.Fatalf("expected all movements failed after 3 ticks, got %d", len(store.settled))
	}
}

func TestRunKeepsDrainingWhileBatchesSettle(t *testing.T) {
	store := newPendingMovements(5, 5, func(id int64) bool { return false })
	w := NewStockWorker(store, Config{BatchSize: 2})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(store.settled) != 5 {
		t.Fatalf("expected every movement applied, got %d", len(store.settled))
	}
	if store.calls != 3 {
		t.Fatalf("expected 3 batches, got %d", store.calls)
	}
}
