package worker

import (
	"context"
	"log"
	"time"
)

// MovementStore retries deferred stock decrements. RetryPendingMovements
// makes one attempt per claimed movement and returns how many settled.
type MovementStore interface {
	RetryPendingMovements(ctx context.Context, limit int) (int, error)
}

type Config struct {
	BatchSize int
}

type StockWorker struct {
	store     MovementStore
	batchSize int
}

func NewStockWorker(store MovementStore, cfg Config) *StockWorker {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	return &StockWorker{store: store, batchSize: batch}
}

// Run keeps claiming batches while every movement in the last one settled.
// A batch with anything left pending ends the tick, so a movement gets at most
// one attempt per interval.
func (w *StockWorker) Run(ctx context.Context) error {
	for {
		settled, err := w.store.RetryPendingMovements(ctx, w.batchSize)
		if err != nil {
			return err
		}
		if settled > 0 {
			log.Printf("stock worker settled=%d", settled)
		}
		if settled < w.batchSize {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func Start(ctx context.Context, interval time.Duration, w *StockWorker) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				log.Printf("stock worker error: %v", err)
			}
		}
	}
}
