package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"qms/turno-service/internal/store"

	"github.com/jackc/pgx/v5"
)

// PublishOutbox claims up to limit unpublished events in creation order and
// hands each to publish. Delivery stops at the first failure so events are
// never published out of order; everything delivered before it is marked.
func (s *Store) PublishOutbox(ctx context.Context, limit int, publish func(context.Context, store.OutboxEvent) error) (published int, err error) {
	if limit <= 0 {
		limit = 100
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `
		SELECT event_id::text, type, counter_id, payload_json::text, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at ASC, event_id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return 0, err
	}
	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		var counterNull sql.NullInt64
		var payload string
		if err = rows.Scan(&event.EventID, &event.Type, &counterNull, &payload, &event.CreatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		event.CounterID = nullInt64Ptr(counterNull)
		event.Payload = json.RawMessage(payload)
		events = append(events, event)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, err
	}

	var delivered []string
	var publishErr error
	for _, event := range events {
		if publishErr = publish(ctx, event); publishErr != nil {
			break
		}
		delivered = append(delivered, event.EventID)
	}

	if len(delivered) > 0 {
		if _, err = tx.Exec(ctx, `
			UPDATE outbox_events
			SET published_at = $2
			WHERE event_id::text = ANY($1::text[])
		`, delivered, time.Now().UTC()); err != nil {
			return 0, err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(delivered), publishErr
}
