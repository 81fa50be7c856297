package postgres

import (
	"context"
	"database/sql"
	"errors"
	"expvar"
	"fmt"
	"log"
	"time"

	"qms/turno-service/internal/models"

	"github.com/jackc/pgx/v5"
)

var (
	stockApplied = expvar.NewInt("stock_movements_applied_total")
	stockFailed  = expvar.NewInt("stock_movements_failed_total")
)

// errStockRejected marks outcomes that retrying cannot change.
var errStockRejected = errors.New("stock movement rejected")

const movementColumns = `movement_id, invoice_id, line_no, product_id, quantity, status, attempts, last_error, stock_before, stock_after, updated_at`

func scanMovement(row pgx.Row) (models.StockMovement, error) {
	var movement models.StockMovement
	var lastError sql.NullString
	var before, after sql.NullInt32
	if err := row.Scan(&movement.MovementID, &movement.InvoiceID, &movement.LineNo, &movement.ProductID, &movement.Quantity,
		&movement.Status, &movement.Attempts, &lastError, &before, &after, &movement.UpdatedAt); err != nil {
		return models.StockMovement{}, err
	}
	if lastError.Valid {
		movement.LastError = lastError.String
	}
	if before.Valid {
		value := int(before.Int32)
		movement.StockBefore = &value
	}
	if after.Valid {
		value := int(after.Int32)
		movement.StockAfter = &value
	}
	return movement, nil
}

func listMovements(ctx context.Context, q querier, invoiceID int64) ([]models.StockMovement, error) {
	rows, err := q.Query(ctx, `
		SELECT `+movementColumns+`
		FROM stock_movements
		WHERE invoice_id = $1
		ORDER BY line_no ASC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := []models.StockMovement{}
	for rows.Next() {
		movement, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, movement)
	}
	return movements, rows.Err()
}

// applyInvoiceMovements runs right after a finish commits. Errors are logged
// and left to the retry worker.
func (s *Store) applyInvoiceMovements(ctx context.Context, invoiceID int64) []models.StockMovement {
	movements, err := listMovements(ctx, s.pool, invoiceID)
	if err != nil {
		log.Printf("stock list invoice_id=%d err=%v", invoiceID, err)
		return nil
	}
	changed := false
	for _, movement := range movements {
		if movement.Status != models.MovementPending {
			continue
		}
		if _, err := s.applyMovement(ctx, movement.MovementID); err != nil {
			log.Printf("stock apply movement_id=%d invoice_id=%d err=%v", movement.MovementID, invoiceID, err)
		}
		changed = true
	}
	if !changed {
		return movements
	}
	refreshed, err := listMovements(ctx, s.pool, invoiceID)
	if err != nil {
		log.Printf("stock list invoice_id=%d err=%v", invoiceID, err)
		return movements
	}
	return refreshed
}

// RetryPendingMovements makes one attempt at up to limit pending movements,
// oldest first. It returns how many settled as applied or failed; movements
// that stay pending or are locked elsewhere are not counted.
func (s *Store) RetryPendingMovements(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT movement_id
		FROM stock_movements
		WHERE status = 'pending'
		ORDER BY updated_at ASC, movement_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return 0, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	settled := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		status, err := s.applyMovement(ctx, id)
		if err != nil {
			log.Printf("stock retry movement_id=%d err=%v", id, err)
		}
		if status == models.MovementApplied || status == models.MovementFailed {
			settled++
		}
	}
	return settled, nil
}

// applyMovement decrements stock for one pending movement. Missing products
// and insufficient stock fail the movement at once; other errors count as an
// attempt until the limit is reached.
func (s *Store) applyMovement(ctx context.Context, movementID int64) (string, error) {
	status, err := s.applyMovementTx(ctx, movementID)
	if err == nil {
		return status, nil
	}
	if errors.Is(err, errStockRejected) {
		return models.MovementFailed, nil
	}
	status, markErr := s.recordMovementAttempt(ctx, movementID, err)
	if markErr != nil {
		return "", fmt.Errorf("%v; record attempt: %w", err, markErr)
	}
	return status, err
}

func (s *Store) applyMovementTx(ctx context.Context, movementID int64) (status string, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	movement, err := scanMovement(tx.QueryRow(ctx, `
		SELECT `+movementColumns+`
		FROM stock_movements
		WHERE movement_id = $1 AND status = 'pending'
		FOR UPDATE SKIP LOCKED
	`, movementID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already settled or being handled by another worker.
			return "", tx.Commit(ctx)
		}
		return "", err
	}

	var stockAfter int
	row := tx.QueryRow(ctx, `
		UPDATE products
		SET stock = stock - $2
		WHERE product_id = $1 AND active AND stock >= $2
		RETURNING stock
	`, movement.ProductID, movement.Quantity)
	if err = row.Scan(&stockAfter); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", err
		}
		reason, err := rejectionReason(ctx, tx, movement)
		if err != nil {
			return "", err
		}
		if err = failMovement(ctx, tx, movement, reason); err != nil {
			return "", err
		}
		if err = tx.Commit(ctx); err != nil {
			return "", err
		}
		stockFailed.Add(1)
		return models.MovementFailed, fmt.Errorf("%w: %s", errStockRejected, reason)
	}

	if _, err = tx.Exec(ctx, `
		UPDATE stock_movements
		SET status = $2, attempts = attempts + 1, last_error = NULL, stock_before = $3, stock_after = $4, updated_at = $5
		WHERE movement_id = $1
	`, movement.MovementID, models.MovementApplied, stockAfter+movement.Quantity, stockAfter, time.Now().UTC()); err != nil {
		return "", err
	}
	if err = tx.Commit(ctx); err != nil {
		return "", err
	}
	stockApplied.Add(1)
	return models.MovementApplied, nil
}

func rejectionReason(ctx context.Context, tx pgx.Tx, movement models.StockMovement) (string, error) {
	var stock int
	var active bool
	row := tx.QueryRow(ctx, `SELECT stock, active FROM products WHERE product_id = $1`, movement.ProductID)
	if err := row.Scan(&stock, &active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "product_not_found", nil
		}
		return "", err
	}
	if !active {
		return "product_inactive", nil
	}
	return fmt.Sprintf("insufficient_stock have=%d need=%d", stock, movement.Quantity), nil
}

func failMovement(ctx context.Context, tx pgx.Tx, movement models.StockMovement, reason string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE stock_movements
		SET status = $2, attempts = attempts + 1, last_error = $3, updated_at = $4
		WHERE movement_id = $1
	`, movement.MovementID, models.MovementFailed, reason, time.Now().UTC()); err != nil {
		return err
	}
	return insertOutboxEvent(ctx, tx, "stock.movement_failed", nil, map[string]interface{}{
		"movement_id": movement.MovementID,
		"invoice_id":  movement.InvoiceID,
		"product_id":  movement.ProductID,
		"quantity":    movement.Quantity,
		"reason":      reason,
	})
}

// recordMovementAttempt counts a failed attempt and returns the resulting
// status. It returns "" when the movement was settled elsewhere meanwhile.
func (s *Store) recordMovementAttempt(ctx context.Context, movementID int64, cause error) (status string, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	movement, err := scanMovement(tx.QueryRow(ctx, `
		SELECT `+movementColumns+`
		FROM stock_movements
		WHERE movement_id = $1 AND status = 'pending'
		FOR UPDATE
	`, movementID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", tx.Commit(ctx)
		}
		return "", err
	}
	status = models.MovementPending
	if movement.Attempts+1 >= s.stockMaxAttempts {
		if err = failMovement(ctx, tx, movement, "max_attempts: "+cause.Error()); err != nil {
			return "", err
		}
		status = models.MovementFailed
	} else if _, err = tx.Exec(ctx, `
		UPDATE stock_movements
		SET attempts = attempts + 1, last_error = $2, updated_at = $3
		WHERE movement_id = $1
	`, movementID, cause.Error(), time.Now().UTC()); err != nil {
		return "", err
	}
	if err = tx.Commit(ctx); err != nil {
		return "", err
	}
	if status == models.MovementFailed {
		stockFailed.Add(1)
	}
	return status, nil
}
