package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"qms/turno-service/internal/models"
	"qms/turno-service/internal/queue"
	"qms/turno-service/internal/store"

	"github.com/jackc/pgx/v5"
)

// selectCounter picks the active counter with the fewest waiting or
// in-service tickets.
func selectCounter(ctx context.Context, tx pgx.Tx) (int64, error) {
	rows, err := tx.Query(ctx, `
		SELECT c.counter_id, COUNT(t.ticket_id)
		FROM counters c
		LEFT JOIN tickets t ON t.counter_id = c.counter_id AND t.status IN ('waiting', 'in_service')
		WHERE c.active AND c.deleted_at IS NULL
		GROUP BY c.counter_id
		ORDER BY c.counter_id ASC
	`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var loads []queue.CounterLoad
	for rows.Next() {
		var load queue.CounterLoad
		if err := rows.Scan(&load.CounterID, &load.Load); err != nil {
			return 0, err
		}
		loads = append(loads, load)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	counterID, ok := queue.PickCounter(loads, 0)
	if !ok {
		return 0, store.ErrNoCountersAvailable
	}
	return counterID, nil
}

func waitingCounts(ctx context.Context, tx pgx.Tx, counterID int64) (int, int, error) {
	var priority, normal int
	row := tx.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE priority), COUNT(*) FILTER (WHERE NOT priority)
		FROM tickets
		WHERE counter_id = $1 AND status = 'waiting'
	`, counterID)
	if err := row.Scan(&priority, &normal); err != nil {
		return 0, 0, err
	}
	return priority, normal, nil
}

func loadWaiting(ctx context.Context, tx pgx.Tx, counterID int64) ([]queue.WaitingTicket, error) {
	rows, err := tx.Query(ctx, `
		SELECT ticket_id, priority, created_at, position
		FROM tickets
		WHERE counter_id = $1 AND status = 'waiting'
		ORDER BY ticket_id ASC
		FOR UPDATE
	`, counterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var waiting []queue.WaitingTicket
	for rows.Next() {
		var ticket queue.WaitingTicket
		if err := rows.Scan(&ticket.TicketID, &ticket.Priority, &ticket.CreatedAt, &ticket.Position); err != nil {
			return nil, err
		}
		waiting = append(waiting, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return waiting, nil
}

// renumber rewrites the positions of a counter's waiting tickets so they
// read 1..n with priority tickets first.
func renumber(ctx context.Context, tx pgx.Tx, counterID int64) error {
	waiting, err := loadWaiting(ctx, tx, counterID)
	if err != nil {
		return err
	}
	for _, assignment := range queue.Renumber(waiting) {
		if !assignment.Changed {
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE tickets SET position = $2 WHERE ticket_id = $1`, assignment.TicketID, assignment.Position); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ToggleCounter(ctx context.Context, input store.CounterActionInput) (result store.ToggleResult, err error) {
	if input.CounterID <= 0 {
		return store.ToggleResult{}, store.ErrInvalidInput
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.ToggleResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	record, found, err := findActionRequest(ctx, tx, store.ActionToggle, input.RequestID)
	if err != nil {
		return store.ToggleResult{}, err
	}
	if found {
		if !record.sameCounter(input.CounterID) {
			return store.ToggleResult{}, store.ErrRequestConflict
		}
		if len(record.Response) == 0 {
			result.Counter, err = scanCounter(tx.QueryRow(ctx, `SELECT `+counterColumns+` FROM counters WHERE counter_id = $1`, input.CounterID))
			if err != nil {
				return store.ToggleResult{}, err
			}
		} else if err = json.Unmarshal(record.Response, &result); err != nil {
			return store.ToggleResult{}, err
		}
		return result, tx.Commit(ctx)
	}

	if err = lockRouting(ctx, tx); err != nil {
		return store.ToggleResult{}, err
	}
	counter, err := lockCounter(ctx, tx, input.CounterID)
	if err != nil {
		return store.ToggleResult{}, err
	}
	at := occurredAt(input.OccurredAt)

	if counter.Active {
		if _, serving, err := inServiceTicketID(ctx, tx, counter.CounterID); err != nil {
			return store.ToggleResult{}, err
		} else if serving {
			return store.ToggleResult{}, store.ErrCounterServing
		}
		if _, err = tx.Exec(ctx, `UPDATE counters SET active = false WHERE counter_id = $1`, counter.CounterID); err != nil {
			return store.ToggleResult{}, err
		}
		counter.Active = false

		reassigned, stranded, err := reassignWaiting(ctx, tx, counter.CounterID, at)
		if err != nil {
			return store.ToggleResult{}, err
		}
		result.Reassigned = reassigned
		result.Stranded = stranded
	} else {
		if _, err = tx.Exec(ctx, `UPDATE counters SET active = true WHERE counter_id = $1`, counter.CounterID); err != nil {
			return store.ToggleResult{}, err
		}
		counter.Active = true
	}

	if err = renumberAll(ctx, tx, counter.CounterID); err != nil {
		return store.ToggleResult{}, err
	}
	result.Counter = counter

	if err = insertOutboxEvent(ctx, tx, "counter.toggled", int64Ptr(counter.CounterID), map[string]interface{}{
		"counter_id": counter.CounterID,
		"active":     counter.Active,
		"reassigned": len(result.Reassigned),
		"stranded":   result.Stranded,
	}); err != nil {
		return store.ToggleResult{}, err
	}
	response, err := json.Marshal(result)
	if err != nil {
		return store.ToggleResult{}, err
	}
	if err = insertActionRequest(ctx, tx, store.ActionToggle, input.RequestID, int64Ptr(counter.CounterID), nil, response); err != nil {
		return store.ToggleResult{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return store.ToggleResult{}, err
	}
	return result, nil
}

// reassignWaiting spreads the waiting tickets of a deactivated counter over
// the remaining active counters. Tickets stay put when no other counter is
// active.
func reassignWaiting(ctx context.Context, tx pgx.Tx, fromCounter int64, at time.Time) ([]models.Ticket, int, error) {
	moving, err := loadWaiting(ctx, tx, fromCounter)
	if err != nil {
		return nil, 0, err
	}
	if len(moving) == 0 {
		return nil, 0, nil
	}

	targetIDs, err := lockActiveCounters(ctx, tx)
	if err != nil {
		return nil, 0, err
	}
	targets := make([]queue.TargetQueue, 0, len(targetIDs))
	for _, counterID := range targetIDs {
		waiting, err := loadWaiting(ctx, tx, counterID)
		if err != nil {
			return nil, 0, err
		}
		targets = append(targets, queue.TargetQueue{CounterID: counterID, Waiting: waiting})
	}

	moves := queue.PlanReassignment(moving, targets)
	reassigned := make([]models.Ticket, 0, len(moves))
	for _, move := range moves {
		if _, err := tx.Exec(ctx, `
			UPDATE tickets
			SET counter_id = $2, position = $3, updated_at = $4
			WHERE ticket_id = $1
		`, move.TicketID, move.CounterID, move.Position, at); err != nil {
			return nil, 0, err
		}
		ticket, err := getTicket(ctx, tx, move.TicketID)
		if err != nil {
			return nil, 0, err
		}
		if err := recordTicketChange(ctx, tx, "ticket.reassigned", ticket, int64Ptr(fromCounter)); err != nil {
			return nil, 0, err
		}
		reassigned = append(reassigned, ticket)
	}
	return reassigned, len(moving) - len(moves), nil
}

func lockActiveCounters(ctx context.Context, tx pgx.Tx) ([]int64, error) {
	rows, err := tx.Query(ctx, `
		SELECT counter_id
		FROM counters
		WHERE active AND deleted_at IS NULL
		ORDER BY counter_id ASC
		FOR UPDATE
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// renumberAll renumbers every active counter plus the one just toggled, which
// may still hold stranded tickets.
func renumberAll(ctx context.Context, tx pgx.Tx, toggled int64) error {
	ids, err := lockActiveCounters(ctx, tx)
	if err != nil {
		return err
	}
	seen := false
	for _, id := range ids {
		if id == toggled {
			seen = true
		}
		if err := renumber(ctx, tx, id); err != nil {
			return err
		}
	}
	if !seen {
		return renumber(ctx, tx, toggled)
	}
	return nil
}

func (s *Store) QueueState(ctx context.Context, counterID int64) (models.QueueState, error) {
	counter, err := scanCounter(s.pool.QueryRow(ctx, `
		SELECT `+counterColumns+`
		FROM counters
		WHERE counter_id = $1 AND deleted_at IS NULL
	`, counterID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueState{}, store.ErrCounterNotFound
		}
		return models.QueueState{}, err
	}
	tickets, err := queryTickets(ctx, s.pool, `
		WHERE t.counter_id = $1 AND t.status IN ('waiting', 'in_service')
		ORDER BY t.position ASC, t.created_at ASC, t.ticket_id ASC
	`, counterID)
	if err != nil {
		return models.QueueState{}, err
	}
	return buildQueueStates([]models.Counter{counter}, tickets)[0], nil
}

func (s *Store) GlobalQueueState(ctx context.Context) ([]models.QueueState, error) {
	counters, err := s.listCounters(ctx)
	if err != nil {
		return nil, err
	}
	tickets, err := queryTickets(ctx, s.pool, `
		WHERE t.status IN ('waiting', 'in_service') AND t.counter_id IS NOT NULL
		ORDER BY t.counter_id ASC, t.position ASC, t.created_at ASC, t.ticket_id ASC
	`)
	if err != nil {
		return nil, err
	}
	return buildQueueStates(counters, tickets), nil
}

func (s *Store) CounterStates(ctx context.Context) ([]models.CounterState, error) {
	queues, err := s.GlobalQueueState(ctx)
	if err != nil {
		return nil, err
	}
	states := make([]models.CounterState, 0, len(queues))
	for _, q := range queues {
		states = append(states, models.CounterState{
			Counter:   q.Counter,
			Waiting:   len(q.Waiting),
			InService: q.InService,
		})
	}
	return states, nil
}

func (s *Store) CounterForOperator(ctx context.Context, operatorID string) (models.Counter, error) {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return models.Counter{}, store.ErrNoCounterAssigned
	}
	counter, err := scanCounter(s.pool.QueryRow(ctx, `
		SELECT `+counterColumns+`
		FROM counters
		WHERE operator_id = $1 AND deleted_at IS NULL
	`, operatorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, store.ErrNoCounterAssigned
		}
		return models.Counter{}, err
	}
	return counter, nil
}

func (s *Store) listCounters(ctx context.Context) ([]models.Counter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+counterColumns+`
		FROM counters
		WHERE deleted_at IS NULL
		ORDER BY counter_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counters := []models.Counter{}
	for rows.Next() {
		counter, err := scanCounter(rows)
		if err != nil {
			return nil, err
		}
		counters = append(counters, counter)
	}
	return counters, rows.Err()
}

// buildQueueStates groups already ordered tickets under their counters.
func buildQueueStates(counters []models.Counter, tickets []models.Ticket) []models.QueueState {
	states := make([]models.QueueState, len(counters))
	index := make(map[int64]int, len(counters))
	for i, counter := range counters {
		states[i] = models.QueueState{Counter: counter, Waiting: []models.Ticket{}}
		index[counter.CounterID] = i
	}
	for _, ticket := range tickets {
		if ticket.CounterID == nil {
			continue
		}
		i, ok := index[*ticket.CounterID]
		if !ok {
			continue
		}
		switch ticket.Status {
		case models.StatusInService:
			current := ticket
			states[i].InService = &current
		case models.StatusWaiting:
			states[i].Waiting = append(states[i].Waiting, ticket)
		}
	}
	return states
}
