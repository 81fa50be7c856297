package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"qms/turno-service/internal/models"
	"qms/turno-service/internal/queue"
	"qms/turno-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type newTicket struct {
	RequestID      string
	ClientID       int64
	ServiceID      int64
	Manual         bool
	ManualDocument string
	Priority       bool
	ArrivalAt      time.Time
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (store.CreateResult, error) {
	document := strings.TrimSpace(input.ClientDocument)
	if input.ServiceID <= 0 || document == "" {
		return store.CreateResult{}, store.ErrInvalidInput
	}
	requestID := input.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	return s.withTicketNumberRetry(ctx, func(tx pgx.Tx) (store.CreateResult, error) {
		if existing, found, err := findTicketByRequestID(ctx, tx, requestID); err != nil || found {
			return store.CreateResult{Ticket: existing, Created: true}, err
		}
		if err := lockRouting(ctx, tx); err != nil {
			return store.CreateResult{}, err
		}
		service, err := loadService(ctx, tx, input.ServiceID)
		if err != nil {
			return store.CreateResult{}, err
		}
		client, found, err := loadClientByDocument(ctx, tx, document)
		if err != nil {
			return store.CreateResult{}, err
		}
		if !found {
			return store.CreateResult{}, store.ErrClientNotFound
		}
		active, found, err := activeTicketForClientID(ctx, tx, client.ClientID)
		if err != nil {
			return store.CreateResult{}, err
		}
		if found {
			return store.CreateResult{Ticket: active, Created: false}, nil
		}

		ticket, err := insertTicket(ctx, tx, newTicket{
			RequestID: requestID,
			ClientID:  client.ClientID,
			ServiceID: service.ServiceID,
			Priority:  client.Prioritized || service.Priority,
			ArrivalAt: occurredAt(input.CreatedAt),
		})
		if err != nil {
			return store.CreateResult{}, err
		}
		return store.CreateResult{Ticket: ticket, Created: true}, nil
	})
}

// CreateManualTicket books a ticket from the desk. A document that matches no
// client is booked under the default client and tracked by the document.
func (s *Store) CreateManualTicket(ctx context.Context, input store.ManualTicketInput) (store.CreateResult, error) {
	document := strings.TrimSpace(input.Document)
	if input.ServiceID <= 0 || document == "" {
		return store.CreateResult{}, store.ErrInvalidInput
	}
	requestID := input.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	return s.withTicketNumberRetry(ctx, func(tx pgx.Tx) (store.CreateResult, error) {
		if existing, found, err := findTicketByRequestID(ctx, tx, requestID); err != nil || found {
			return store.CreateResult{Ticket: existing, Created: true}, err
		}
		if err := lockRouting(ctx, tx); err != nil {
			return store.CreateResult{}, err
		}
		service, err := loadService(ctx, tx, input.ServiceID)
		if err != nil {
			return store.CreateResult{}, err
		}
		client, found, err := loadClientByDocument(ctx, tx, document)
		if err != nil {
			return store.CreateResult{}, err
		}

		nt := newTicket{
			RequestID: requestID,
			ServiceID: service.ServiceID,
			ArrivalAt: occurredAt(input.CreatedAt),
		}
		var active models.Ticket
		var hasActive bool
		if found {
			nt.ClientID = client.ClientID
			nt.Priority = client.Prioritized || service.Priority
			active, hasActive, err = activeTicketForClientID(ctx, tx, client.ClientID)
		} else {
			nt.ClientID = s.defaultClientID
			nt.Manual = true
			nt.ManualDocument = document
			nt.Priority = service.Priority
			active, hasActive, err = activeTicketForManualDocument(ctx, tx, document)
		}
		if err != nil {
			return store.CreateResult{}, err
		}
		if hasActive {
			return store.CreateResult{Ticket: active, Created: false}, nil
		}

		ticket, err := insertTicket(ctx, tx, nt)
		if err != nil {
			return store.CreateResult{}, err
		}
		return store.CreateResult{Ticket: ticket, Created: true}, nil
	})
}

// withTicketNumberRetry reruns the whole creation when a uniqueness race
// aborts the transaction.
func (s *Store) withTicketNumberRetry(ctx context.Context, fn func(tx pgx.Tx) (store.CreateResult, error)) (store.CreateResult, error) {
	for attempt := 1; attempt <= s.ticketNumberAttempts; attempt++ {
		result, err := s.createOnce(ctx, fn)
		if err == nil {
			return result, nil
		}
		if !isUniqueViolation(err) {
			return store.CreateResult{}, err
		}
	}
	return store.CreateResult{}, fmt.Errorf("%w after %d attempts", store.ErrTicketNumberBusy, s.ticketNumberAttempts)
}

func (s *Store) createOnce(ctx context.Context, fn func(tx pgx.Tx) (store.CreateResult, error)) (result store.CreateResult, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.CreateResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	result, err = fn(tx)
	if err != nil {
		return store.CreateResult{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return store.CreateResult{}, err
	}
	return result, nil
}

// insertTicket places a new ticket on the least loaded active counter and
// records its creation.
func insertTicket(ctx context.Context, tx pgx.Tx, nt newTicket) (models.Ticket, error) {
	counterID, err := selectCounter(ctx, tx)
	if err != nil {
		return models.Ticket{}, err
	}
	if _, err := lockCounter(ctx, tx, counterID); err != nil {
		return models.Ticket{}, err
	}
	priorityCount, normalCount, err := waitingCounts(ctx, tx, counterID)
	if err != nil {
		return models.Ticket{}, err
	}
	position := queue.PositionFor(priorityCount, normalCount, nt.Priority)

	number, err := nextTicketNumber(ctx, tx)
	if err != nil {
		return models.Ticket{}, err
	}

	var scheduleID int64
	row := tx.QueryRow(ctx, `
		INSERT INTO schedules (arrival_at, service_start_at, service_end_at)
		VALUES ($1, $1, $1)
		RETURNING schedule_id
	`, nt.ArrivalAt)
	if err := row.Scan(&scheduleID); err != nil {
		return models.Ticket{}, err
	}

	var ticketID int64
	row = tx.QueryRow(ctx, `
		INSERT INTO tickets (ticket_number, request_id, client_id, counter_id, service_id, schedule_id, manual, manual_document, status, priority, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING ticket_id
	`, number, nt.RequestID, nt.ClientID, counterID, nt.ServiceID, scheduleID, nt.Manual, nullIfEmpty(nt.ManualDocument), models.StatusWaiting, nt.Priority, position, nt.ArrivalAt)
	if err := row.Scan(&ticketID); err != nil {
		return models.Ticket{}, err
	}

	if err := renumber(ctx, tx, counterID); err != nil {
		return models.Ticket{}, err
	}
	ticket, err := getTicket(ctx, tx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if err := recordTicketChange(ctx, tx, "ticket.created", ticket, nil); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func findTicketByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Ticket, bool, error) {
	ticket, err := scanTicket(tx.QueryRow(ctx, ticketSelect+` WHERE t.request_id = $1`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func loadService(ctx context.Context, q querier, serviceID int64) (models.Service, error) {
	var service models.Service
	row := q.QueryRow(ctx, `
		SELECT service_id, name, priority, enabled
		FROM services
		WHERE service_id = $1
	`, serviceID)
	if err := row.Scan(&service.ServiceID, &service.Name, &service.Priority, &service.Enabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, err
	}
	if !service.Enabled {
		return models.Service{}, store.ErrServiceDisabled
	}
	return service, nil
}

func loadClientByDocument(ctx context.Context, q querier, document string) (models.Client, bool, error) {
	var client models.Client
	row := q.QueryRow(ctx, `
		SELECT client_id, document, full_name, prioritized, active
		FROM clients
		WHERE document = $1 AND active
	`, document)
	if err := row.Scan(&client.ClientID, &client.Document, &client.FullName, &client.Prioritized, &client.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Client{}, false, nil
		}
		return models.Client{}, false, err
	}
	return client, true, nil
}

func activeTicketForClientID(ctx context.Context, q querier, clientID int64) (models.Ticket, bool, error) {
	ticket, err := scanTicket(q.QueryRow(ctx, ticketSelect+`
		WHERE t.client_id = $1 AND NOT t.manual AND t.status IN ('waiting', 'in_service')
		LIMIT 1
	`, clientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func activeTicketForManualDocument(ctx context.Context, q querier, document string) (models.Ticket, bool, error) {
	ticket, err := scanTicket(q.QueryRow(ctx, ticketSelect+`
		WHERE t.manual_document = $1 AND t.manual AND t.status IN ('waiting', 'in_service')
		LIMIT 1
	`, document))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// ActiveTicketForClient looks a document up among registered clients first
// and then among manual tickets.
func (s *Store) ActiveTicketForClient(ctx context.Context, document string) (models.Ticket, bool, error) {
	document = strings.TrimSpace(document)
	if document == "" {
		return models.Ticket{}, false, store.ErrInvalidInput
	}
	client, found, err := loadClientByDocument(ctx, s.pool, document)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		ticket, ok, err := activeTicketForClientID(ctx, s.pool, client.ClientID)
		if err != nil || ok {
			return ticket, ok, err
		}
	}
	return activeTicketForManualDocument(ctx, s.pool, document)
}

// CancelTicket cancels a waiting ticket. Unless the caller is staff, the
// document must match the ticket's holder; a mismatch reads as not found.
func (s *Store) CancelTicket(ctx context.Context, input store.CancelTicketInput) (ticket models.Ticket, err error) {
	if input.TicketID <= 0 {
		return models.Ticket{}, store.ErrInvalidInput
	}
	document := strings.TrimSpace(input.ClientDocument)
	if !input.Staff && document == "" {
		return models.Ticket{}, store.ErrInvalidInput
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if !input.Staff {
		if err = checkTicketHolder(ctx, tx, input.TicketID, document); err != nil {
			return models.Ticket{}, err
		}
	}

	record, found, err := findActionRequest(ctx, tx, store.ActionCancel, input.RequestID)
	if err != nil {
		return models.Ticket{}, err
	}
	if found {
		if !record.sameTicket(input.TicketID) {
			return models.Ticket{}, store.ErrRequestConflict
		}
		ticket, err = getTicket(ctx, tx, input.TicketID)
		if err != nil {
			return models.Ticket{}, err
		}
		err = tx.Commit(ctx)
		return ticket, err
	}

	if err = lockRouting(ctx, tx); err != nil {
		return models.Ticket{}, err
	}
	counterID, err := guardTransition(ctx, tx, store.ActionCancel, input.TicketID)
	if err != nil {
		return models.Ticket{}, err
	}

	at := occurredAt(input.OccurredAt)
	if _, err = tx.Exec(ctx, `
		UPDATE tickets
		SET status = $2, position = 0, updated_at = $3
		WHERE ticket_id = $1
	`, input.TicketID, models.StatusCancelled, at); err != nil {
		return models.Ticket{}, err
	}
	if counterID != nil {
		if err = renumber(ctx, tx, *counterID); err != nil {
			return models.Ticket{}, err
		}
	}

	ticket, err = getTicket(ctx, tx, input.TicketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if err = recordTicketChange(ctx, tx, "ticket.cancelled", ticket, nil); err != nil {
		return models.Ticket{}, err
	}
	if err = insertActionRequest(ctx, tx, store.ActionCancel, input.RequestID, counterID, int64Ptr(ticket.TicketID), nil); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// checkTicketHolder matches document against the registered client of the
// ticket, or the typed document for manual tickets.
func checkTicketHolder(ctx context.Context, tx pgx.Tx, ticketID int64, document string) error {
	var holder string
	row := tx.QueryRow(ctx, `
		SELECT CASE WHEN t.manual THEN COALESCE(t.manual_document, '') ELSE c.document END
		FROM tickets t
		JOIN clients c ON c.client_id = t.client_id
		WHERE t.ticket_id = $1
	`, ticketID)
	if err := row.Scan(&holder); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrTicketNotFound
		}
		return err
	}
	if holder == "" || holder != document {
		return store.ErrTicketNotFound
	}
	return nil
}

func (s *Store) CallNext(ctx context.Context, input store.CounterActionInput) (ticket models.Ticket, err error) {
	if input.CounterID <= 0 {
		return models.Ticket{}, store.ErrInvalidInput
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	record, found, err := findActionRequest(ctx, tx, store.ActionCallNext, input.RequestID)
	if err != nil {
		return models.Ticket{}, err
	}
	if found && !record.sameCounter(input.CounterID) {
		return models.Ticket{}, store.ErrRequestConflict
	}
	if found && record.TicketID != nil {
		ticket, err = getTicket(ctx, tx, *record.TicketID)
		if err != nil {
			return models.Ticket{}, err
		}
		err = tx.Commit(ctx)
		return ticket, err
	}

	if err = lockRouting(ctx, tx); err != nil {
		return models.Ticket{}, err
	}
	// Inactive counters may still drain tickets left behind on deactivation.
	if _, err = lockCounter(ctx, tx, input.CounterID); err != nil {
		return models.Ticket{}, err
	}
	if _, serving, err := inServiceTicketID(ctx, tx, input.CounterID); err != nil {
		return models.Ticket{}, err
	} else if serving {
		return models.Ticket{}, store.ErrAlreadyServing
	}

	var ticketID int64
	row := tx.QueryRow(ctx, `
		SELECT ticket_id
		FROM tickets
		WHERE counter_id = $1 AND status = 'waiting'
		ORDER BY position ASC, created_at ASC, ticket_id ASC
		LIMIT 1
		FOR UPDATE
	`, input.CounterID)
	if err = row.Scan(&ticketID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrQueueEmpty
		}
		return models.Ticket{}, err
	}
	if _, err = guardTransition(ctx, tx, store.ActionCallNext, ticketID); err != nil {
		return models.Ticket{}, err
	}

	at := occurredAt(input.OccurredAt)
	if _, err = tx.Exec(ctx, `
		UPDATE tickets
		SET status = $2, position = 0, updated_at = $3
		WHERE ticket_id = $1
	`, ticketID, models.StatusInService, at); err != nil {
		return models.Ticket{}, err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE schedules
		SET service_start_at = $2, service_end_at = $2
		WHERE schedule_id = (SELECT schedule_id FROM tickets WHERE ticket_id = $1)
	`, ticketID, at); err != nil {
		return models.Ticket{}, err
	}
	if err = renumber(ctx, tx, input.CounterID); err != nil {
		return models.Ticket{}, err
	}

	ticket, err = getTicket(ctx, tx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if err = recordTicketChange(ctx, tx, "ticket.called", ticket, nil); err != nil {
		return models.Ticket{}, err
	}
	if err = insertActionRequest(ctx, tx, store.ActionCallNext, input.RequestID, int64Ptr(input.CounterID), int64Ptr(ticketID), nil); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) CancelCurrent(ctx context.Context, input store.CounterActionInput) (ticket models.Ticket, err error) {
	if input.CounterID <= 0 {
		return models.Ticket{}, store.ErrInvalidInput
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	record, found, err := findActionRequest(ctx, tx, store.ActionCancelCurrent, input.RequestID)
	if err != nil {
		return models.Ticket{}, err
	}
	if found && !record.sameCounter(input.CounterID) {
		return models.Ticket{}, store.ErrRequestConflict
	}
	if found && record.TicketID != nil {
		ticket, err = getTicket(ctx, tx, *record.TicketID)
		if err != nil {
			return models.Ticket{}, err
		}
		err = tx.Commit(ctx)
		return ticket, err
	}

	if err = lockRouting(ctx, tx); err != nil {
		return models.Ticket{}, err
	}
	if _, err = lockCounter(ctx, tx, input.CounterID); err != nil {
		return models.Ticket{}, err
	}
	ticketID, serving, err := inServiceTicketID(ctx, tx, input.CounterID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !serving {
		return models.Ticket{}, store.ErrNothingInService
	}
	if _, err = guardTransition(ctx, tx, store.ActionCancelCurrent, ticketID); err != nil {
		return models.Ticket{}, err
	}

	at := occurredAt(input.OccurredAt)
	if _, err = tx.Exec(ctx, `
		UPDATE tickets
		SET status = $2, cancel_reason = $3, updated_at = $4
		WHERE ticket_id = $1
	`, ticketID, models.StatusCancelled, nullIfEmpty(strings.TrimSpace(input.Reason)), at); err != nil {
		return models.Ticket{}, err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE schedules
		SET service_end_at = $2
		WHERE schedule_id = (SELECT schedule_id FROM tickets WHERE ticket_id = $1)
	`, ticketID, at); err != nil {
		return models.Ticket{}, err
	}
	if err = renumber(ctx, tx, input.CounterID); err != nil {
		return models.Ticket{}, err
	}

	ticket, err = getTicket(ctx, tx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if err = recordTicketChange(ctx, tx, "ticket.cancelled", ticket, nil); err != nil {
		return models.Ticket{}, err
	}
	if err = insertActionRequest(ctx, tx, store.ActionCancelCurrent, input.RequestID, int64Ptr(input.CounterID), int64Ptr(ticketID), nil); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func inServiceTicketID(ctx context.Context, tx pgx.Tx, counterID int64) (int64, bool, error) {
	var ticketID int64
	row := tx.QueryRow(ctx, `
		SELECT ticket_id
		FROM tickets
		WHERE counter_id = $1 AND status = 'in_service'
		FOR UPDATE
	`, counterID)
	if err := row.Scan(&ticketID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return ticketID, true, nil
}
