package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"qms/turno-service/internal/models"
	"qms/turno-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const routingLockKey = "turnos.routing"

type Store struct {
	pool                 *pgxpool.Pool
	defaultClientID      int64
	ticketNumberAttempts int
	stockMaxAttempts     int
}

type Options struct {
	DefaultClientID         int64
	TicketNumberMaxAttempts int
	StockMaxAttempts        int
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	defaultClient := options.DefaultClientID
	if defaultClient <= 0 {
		defaultClient = 1
	}
	attempts := options.TicketNumberMaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	stockAttempts := options.StockMaxAttempts
	if stockAttempts <= 0 {
		stockAttempts = 5
	}
	return &Store{
		pool:                 pool,
		defaultClientID:      defaultClient,
		ticketNumberAttempts: attempts,
		stockMaxAttempts:     stockAttempts,
	}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// lockRouting serializes every change to waiting sets. It is always taken
// before any counter row lock.
func lockRouting(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, routingLockKey)
	return err
}

const counterColumns = `counter_id, name, operator_id, active, deleted_at`

func scanCounter(row pgx.Row) (models.Counter, error) {
	var counter models.Counter
	var operatorNull sql.NullString
	var deletedNull sql.NullTime
	if err := row.Scan(&counter.CounterID, &counter.Name, &operatorNull, &counter.Active, &deletedNull); err != nil {
		return models.Counter{}, err
	}
	counter.OperatorID = nullStringPtr(operatorNull)
	counter.DeletedAt = nullTimePtr(deletedNull)
	return counter, nil
}

func lockCounter(ctx context.Context, tx pgx.Tx, counterID int64) (models.Counter, error) {
	counter, err := scanCounter(tx.QueryRow(ctx, `
		SELECT `+counterColumns+`
		FROM counters
		WHERE counter_id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, counterID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, store.ErrCounterNotFound
		}
		return models.Counter{}, err
	}
	return counter, nil
}

const ticketSelect = `
	SELECT t.ticket_id, t.ticket_number, COALESCE(t.request_id::text, ''), t.client_id, t.counter_id, COALESCE(c.name, ''),
		t.service_id, s.name, t.manual, t.manual_document, t.status, t.priority, t.position, t.cancel_reason,
		t.created_at, t.updated_at, sc.schedule_id, sc.arrival_at, sc.service_start_at, sc.service_end_at
	FROM tickets t
	JOIN schedules sc ON sc.schedule_id = t.schedule_id
	JOIN services s ON s.service_id = t.service_id
	LEFT JOIN counters c ON c.counter_id = t.counter_id
`

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var counterNull sql.NullInt64
	var manualDocNull sql.NullString
	var reasonNull sql.NullString
	if err := row.Scan(
		&ticket.TicketID, &ticket.TicketNumber, &ticket.RequestID, &ticket.ClientID, &counterNull, &ticket.CounterName,
		&ticket.ServiceID, &ticket.ServiceName, &ticket.Manual, &manualDocNull, &ticket.Status, &ticket.Priority, &ticket.Position, &reasonNull,
		&ticket.CreatedAt, &ticket.UpdatedAt, &ticket.Schedule.ScheduleID, &ticket.Schedule.ArrivalAt, &ticket.Schedule.ServiceStartAt, &ticket.Schedule.ServiceEndAt,
	); err != nil {
		return models.Ticket{}, err
	}
	ticket.CounterID = nullInt64Ptr(counterNull)
	if manualDocNull.Valid {
		ticket.ManualDocument = manualDocNull.String
	}
	if reasonNull.Valid {
		ticket.CancelReason = reasonNull.String
	}
	return ticket, nil
}

func getTicket(ctx context.Context, q querier, ticketID int64) (models.Ticket, error) {
	ticket, err := scanTicket(q.QueryRow(ctx, ticketSelect+` WHERE t.ticket_id = $1`, ticketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func queryTickets(ctx context.Context, q querier, where string, args ...any) ([]models.Ticket, error) {
	rows, err := q.Query(ctx, ticketSelect+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := []models.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	return getTicket(ctx, s.pool, ticketID)
}

func nextTicketNumber(ctx context.Context, tx pgx.Tx) (int64, error) {
	var number int64
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_number_seq (singleton, next_number)
		VALUES (true, 2)
		ON CONFLICT (singleton) DO UPDATE
		SET next_number = ticket_number_seq.next_number + 1
		RETURNING next_number - 1
	`)
	if err := row.Scan(&number); err != nil {
		return 0, err
	}
	return number, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, counterID *int64, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, counter_id, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), eventType, counterID, raw, time.Now().UTC())
	return err
}

// recordTicketChange appends to the ticket's hash chain and queues the same
// snapshot for outbox delivery.
func recordTicketChange(ctx context.Context, tx pgx.Tx, eventType string, ticket models.Ticket, fromCounter *int64) error {
	payload := store.NewTicketEventPayload(ticket)
	payload.FromCounter = fromCounter
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := insertTicketEvent(ctx, tx, ticket.TicketID, eventType, raw); err != nil {
		return err
	}
	return insertOutboxEvent(ctx, tx, eventType, ticket.CounterID, payload)
}

func insertTicketEvent(ctx context.Context, tx pgx.Tx, ticketID int64, eventType string, payload []byte) error {
	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
		FOR UPDATE
	`, ticketID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	// Postgres keeps microseconds; hash the value as it will be read back.
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	hash := store.ComputeTicketEventHash(prev, ticketID, eventType, payload, createdAt, nextSeq)

	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ticketID, nextSeq, eventType, string(payload), createdAt, prev, hash)
	return err
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID int64) ([]store.TicketEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, ticket_seq, type, payload::text, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []store.TicketEvent{}
	for rows.Next() {
		var event store.TicketEvent
		var payload string
		if err := rows.Scan(&event.TicketID, &event.TicketSeq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = json.RawMessage(payload)
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		if _, err := getTicket(ctx, s.pool, ticketID); err != nil {
			return nil, err
		}
	}
	return events, nil
}

type actionRecord struct {
	TicketID  *int64
	CounterID *int64
	Response  []byte
}

// sameCounter reports whether a replayed request targets the counter it was
// first recorded for.
func (r actionRecord) sameCounter(counterID int64) bool {
	return r.CounterID == nil || *r.CounterID == counterID
}

func (r actionRecord) sameTicket(ticketID int64) bool {
	return r.TicketID != nil && *r.TicketID == ticketID
}

// findActionRequest looks up a request id already applied for action.
func findActionRequest(ctx context.Context, tx pgx.Tx, action, requestID string) (actionRecord, bool, error) {
	if requestID == "" {
		return actionRecord{}, false, nil
	}
	var ticketNull, counterNull sql.NullInt64
	var response []byte
	row := tx.QueryRow(ctx, `
		SELECT ticket_id, counter_id, response_json
		FROM ticket_action_requests
		WHERE request_id = $1 AND action = $2
	`, requestID, action)
	if err := row.Scan(&ticketNull, &counterNull, &response); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return actionRecord{}, false, nil
		}
		return actionRecord{}, false, err
	}
	return actionRecord{TicketID: nullInt64Ptr(ticketNull), CounterID: nullInt64Ptr(counterNull), Response: response}, true, nil
}

func insertActionRequest(ctx context.Context, tx pgx.Tx, action, requestID string, counterID, ticketID *int64, response []byte) error {
	if requestID == "" {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_action_requests (request_id, action, counter_id, ticket_id, response_json)
		VALUES ($1, $2, $3, $4, $5)
	`, requestID, action, counterID, ticketID, response)
	if isUniqueViolation(err) {
		return store.ErrRequestConflict
	}
	return err
}

// lockTicket takes the ticket row lock and returns its status and counter.
func lockTicket(ctx context.Context, tx pgx.Tx, ticketID int64) (string, *int64, error) {
	var status string
	var counterNull sql.NullInt64
	row := tx.QueryRow(ctx, `SELECT status, counter_id FROM tickets WHERE ticket_id = $1 FOR UPDATE`, ticketID)
	if err := row.Scan(&status, &counterNull); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, store.ErrTicketNotFound
		}
		return "", nil, err
	}
	return status, nullInt64Ptr(counterNull), nil
}

// guardTransition locks the ticket and fails with ErrInvalidState when its
// current status does not allow action.
func guardTransition(ctx context.Context, tx pgx.Tx, action string, ticketID int64) (*int64, error) {
	status, counterID, err := lockTicket(ctx, tx, ticketID)
	if err != nil {
		return nil, err
	}
	if !store.ValidTransition(action, status) {
		return nil, store.ErrInvalidState
	}
	return counterID, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func occurredAt(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value.UTC()
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func nullInt64Ptr(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	return &value.Int64
}

func int64Ptr(value int64) *int64 {
	return &value
}
