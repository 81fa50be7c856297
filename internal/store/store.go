package store

import (
	"context"
	"encoding/json"
	"time"

	"qms/turno-service/internal/models"

	"github.com/shopspring/decimal"
)

type CreateTicketInput struct {
	RequestID      string
	ServiceID      int64
	ClientDocument string
	CreatedAt      time.Time
}

// ManualTicketInput is a desk-entered ticket for a walk-in who may not be a
// registered client.
type ManualTicketInput struct {
	RequestID  string
	ServiceID  int64
	Document   string
	OperatorID string
	CreatedAt  time.Time
}

// CancelTicketInput cancels a waiting ticket. ClientDocument must match the
// ticket's holder unless Staff is set.
type CancelTicketInput struct {
	RequestID      string
	TicketID       int64
	ClientDocument string
	Staff          bool
	OccurredAt     time.Time
}

type CounterActionInput struct {
	RequestID  string
	CounterID  int64
	OperatorID string
	Reason     string
	OccurredAt time.Time
}

type SoldProduct struct {
	ProductID int64
	Quantity  int
	Name      string
	UnitPrice *decimal.Decimal
	Discount  *decimal.Decimal
}

type FinishInput struct {
	CounterActionInput
	Products             []SoldProduct
	Total                *decimal.Decimal
	PrescriptionReceived bool
}

type InvoiceFilter struct {
	TicketID  int64
	CounterID int64
	Day       time.Time
	Limit     int
}

// CreateResult carries either a freshly created ticket or, when Created is
// false, the ticket the client already holds.
type CreateResult struct {
	Ticket  models.Ticket
	Created bool
}

type FinishResult struct {
	Ticket    models.Ticket          `json:"ticket"`
	Invoice   *models.Invoice        `json:"invoice,omitempty"`
	Movements []models.StockMovement `json:"stock_movements,omitempty"`
}

type ToggleResult struct {
	Counter    models.Counter  `json:"counter"`
	Reassigned []models.Ticket `json:"reassigned,omitempty"`
	Stranded   int             `json:"stranded"`
}

type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (CreateResult, error)
	CreateManualTicket(ctx context.Context, input ManualTicketInput) (CreateResult, error)
	GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error)
	ActiveTicketForClient(ctx context.Context, document string) (models.Ticket, bool, error)
	CancelTicket(ctx context.Context, input CancelTicketInput) (models.Ticket, error)
	CallNext(ctx context.Context, input CounterActionInput) (models.Ticket, error)
	FinishTicket(ctx context.Context, input FinishInput) (FinishResult, error)
	CancelCurrent(ctx context.Context, input CounterActionInput) (models.Ticket, error)
	ToggleCounter(ctx context.Context, input CounterActionInput) (ToggleResult, error)
	QueueState(ctx context.Context, counterID int64) (models.QueueState, error)
	GlobalQueueState(ctx context.Context) ([]models.QueueState, error)
	CounterStates(ctx context.Context) ([]models.CounterState, error)
	CounterForOperator(ctx context.Context, operatorID string) (models.Counter, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]models.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID int64) (models.Invoice, error)
	ListTicketEvents(ctx context.Context, ticketID int64) ([]TicketEvent, error)
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	CounterID *int64          `json:"counter_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
