package models

import "time"

const (
	MovementPending = "pending"
	MovementApplied = "applied"
	MovementFailed  = "failed"
)

// StockMovement tracks the deferred stock decrement of one invoice line.
type StockMovement struct {
	MovementID  int64     `json:"movement_id"`
	InvoiceID   int64     `json:"invoice_id"`
	LineNo      int       `json:"line_no"`
	ProductID   int64     `json:"product_id"`
	Quantity    int       `json:"quantity"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	StockBefore *int      `json:"stock_before,omitempty"`
	StockAfter  *int      `json:"stock_after,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
