package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"qms/turno-service/internal/models"
	"qms/turno-service/internal/store"

	"github.com/jackc/pgx/v5"
)

const invoiceSelect = `
	SELECT i.invoice_id, i.ticket_id, t.ticket_number, i.counter_id, i.products_sold, i.total, i.prescription_received, i.created_at
	FROM invoices i
	JOIN tickets t ON t.ticket_id = i.ticket_id
`

func scanInvoice(row pgx.Row) (models.Invoice, error) {
	var invoice models.Invoice
	var counterNull sql.NullInt64
	var productsSold string
	if err := row.Scan(&invoice.InvoiceID, &invoice.TicketID, &invoice.TicketNumber, &counterNull, &productsSold, &invoice.Total, &invoice.PrescriptionReceived, &invoice.CreatedAt); err != nil {
		return models.Invoice{}, err
	}
	invoice.CounterID = nullInt64Ptr(counterNull)
	invoice.Lines = models.DecodeInvoiceLines(productsSold)
	return invoice, nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID int64) (models.Invoice, error) {
	invoice, err := scanInvoice(s.pool.QueryRow(ctx, invoiceSelect+` WHERE i.invoice_id = $1`, invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Invoice{}, store.ErrInvoiceNotFound
		}
		return models.Invoice{}, err
	}
	return invoice, nil
}

// ListInvoices returns invoices newest first. Filters combine; a zero Day
// means any day.
func (s *Store) ListInvoices(ctx context.Context, filter store.InvoiceFilter) ([]models.Invoice, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var conditions []string
	var args []interface{}
	if filter.TicketID > 0 {
		args = append(args, filter.TicketID)
		conditions = append(conditions, fmt.Sprintf("i.ticket_id = $%d", len(args)))
	}
	if filter.CounterID > 0 {
		args = append(args, filter.CounterID)
		conditions = append(conditions, fmt.Sprintf("i.counter_id = $%d", len(args)))
	}
	if !filter.Day.IsZero() {
		day := filter.Day.UTC()
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		args = append(args, start, start.AddDate(0, 0, 1))
		conditions = append(conditions, fmt.Sprintf("i.created_at >= $%d AND i.created_at < $%d", len(args)-1, len(args)))
	}

	query := invoiceSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY i.created_at DESC, i.invoice_id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := []models.Invoice{}
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}
