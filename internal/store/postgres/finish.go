package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"qms/turno-service/internal/models"
	"qms/turno-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// FinishTicket closes the counter's current ticket and, when products were
// sold, records the invoice with one pending stock movement per line. Stock is
// decremented after commit; a failure there never undoes the finish.
func (s *Store) FinishTicket(ctx context.Context, input store.FinishInput) (store.FinishResult, error) {
	if input.CounterID <= 0 {
		return store.FinishResult{}, store.ErrInvalidInput
	}
	if err := validateSoldProducts(input.Products, input.Total); err != nil {
		return store.FinishResult{}, err
	}

	result, invoiceID, err := s.finishTx(ctx, input)
	if err != nil {
		return store.FinishResult{}, err
	}
	if invoiceID != 0 {
		result.Movements = s.applyInvoiceMovements(ctx, invoiceID)
	}
	return result, nil
}

func validateSoldProducts(products []store.SoldProduct, total *decimal.Decimal) error {
	for _, product := range products {
		if product.ProductID <= 0 || product.Quantity <= 0 {
			return fmt.Errorf("%w: product lines need a product id and a positive quantity", store.ErrInvalidInput)
		}
		if product.UnitPrice != nil && product.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: negative unit price", store.ErrInvalidInput)
		}
		if product.Discount != nil && product.Discount.IsNegative() {
			return fmt.Errorf("%w: negative discount", store.ErrInvalidInput)
		}
	}
	if total != nil && total.IsNegative() {
		return fmt.Errorf("%w: negative total", store.ErrInvalidInput)
	}
	return nil
}

func (s *Store) finishTx(ctx context.Context, input store.FinishInput) (result store.FinishResult, invoiceID int64, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.FinishResult{}, 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	record, found, err := findActionRequest(ctx, tx, store.ActionFinish, input.RequestID)
	if err != nil {
		return store.FinishResult{}, 0, err
	}
	if found && !record.sameCounter(input.CounterID) {
		return store.FinishResult{}, 0, store.ErrRequestConflict
	}
	if found && record.TicketID != nil {
		result, err = s.loadFinishResult(ctx, tx, *record.TicketID)
		if err != nil {
			return store.FinishResult{}, 0, err
		}
		return result, 0, tx.Commit(ctx)
	}

	if err = lockRouting(ctx, tx); err != nil {
		return store.FinishResult{}, 0, err
	}
	if _, err = lockCounter(ctx, tx, input.CounterID); err != nil {
		return store.FinishResult{}, 0, err
	}
	ticketID, serving, err := inServiceTicketID(ctx, tx, input.CounterID)
	if err != nil {
		return store.FinishResult{}, 0, err
	}
	if !serving {
		return store.FinishResult{}, 0, store.ErrNothingInService
	}
	if _, err = guardTransition(ctx, tx, store.ActionFinish, ticketID); err != nil {
		return store.FinishResult{}, 0, err
	}

	at := occurredAt(input.OccurredAt)
	if _, err = tx.Exec(ctx, `
		UPDATE tickets
		SET status = $2, updated_at = $3
		WHERE ticket_id = $1
	`, ticketID, models.StatusFinished, at); err != nil {
		return store.FinishResult{}, 0, err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE schedules
		SET service_end_at = $2
		WHERE schedule_id = (SELECT schedule_id FROM tickets WHERE ticket_id = $1)
	`, ticketID, at); err != nil {
		return store.FinishResult{}, 0, err
	}

	ticket, err := getTicket(ctx, tx, ticketID)
	if err != nil {
		return store.FinishResult{}, 0, err
	}
	result.Ticket = ticket

	if len(input.Products) > 0 {
		invoice, err := insertInvoice(ctx, tx, ticket, input)
		if err != nil {
			return store.FinishResult{}, 0, err
		}
		result.Invoice = &invoice
		invoiceID = invoice.InvoiceID
	}

	if err = renumber(ctx, tx, input.CounterID); err != nil {
		return store.FinishResult{}, 0, err
	}
	if err = recordTicketChange(ctx, tx, "ticket.finished", ticket, nil); err != nil {
		return store.FinishResult{}, 0, err
	}
	if err = insertActionRequest(ctx, tx, store.ActionFinish, input.RequestID, int64Ptr(input.CounterID), int64Ptr(ticketID), nil); err != nil {
		return store.FinishResult{}, 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return store.FinishResult{}, 0, err
	}
	return result, invoiceID, nil
}

type catalogEntry struct {
	Name                 string
	Price                decimal.Decimal
	Discount             decimal.Decimal
	RequiresPrescription bool
}

func lookupProduct(ctx context.Context, tx pgx.Tx, productID int64) (catalogEntry, bool, error) {
	var entry catalogEntry
	row := tx.QueryRow(ctx, `
		SELECT name, price, discount, requires_prescription
		FROM products
		WHERE product_id = $1
	`, productID)
	if err := row.Scan(&entry.Name, &entry.Price, &entry.Discount, &entry.RequiresPrescription); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalogEntry{}, false, nil
		}
		return catalogEntry{}, false, err
	}
	return entry, true, nil
}

// buildInvoiceLines prices each sold product. Caller supplied prices win over
// the catalog; unknown products are still invoiced and fail at stock time.
func buildInvoiceLines(ctx context.Context, tx pgx.Tx, products []store.SoldProduct) ([]models.InvoiceLine, decimal.Decimal, error) {
	lines := make([]models.InvoiceLine, 0, len(products))
	sum := decimal.Zero
	for _, product := range products {
		entry, found, err := lookupProduct(ctx, tx, product.ProductID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		line := models.InvoiceLine{
			ProductID: product.ProductID,
			Name:      strings.TrimSpace(product.Name),
			Quantity:  product.Quantity,
		}
		if found {
			if line.Name == "" {
				line.Name = entry.Name
			}
			line.UnitPrice = entry.Price
			line.Discount = entry.Discount
			line.RequiresPrescription = entry.RequiresPrescription
		}
		if line.Name == "" {
			line.Name = fmt.Sprintf("product %d", product.ProductID)
		}
		if product.UnitPrice != nil {
			line.UnitPrice = *product.UnitPrice
		}
		if product.Discount != nil {
			line.Discount = *product.Discount
		}
		line.LineTotal = models.ComputeLineTotal(line.UnitPrice, line.Discount, line.Quantity)
		sum = sum.Add(line.LineTotal)
		lines = append(lines, line)
	}
	return lines, sum, nil
}

func insertInvoice(ctx context.Context, tx pgx.Tx, ticket models.Ticket, input store.FinishInput) (models.Invoice, error) {
	lines, sum, err := buildInvoiceLines(ctx, tx, input.Products)
	if err != nil {
		return models.Invoice{}, err
	}
	total := sum
	if input.Total != nil {
		total = input.Total.Round(2)
	}
	encoded, err := models.EncodeInvoiceLines(lines)
	if err != nil {
		return models.Invoice{}, err
	}

	invoice := models.Invoice{
		TicketID:             ticket.TicketID,
		TicketNumber:         ticket.TicketNumber,
		CounterID:            int64Ptr(input.CounterID),
		Lines:                lines,
		Total:                total,
		PrescriptionReceived: input.PrescriptionReceived,
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO invoices (ticket_id, counter_id, products_sold, total, prescription_received, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING invoice_id, created_at
	`, ticket.TicketID, input.CounterID, encoded, total, input.PrescriptionReceived, occurredAt(input.OccurredAt))
	if err := row.Scan(&invoice.InvoiceID, &invoice.CreatedAt); err != nil {
		return models.Invoice{}, err
	}

	for i, line := range lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_movements (invoice_id, line_no, product_id, quantity, status)
			VALUES ($1, $2, $3, $4, $5)
		`, invoice.InvoiceID, i+1, line.ProductID, line.Quantity, models.MovementPending); err != nil {
			return models.Invoice{}, err
		}
	}

	if err := insertOutboxEvent(ctx, tx, "invoice.created", invoice.CounterID, invoice); err != nil {
		return models.Invoice{}, err
	}
	return invoice, nil
}

func (s *Store) loadFinishResult(ctx context.Context, q querier, ticketID int64) (store.FinishResult, error) {
	ticket, err := getTicket(ctx, q, ticketID)
	if err != nil {
		return store.FinishResult{}, err
	}
	result := store.FinishResult{Ticket: ticket}
	invoice, err := scanInvoice(q.QueryRow(ctx, invoiceSelect+` WHERE i.ticket_id = $1`, ticketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return result, nil
		}
		return store.FinishResult{}, err
	}
	result.Invoice = &invoice
	result.Movements, err = listMovements(ctx, q, invoice.InvoiceID)
	if err != nil {
		log.Printf("finish replay movements invoice_id=%d err=%v", invoice.InvoiceID, err)
	}
	return result, nil
}
