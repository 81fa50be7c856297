package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Invoice struct {
	InvoiceID            int64           `json:"invoice_id"`
	TicketID             int64           `json:"ticket_id"`
	TicketNumber         int64           `json:"ticket_number,omitempty"`
	CounterID            *int64          `json:"counter_id,omitempty"`
	Lines                []InvoiceLine   `json:"products"`
	Total                decimal.Decimal `json:"total"`
	PrescriptionReceived bool            `json:"prescription_received"`
	CreatedAt            time.Time       `json:"created_at"`
}

type InvoiceLine struct {
	ProductID            int64           `json:"product_id"`
	Name                 string          `json:"name"`
	Quantity             int             `json:"quantity"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	Discount             decimal.Decimal `json:"discount"`
	LineTotal            decimal.Decimal `json:"line_total"`
	RequiresPrescription bool            `json:"requires_prescription,omitempty"`
}

// ComputeLineTotal returns (unit price - discount) * quantity, never below zero.
func ComputeLineTotal(unitPrice, discount decimal.Decimal, quantity int) decimal.Decimal {
	net := unitPrice.Sub(discount)
	if net.IsNegative() {
		net = decimal.Zero
	}
	return net.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

// legacyLine accepts both the current keys and the ones written by the
// previous desk application.
type legacyLine struct {
	ProductID            *int64           `json:"product_id"`
	ID                   *int64           `json:"id"`
	Name                 string           `json:"name"`
	Nombre               string           `json:"nombre"`
	Quantity             *int             `json:"quantity"`
	Cantidad             *int             `json:"cantidad"`
	UnitPrice            *decimal.Decimal `json:"unit_price"`
	Precio               *decimal.Decimal `json:"precio"`
	Discount             *decimal.Decimal `json:"discount"`
	Descuento            *decimal.Decimal `json:"descuento"`
	LineTotal            *decimal.Decimal `json:"line_total"`
	PrecioTotal          *decimal.Decimal `json:"precio_total"`
	RequiresPrescription bool             `json:"requires_prescription"`
	RequireOrden         bool             `json:"requireOrden"`
}

// DecodeInvoiceLines parses a stored products payload. Malformed payloads
// yield an empty list instead of an error.
func DecodeInvoiceLines(raw string) []InvoiceLine {
	if raw == "" {
		return []InvoiceLine{}
	}
	var parsed []legacyLine
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return []InvoiceLine{}
	}
	lines := make([]InvoiceLine, 0, len(parsed))
	for _, item := range parsed {
		line := InvoiceLine{
			Name:                 firstNonEmpty(item.Name, item.Nombre),
			Quantity:             1,
			RequiresPrescription: item.RequiresPrescription || item.RequireOrden,
		}
		if id := firstInt64(item.ProductID, item.ID); id != nil {
			line.ProductID = *id
		}
		if qty := firstInt(item.Quantity, item.Cantidad); qty != nil {
			line.Quantity = *qty
		}
		if price := firstDecimal(item.UnitPrice, item.Precio); price != nil {
			line.UnitPrice = *price
		}
		if discount := firstDecimal(item.Discount, item.Descuento); discount != nil {
			line.Discount = *discount
		}
		if total := firstDecimal(item.LineTotal, item.PrecioTotal); total != nil {
			line.LineTotal = *total
		} else {
			line.LineTotal = ComputeLineTotal(line.UnitPrice, line.Discount, line.Quantity)
		}
		lines = append(lines, line)
	}
	return lines
}

func EncodeInvoiceLines(lines []InvoiceLine) (string, error) {
	if lines == nil {
		lines = []InvoiceLine{}
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func firstInt64(values ...*int64) *int64 {
	for _, value := range values {
		if value != nil {
			return value
		}
	}
	return nil
}

func firstInt(values ...*int) *int {
	for _, value := range values {
		if value != nil {
			return value
		}
	}
	return nil
}

func firstDecimal(values ...*decimal.Decimal) *decimal.Decimal {
	for _, value := range values {
		if value != nil {
			return value
		}
	}
	return nil
}
