package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeLineTotal(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		discount string
		qty      int
		want     string
	}{
		{"plain", "10.50", "0", 2, "21"},
		{"discounted", "10.50", "0.50", 3, "30"},
		{"discount above price", "1", "2", 4, "0"},
		{"rounded", "0.333", "0", 3, "1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeLineTotal(decimal.RequireFromString(tc.price), decimal.RequireFromString(tc.discount), tc.qty)
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestDecodeInvoiceLinesCurrentKeys(t *testing.T) {
	lines := DecodeInvoiceLines(`[{"product_id":4,"name":"Ibuprofeno","quantity":2,"unit_price":"3.25","discount":"0.25","line_total":"6.00","requires_prescription":true}]`)
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	line := lines[0]
	if line.ProductID != 4 || line.Name != "Ibuprofeno" || line.Quantity != 2 || !line.RequiresPrescription {
		t.Fatalf("unexpected line: %+v", line)
	}
	if !line.LineTotal.Equal(decimal.RequireFromString("6")) {
		t.Fatalf("unexpected total %s", line.LineTotal)
	}
}

func TestDecodeInvoiceLinesLegacyKeys(t *testing.T) {
	lines := DecodeInvoiceLines(`[{"id":7,"nombre":"Amoxicilina","cantidad":3,"precio":2.5,"descuento":0.5,"requireOrden":true}]`)
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	line := lines[0]
	if line.ProductID != 7 || line.Name != "Amoxicilina" || line.Quantity != 3 || !line.RequiresPrescription {
		t.Fatalf("unexpected line: %+v", line)
	}
	if !line.LineTotal.Equal(decimal.RequireFromString("6")) {
		t.Fatalf("expected computed total 6, got %s", line.LineTotal)
	}
}

func TestDecodeInvoiceLinesDefaultsQuantity(t *testing.T) {
	lines := DecodeInvoiceLines(`[{"product_id":1,"unit_price":"4"}]`)
	if len(lines) != 1 || lines[0].Quantity != 1 || !lines[0].LineTotal.Equal(decimal.RequireFromString("4")) {
		t.Fatalf("unexpected lines: %+v", lines)
	}
}

func TestDecodeInvoiceLinesMalformed(t *testing.T) {
	for _, raw := range []string{"", "not json", `{"product_id":1}`, `[{"quantity":"two"}]`} {
		lines := DecodeInvoiceLines(raw)
		if lines == nil || len(lines) != 0 {
			t.Fatalf("expected empty list for %q, got %+v", raw, lines)
		}
	}
}

func TestEncodeInvoiceLinesRoundTrip(t *testing.T) {
	raw, err := EncodeInvoiceLines(nil)
	if err != nil || raw != "[]" {
		t.Fatalf("expected empty array, got %q %v", raw, err)
	}

	in := []InvoiceLine{{
		ProductID: 2,
		Name:      "Paracetamol",
		Quantity:  1,
		UnitPrice: decimal.RequireFromString("1.20"),
		Discount:  decimal.Zero,
		LineTotal: decimal.RequireFromString("1.20"),
	}}
	raw, err = EncodeInvoiceLines(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := DecodeInvoiceLines(raw)
	if len(out) != 1 || out[0].ProductID != 2 || !out[0].UnitPrice.Equal(in[0].UnitPrice) {
		t.Fatalf("unexpected round trip: %+v", out)
	}
}
