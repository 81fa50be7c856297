package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"qms/turno-service/internal/store"
)

func (h *Handler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}

	query := r.URL.Query()
	var filter store.InvoiceFilter
	if raw := query.Get("ticket_id"); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "ticket_id must be a positive integer")
			return
		}
		filter.TicketID = id
	}
	if raw := query.Get("counter_id"); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "counter_id must be a positive integer")
			return
		}
		filter.CounterID = id
	}
	if raw := strings.TrimSpace(query.Get("date")); raw != "" {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
			return
		}
		filter.Day = day
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	invoices, err := h.store.ListInvoices(r.Context(), filter)
	if err != nil {
		writeStoreError(w, requestIDFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"invoices": invoices})
}

// handleGetInvoice serves reads only; invoices are never deleted.
func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	invoiceID, ok := parseID(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/invoices/"), "/"))
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "invoice id must be a positive integer")
		return
	}
	invoice, err := h.store.GetInvoice(r.Context(), invoiceID)
	if err != nil {
		writeStoreError(w, requestIDFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}
