package httpapi

import (
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qms/turno-service/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store store.TicketStore
	now   func() time.Time
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code     string         `json:"code"`
	Category store.Category `json:"category,omitempty"`
	Message  string         `json:"message"`
}

type Options struct {
	Now func() time.Time
}

func NewHandler(store store.TicketStore, options Options) *Handler {
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{
		store: store,
		now:   now,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/v1/tickets", h.handleCreateTicket)
	mux.HandleFunc("/api/v1/tickets/manual", h.handleCreateManualTicket)
	mux.HandleFunc("/api/v1/tickets/active", h.handleActiveTicket)
	mux.HandleFunc("/api/v1/tickets/", h.handleTicketActions)
	mux.HandleFunc("/api/v1/queue", h.handleQueueState)
	mux.HandleFunc("/api/v1/queue/global", h.handleGlobalQueueState)
	mux.HandleFunc("/api/v1/counters", h.handleCounterStates)
	mux.HandleFunc("/api/v1/counters/mine", h.handleMyCounter)
	mux.HandleFunc("/api/v1/counters/call-next", h.handleCallNext)
	mux.HandleFunc("/api/v1/counters/finish", h.handleFinish)
	mux.HandleFunc("/api/v1/counters/cancel-current", h.handleCancelCurrent)
	mux.HandleFunc("/api/v1/counters/toggle", h.handleToggle)
	mux.HandleFunc("/api/v1/invoices", h.handleListInvoices)
	mux.HandleFunc("/api/v1/invoices/", h.handleGetInvoice)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

// requireRequestID validates the idempotency key every mutating call carries.
func requireRequestID(w http.ResponseWriter, requestID string) (string, bool) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "request_id is required")
		return "", false
	}
	if !isValidUUID(requestID) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return "", false
	}
	return requestID, true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func parseID(value string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrServiceDisabled):
		return http.StatusUnprocessableEntity, "service_disabled", "service is disabled"
	case errors.Is(err, store.ErrClientNotFound):
		return http.StatusNotFound, "client_not_found", "client not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrCounterNotFound):
		return http.StatusNotFound, "counter_not_found", "counter not found"
	case errors.Is(err, store.ErrInvoiceNotFound):
		return http.StatusNotFound, "invoice_not_found", "invoice not found"
	case errors.Is(err, store.ErrNoCounterAssigned):
		return http.StatusNotFound, "no_counter_assigned", "no counter is assigned to this operator"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrAlreadyServing):
		return http.StatusConflict, "already_serving", "finish the current ticket first"
	case errors.Is(err, store.ErrQueueEmpty):
		return http.StatusConflict, "queue_empty", "no tickets are waiting at this counter"
	case errors.Is(err, store.ErrNothingInService):
		return http.StatusConflict, "nothing_in_service", "no ticket is in service at this counter"
	case errors.Is(err, store.ErrCounterServing):
		return http.StatusConflict, "counter_serving", "cannot deactivate a counter while serving"
	case errors.Is(err, store.ErrRequestConflict):
		return http.StatusConflict, "request_id_conflict", "request_id was already used for a different request"
	case errors.Is(err, store.ErrNoCountersAvailable):
		return http.StatusServiceUnavailable, "no_counters_available", "no counters are available, try again later"
	case errors.Is(err, store.ErrTicketNumberBusy):
		return http.StatusServiceUnavailable, "ticket_number_busy", "could not allocate a ticket number, try again"
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", "access denied"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeStoreError(w http.ResponseWriter, requestID string, err error) {
	status, code, msg := mapError(err)
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:     code,
			Category: store.CategoryOf(err),
			Message:  msg,
		},
	})
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
