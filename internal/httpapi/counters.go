package httpapi

import (
	"net/http"
	"strings"

	"qms/turno-service/internal/models"
	"qms/turno-service/internal/store"

	"github.com/shopspring/decimal"
)

type counterActionRequest struct {
	RequestID string `json:"request_id"`
	CounterID int64  `json:"counter_id"`
	Reason    string `json:"reason"`
}

type soldProductRequest struct {
	ProductID int64            `json:"product_id"`
	Quantity  int              `json:"quantity"`
	Name      string           `json:"name"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Discount  *decimal.Decimal `json:"discount"`
}

type finishRequest struct {
	RequestID            string               `json:"request_id"`
	CounterID            int64                `json:"counter_id"`
	Products             []soldProductRequest `json:"products"`
	Total                *decimal.Decimal     `json:"total"`
	PrescriptionReceived bool                 `json:"prescription_received"`
}

type myCounterResponse struct {
	Counter models.Counter    `json:"counter"`
	Queue   models.QueueState `json:"queue"`
}

func (h *Handler) handleQueueState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counterID, ok := parseID(r.URL.Query().Get("counter_id"))
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "counter_id is required")
		return
	}
	state, err := h.store.QueueState(r.Context(), counterID)
	if err != nil {
		writeStoreError(w, requestIDFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleGlobalQueueState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	states, err := h.store.GlobalQueueState(r.Context())
	if err != nil {
		writeStoreError(w, requestIDFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counters": states})
}

func (h *Handler) handleCounterStates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	states, err := h.store.CounterStates(r.Context())
	if err != nil {
		writeStoreError(w, requestIDFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counters": states})
}

func (h *Handler) handleMyCounter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	info, ok := requireStaff(w, r)
	if !ok {
		return
	}
	counter, err := h.store.CounterForOperator(r.Context(), info.OperatorID)
	if err != nil {
		writeStoreError(w, requestIDFromRequest(r), err)
		return
	}
	state, err := h.store.QueueState(r.Context(), counter.CounterID)
	if err != nil {
		writeStoreError(w, requestIDFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, myCounterResponse{Counter: counter, Queue: state})
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	input, ok := h.counterAction(w, r)
	if !ok {
		return
	}
	ticket, err := h.store.CallNext(r.Context(), input)
	if err != nil {
		writeStoreError(w, input.RequestID, err)
		return
	}
	writeJSON(w, http.StatusOK, ticketResponse{Ticket: ticket, Durations: ticket.Durations(h.now())})
}

func (h *Handler) handleCancelCurrent(w http.ResponseWriter, r *http.Request) {
	input, ok := h.counterAction(w, r)
	if !ok {
		return
	}
	ticket, err := h.store.CancelCurrent(r.Context(), input)
	if err != nil {
		writeStoreError(w, input.RequestID, err)
		return
	}
	writeJSON(w, http.StatusOK, ticketResponse{Ticket: ticket, Durations: ticket.Durations(h.now())})
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	input, ok := h.counterAction(w, r)
	if !ok {
		return
	}
	result, err := h.store.ToggleCounter(r.Context(), input)
	if err != nil {
		writeStoreError(w, input.RequestID, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	info, ok := requireStaff(w, r)
	if !ok {
		return
	}
	var req finishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	requestID, ok := requireRequestID(w, req.RequestID)
	if !ok {
		return
	}
	counterID, ok := h.resolveCounter(w, r, info, requestID, req.CounterID)
	if !ok {
		return
	}

	products := make([]store.SoldProduct, 0, len(req.Products))
	for _, item := range req.Products {
		if item.ProductID <= 0 || item.Quantity <= 0 {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "each product needs product_id and a positive quantity")
			return
		}
		products = append(products, store.SoldProduct{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Name:      strings.TrimSpace(item.Name),
			UnitPrice: item.UnitPrice,
			Discount:  item.Discount,
		})
	}

	result, err := h.store.FinishTicket(r.Context(), store.FinishInput{
		CounterActionInput: store.CounterActionInput{
			RequestID:  requestID,
			CounterID:  counterID,
			OperatorID: info.OperatorID,
			OccurredAt: h.now(),
		},
		Products:             products,
		Total:                req.Total,
		PrescriptionReceived: req.PrescriptionReceived,
	})
	if err != nil {
		writeStoreError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// counterAction decodes and authorizes the body shared by the plain counter
// actions.
func (h *Handler) counterAction(w http.ResponseWriter, r *http.Request) (store.CounterActionInput, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return store.CounterActionInput{}, false
	}
	info, ok := requireStaff(w, r)
	if !ok {
		return store.CounterActionInput{}, false
	}
	var req counterActionRequest
	if !decodeJSON(w, r, &req) {
		return store.CounterActionInput{}, false
	}
	requestID, ok := requireRequestID(w, req.RequestID)
	if !ok {
		return store.CounterActionInput{}, false
	}
	counterID, ok := h.resolveCounter(w, r, info, requestID, req.CounterID)
	if !ok {
		return store.CounterActionInput{}, false
	}
	return store.CounterActionInput{
		RequestID:  requestID,
		CounterID:  counterID,
		OperatorID: info.OperatorID,
		Reason:     strings.TrimSpace(req.Reason),
		OccurredAt: h.now(),
	}, true
}

// resolveCounter maps the caller to the counter it may act on. Employees are
// pinned to their own counter; admins may name any counter.
func (h *Handler) resolveCounter(w http.ResponseWriter, r *http.Request, info authInfo, requestID string, requested int64) (int64, bool) {
	if info.Role == models.RoleAdmin && requested > 0 {
		return requested, true
	}
	counter, err := h.store.CounterForOperator(r.Context(), info.OperatorID)
	if err != nil {
		writeStoreError(w, requestID, err)
		return 0, false
	}
	if requested > 0 && requested != counter.CounterID {
		writeStoreError(w, requestID, store.ErrAccessDenied)
		return 0, false
	}
	return counter.CounterID, true
}
