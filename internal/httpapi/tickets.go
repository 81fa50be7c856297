package httpapi

import (
	"net/http"
	"strings"

	"qms/turno-service/internal/models"
	"qms/turno-service/internal/store"
)

type createTicketRequest struct {
	RequestID      string `json:"request_id"`
	ServiceID      int64  `json:"service_id"`
	ClientDocument string `json:"client_document"`
}

type manualTicketRequest struct {
	RequestID string `json:"request_id"`
	ServiceID int64  `json:"service_id"`
	Document  string `json:"document"`
}

type cancelTicketRequest struct {
	RequestID      string `json:"request_id"`
	ClientDocument string `json:"client_document"`
}

// createTicketResponse tells a fresh ticket apart from one the client
// already held.
type createTicketResponse struct {
	Result string        `json:"result"`
	Ticket models.Ticket `json:"ticket"`
}

type ticketResponse struct {
	Ticket    models.Ticket    `json:"ticket"`
	Durations models.Durations `json:"durations"`
}

type historyResponse struct {
	TicketID    int64               `json:"ticket_id"`
	Events      []store.TicketEvent `json:"events"`
	ChainIntact bool                `json:"chain_intact"`
	BrokenAtSeq int                 `json:"broken_at_seq,omitempty"`
}

func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req createTicketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	requestID, ok := requireRequestID(w, req.RequestID)
	if !ok {
		return
	}
	req.ClientDocument = strings.TrimSpace(req.ClientDocument)
	if req.ServiceID <= 0 || req.ClientDocument == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "service_id and client_document are required")
		return
	}

	result, err := h.store.CreateTicket(r.Context(), store.CreateTicketInput{
		RequestID:      requestID,
		ServiceID:      req.ServiceID,
		ClientDocument: req.ClientDocument,
		CreatedAt:      h.now(),
	})
	if err != nil {
		writeStoreError(w, requestID, err)
		return
	}
	writeCreateResult(w, result)
}

func (h *Handler) handleCreateManualTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	info, ok := requireStaff(w, r)
	if !ok {
		return
	}
	var req manualTicketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	requestID, ok := requireRequestID(w, req.RequestID)
	if !ok {
		return
	}
	req.Document = strings.TrimSpace(req.Document)
	if req.ServiceID <= 0 || req.Document == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "service_id and document are required")
		return
	}

	result, err := h.store.CreateManualTicket(r.Context(), store.ManualTicketInput{
		RequestID:  requestID,
		ServiceID:  req.ServiceID,
		Document:   req.Document,
		OperatorID: info.OperatorID,
		CreatedAt:  h.now(),
	})
	if err != nil {
		writeStoreError(w, requestID, err)
		return
	}
	writeCreateResult(w, result)
}

func writeCreateResult(w http.ResponseWriter, result store.CreateResult) {
	if !result.Created {
		writeJSON(w, http.StatusOK, createTicketResponse{Result: "already_active", Ticket: result.Ticket})
		return
	}
	writeJSON(w, http.StatusCreated, createTicketResponse{Result: "created", Ticket: result.Ticket})
}

func (h *Handler) handleActiveTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	document := strings.TrimSpace(r.URL.Query().Get("document"))
	if document == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "document is required")
		return
	}
	ticket, found, err := h.store.ActiveTicketForClient(r.Context(), document)
	if err != nil {
		writeStoreError(w, requestIDFromRequest(r), err)
		return
	}
	if !found {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "ticket_not_found", "no active ticket for this document")
		return
	}
	writeJSON(w, http.StatusOK, ticketResponse{Ticket: ticket, Durations: ticket.Durations(h.now())})
}

func (h *Handler) handleTicketActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	ticketID, ok := parseID(parts[0])
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "ticket id must be a positive integer")
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGetTicket(w, r, ticketID)
	case len(parts) == 2 && parts[1] == "history":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTicketHistory(w, r, ticketID)
	case len(parts) == 2 && parts[1] == "cancel":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCancelTicket(w, r, ticketID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID int64) {
	ticket, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		writeStoreError(w, requestIDFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, ticketResponse{Ticket: ticket, Durations: ticket.Durations(h.now())})
}

func (h *Handler) handleTicketHistory(w http.ResponseWriter, r *http.Request, ticketID int64) {
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	events, err := h.store.ListTicketEvents(r.Context(), ticketID)
	if err != nil {
		writeStoreError(w, requestIDFromRequest(r), err)
		return
	}
	broken := store.VerifyChain(events)
	writeJSON(w, http.StatusOK, historyResponse{
		TicketID:    ticketID,
		Events:      events,
		ChainIntact: broken == 0,
		BrokenAtSeq: broken,
	})
}

func (h *Handler) handleCancelTicket(w http.ResponseWriter, r *http.Request, ticketID int64) {
	var req cancelTicketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	requestID, ok := requireRequestID(w, req.RequestID)
	if !ok {
		return
	}
	info, _ := authFromContext(r.Context())
	staff := info.Role.IsStaff()
	document := strings.TrimSpace(req.ClientDocument)
	if !staff && document == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "client_document is required")
		return
	}
	ticket, err := h.store.CancelTicket(r.Context(), store.CancelTicketInput{
		RequestID:      requestID,
		TicketID:       ticketID,
		ClientDocument: document,
		Staff:          staff,
		OccurredAt:     h.now(),
	})
	if err != nil {
		writeStoreError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, ticketResponse{Ticket: ticket, Durations: ticket.Durations(h.now())})
}
