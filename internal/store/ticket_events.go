package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qms/turno-service/internal/models"
)

type TicketEvent struct {
	TicketID  int64           `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// TicketEventPayload is the snapshot recorded with every lifecycle event.
type TicketEventPayload struct {
	TicketID     int64      `json:"ticket_id"`
	TicketNumber int64      `json:"ticket_number"`
	Status       string     `json:"status"`
	ServiceID    int64      `json:"service_id"`
	CounterID    *int64     `json:"counter_id"`
	FromCounter  *int64     `json:"from_counter_id,omitempty"`
	Priority     bool       `json:"priority"`
	Position     int        `json:"position"`
	Reason       string     `json:"reason,omitempty"`
	ArrivalAt    *time.Time `json:"arrival_at,omitempty"`
	StartAt      *time.Time `json:"service_start_at,omitempty"`
	EndAt        *time.Time `json:"service_end_at,omitempty"`
}

func NewTicketEventPayload(ticket models.Ticket) TicketEventPayload {
	payload := TicketEventPayload{
		TicketID:     ticket.TicketID,
		TicketNumber: ticket.TicketNumber,
		Status:       ticket.Status,
		ServiceID:    ticket.ServiceID,
		CounterID:    ticket.CounterID,
		Priority:     ticket.Priority,
		Position:     ticket.Position,
		Reason:       ticket.CancelReason,
	}
	if !ticket.Schedule.ArrivalAt.IsZero() {
		arrival := ticket.Schedule.ArrivalAt
		payload.ArrivalAt = &arrival
	}
	switch ticket.Status {
	case models.StatusInService:
		start := ticket.Schedule.ServiceStartAt
		payload.StartAt = &start
	case models.StatusFinished:
		start := ticket.Schedule.ServiceStartAt
		end := ticket.Schedule.ServiceEndAt
		payload.StartAt = &start
		payload.EndAt = &end
	}
	return payload
}

func ComputeTicketEventHash(prevHash string, ticketID int64, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%d|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyChain recomputes every hash in order. It returns the sequence number
// of the first broken link, or 0 when the chain is intact.
func VerifyChain(events []TicketEvent) int {
	prev := ""
	for i, event := range events {
		if event.TicketSeq != i+1 || event.PrevHash != prev {
			return event.TicketSeq
		}
		if ComputeTicketEventHash(prev, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq) != event.Hash {
			return event.TicketSeq
		}
		prev = event.Hash
	}
	return 0
}

func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload TicketEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Ticket{}, err
		}
		if payload.TicketID != 0 {
			ticket.TicketID = payload.TicketID
		}
		if payload.TicketNumber != 0 {
			ticket.TicketNumber = payload.TicketNumber
		}
		if payload.ServiceID != 0 {
			ticket.ServiceID = payload.ServiceID
		}
		if payload.Status != "" {
			ticket.Status = payload.Status
		}
		ticket.CounterID = payload.CounterID
		ticket.Priority = payload.Priority
		ticket.Position = payload.Position
		if payload.Reason != "" {
			ticket.CancelReason = payload.Reason
		}
		if payload.ArrivalAt != nil {
			ticket.Schedule.ArrivalAt = *payload.ArrivalAt
			ticket.CreatedAt = *payload.ArrivalAt
		}
		if payload.StartAt != nil {
			ticket.Schedule.ServiceStartAt = *payload.StartAt
		}
		if payload.EndAt != nil {
			ticket.Schedule.ServiceEndAt = *payload.EndAt
		}
		ticket.UpdatedAt = event.CreatedAt
	}
	return ticket, nil
}
