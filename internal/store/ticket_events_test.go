package store

import (
	"encoding/json"
	"testing"
	"time"

	"qms/turno-service/internal/models"
)

func buildChain(t *testing.T, ticket models.Ticket, types []string, statuses []string) []TicketEvent {
	t.Helper()
	var events []TicketEvent
	prev := ""
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	for i, eventType := range types {
		ticket.Status = statuses[i]
		payload, err := json.Marshal(NewTicketEventPayload(ticket))
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		createdAt := at.Add(time.Duration(i) * time.Minute)
		hash := ComputeTicketEventHash(prev, ticket.TicketID, eventType, payload, createdAt, i+1)
		events = append(events, TicketEvent{
			TicketID:  ticket.TicketID,
			TicketSeq: i + 1,
			Type:      eventType,
			Payload:   payload,
			CreatedAt: createdAt,
			PrevHash:  prev,
			Hash:      hash,
		})
		prev = hash
	}
	return events
}

func TestVerifyChainIntact(t *testing.T) {
	counterID := int64(3)
	ticket := models.Ticket{TicketID: 41, TicketNumber: 1007, ServiceID: 2, CounterID: &counterID, Position: 1}
	events := buildChain(t, ticket, []string{"ticket.created", "ticket.called"}, []string{models.StatusWaiting, models.StatusInService})

	if broken := VerifyChain(events); broken != 0 {
		t.Fatalf("expected intact chain, broken at %d", broken)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	ticket := models.Ticket{TicketID: 41, TicketNumber: 1007, ServiceID: 2}
	events := buildChain(t, ticket, []string{"ticket.created", "ticket.called", "ticket.finished"}, []string{models.StatusWaiting, models.StatusInService, models.StatusFinished})
	events[1].Payload = json.RawMessage(`{"ticket_id":41,"status":"cancelled"}`)

	if broken := VerifyChain(events); broken != 2 {
		t.Fatalf("expected break at seq 2, got %d", broken)
	}
}

func TestRehydrateTicket(t *testing.T) {
	counterID := int64(5)
	arrival := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	ticket := models.Ticket{
		TicketID:     9,
		TicketNumber: 120,
		ServiceID:    1,
		CounterID:    &counterID,
		Priority:     true,
		Position:     1,
		Schedule:     models.Schedule{ArrivalAt: arrival, ServiceStartAt: arrival.Add(4 * time.Minute), ServiceEndAt: arrival.Add(9 * time.Minute)},
	}
	events := buildChain(t, ticket, []string{"ticket.created", "ticket.called", "ticket.finished"}, []string{models.StatusWaiting, models.StatusInService, models.StatusFinished})

	got, err := RehydrateTicket(events)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if got.TicketID != 9 || got.TicketNumber != 120 || got.Status != models.StatusFinished {
		t.Fatalf("unexpected ticket: %+v", got)
	}
	if got.CounterID == nil || *got.CounterID != 5 {
		t.Fatalf("expected counter 5, got %v", got.CounterID)
	}
	if !got.Schedule.ServiceEndAt.Equal(arrival.Add(9 * time.Minute)) {
		t.Fatalf("unexpected end of service: %s", got.Schedule.ServiceEndAt)
	}
}

func TestCategoryOf(t *testing.T) {
	cases := []struct {
		err  error
		want Category
	}{
		{ErrServiceDisabled, CategoryValidation},
		{ErrClientNotFound, CategoryNotFound},
		{ErrAlreadyServing, CategoryPrecondition},
		{ErrNoCountersAvailable, CategoryExhausted},
		{ErrTicketNumberBusy, CategoryTransient},
		{ErrRequestConflict, CategoryPrecondition},
		{errWrap{ErrQueueEmpty}, CategoryPrecondition},
		{errUnknown{}, CategoryInternal},
	}
	for _, tc := range cases {
		if got := CategoryOf(tc.err); got != tc.want {
			t.Fatalf("CategoryOf(%v)=%q, want %q", tc.err, got, tc.want)
		}
	}
}

type errWrap struct{ inner error }

func (e errWrap) Error() string { return "wrapped: " + e.inner.Error() }
func (e errWrap) Unwrap() error { return e.inner }

type errUnknown struct{}

func (errUnknown) Error() string { return "boom" }
