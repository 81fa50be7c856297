package queue

import (
	"testing"
	"time"
)

func TestPickCounter(t *testing.T) {
	cases := []struct {
		name    string
		loads   []CounterLoad
		exclude int64
		want    int64
		found   bool
	}{
		{"empty", nil, 0, 0, false},
		{"fewest load wins", []CounterLoad{{1, 3}, {2, 0}}, 0, 2, true},
		{"tie goes to lowest id", []CounterLoad{{5, 1}, {3, 1}, {4, 2}}, 0, 3, true},
		{"excluded counter skipped", []CounterLoad{{1, 0}, {2, 4}}, 1, 2, true},
		{"only excluded counter", []CounterLoad{{1, 0}}, 1, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, found := PickCounter(tc.loads, tc.exclude)
			if found != tc.found || got != tc.want {
				t.Fatalf("PickCounter()=(%d,%v), want (%d,%v)", got, found, tc.want, tc.found)
			}
		})
	}
}

func TestPositionFor(t *testing.T) {
	cases := []struct {
		priority, normal int
		isPriority       bool
		want             int
	}{
		{0, 0, false, 1},
		{0, 0, true, 1},
		{2, 3, true, 3},
		{2, 3, false, 6},
		{0, 4, true, 1},
	}
	for _, tc := range cases {
		if got := PositionFor(tc.priority, tc.normal, tc.isPriority); got != tc.want {
			t.Fatalf("PositionFor(%d,%d,%v)=%d, want %d", tc.priority, tc.normal, tc.isPriority, got, tc.want)
		}
	}
}

func TestRenumberPriorityFirstThenArrival(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tickets := []WaitingTicket{
		{TicketID: 1, Priority: false, CreatedAt: base, Position: 3},
		{TicketID: 2, Priority: true, CreatedAt: base.Add(5 * time.Minute), Position: 1},
		{TicketID: 3, Priority: false, CreatedAt: base.Add(time.Minute), Position: 7},
		{TicketID: 4, Priority: true, CreatedAt: base.Add(time.Minute), Position: 3},
	}

	got := Renumber(tickets)
	wantOrder := []int64{4, 2, 1, 3}
	if len(got) != len(wantOrder) {
		t.Fatalf("expected %d assignments, got %d", len(wantOrder), len(got))
	}
	for i, id := range wantOrder {
		if got[i].TicketID != id || got[i].Position != i+1 {
			t.Fatalf("assignment %d = %+v, want ticket %d at %d", i, got[i], id, i+1)
		}
	}
	if !got[0].Changed || got[2].Changed {
		t.Fatalf("unexpected change flags: %+v", got)
	}
}

func TestRenumberIsIdempotent(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tickets := []WaitingTicket{
		{TicketID: 8, CreatedAt: base.Add(2 * time.Minute), Position: 9},
		{TicketID: 6, Priority: true, CreatedAt: base.Add(3 * time.Minute)},
		{TicketID: 7, CreatedAt: base},
	}
	first := Renumber(tickets)

	applied := make([]WaitingTicket, len(tickets))
	copy(applied, tickets)
	for i := range applied {
		for _, a := range first {
			if a.TicketID == applied[i].TicketID {
				applied[i].Position = a.Position
			}
		}
	}
	second := Renumber(applied)
	for i := range first {
		if first[i].TicketID != second[i].TicketID || first[i].Position != second[i].Position {
			t.Fatalf("renumber not idempotent: %+v vs %+v", first, second)
		}
		if second[i].Changed {
			t.Fatalf("second pass should not change positions: %+v", second)
		}
	}
}

func TestRenumberAfterCancellingMiddleTicket(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	remaining := []WaitingTicket{
		{TicketID: 1, Priority: true, CreatedAt: base.Add(10 * time.Minute), Position: 1},
		{TicketID: 3, CreatedAt: base.Add(2 * time.Minute), Position: 3},
	}
	got := Renumber(remaining)
	if got[0].TicketID != 1 || got[0].Position != 1 {
		t.Fatalf("priority ticket should stay first: %+v", got)
	}
	if got[1].TicketID != 3 || got[1].Position != 2 {
		t.Fatalf("former position 3 should move to 2: %+v", got)
	}
}

func TestPlanReassignmentToIdleCounter(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	moving := []WaitingTicket{
		{TicketID: 12, CreatedAt: base.Add(time.Minute), Position: 2},
		{TicketID: 11, CreatedAt: base, Position: 1},
	}
	moves := PlanReassignment(moving, []TargetQueue{{CounterID: 2}})
	if len(moves) != 2 {
		t.Fatalf("expected 2 moves, got %d", len(moves))
	}
	if moves[0] != (Move{TicketID: 11, CounterID: 2, Position: 1}) {
		t.Fatalf("unexpected first move: %+v", moves[0])
	}
	if moves[1] != (Move{TicketID: 12, CounterID: 2, Position: 2}) {
		t.Fatalf("unexpected second move: %+v", moves[1])
	}
}

func TestPlanReassignmentBalancesLoad(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	moving := []WaitingTicket{
		{TicketID: 1, CreatedAt: base},
		{TicketID: 2, CreatedAt: base},
		{TicketID: 3, CreatedAt: base},
	}
	targets := []TargetQueue{
		{CounterID: 7, Waiting: []WaitingTicket{{TicketID: 90}}},
		{CounterID: 4},
	}
	moves := PlanReassignment(moving, targets)
	want := []Move{
		{TicketID: 1, CounterID: 4, Position: 1},
		{TicketID: 2, CounterID: 4, Position: 2},
		{TicketID: 3, CounterID: 7, Position: 2},
	}
	if len(moves) != len(want) {
		t.Fatalf("expected %d moves, got %+v", len(want), moves)
	}
	for i := range want {
		if moves[i] != want[i] {
			t.Fatalf("move %d = %+v, want %+v", i, moves[i], want[i])
		}
	}
}

func TestPlanReassignmentWithoutTargets(t *testing.T) {
	moves := PlanReassignment([]WaitingTicket{{TicketID: 1}}, nil)
	if len(moves) != 0 {
		t.Fatalf("expected no moves, got %+v", moves)
	}
}
