// Package queue holds the counter selection and queue positioning rules.
// Callers load the inputs inside their own transaction and persist the
// results; nothing here touches storage.
package queue

import (
	"sort"
	"time"
)

// CounterLoad is an open counter and the number of tickets it is holding.
type CounterLoad struct {
	CounterID int64
	Load      int
}

// PickCounter returns the counter with the lowest load. Ties go to the lowest
// counter id. The excluded id is skipped; pass 0 to exclude nothing.
func PickCounter(loads []CounterLoad, exclude int64) (int64, bool) {
	var (
		best  CounterLoad
		found bool
	)
	for _, candidate := range loads {
		if exclude != 0 && candidate.CounterID == exclude {
			continue
		}
		if !found || candidate.Load < best.Load || (candidate.Load == best.Load && candidate.CounterID < best.CounterID) {
			best = candidate
			found = true
		}
	}
	return best.CounterID, found
}

// PositionFor is the position a new waiting ticket takes at a counter that
// already has the given waiting priority and normal tickets.
func PositionFor(waitingPriority, waitingNormal int, isPriority bool) int {
	if isPriority {
		return waitingPriority + 1
	}
	return waitingPriority + waitingNormal + 1
}

// WaitingTicket is the subset of a waiting ticket renumbering looks at.
type WaitingTicket struct {
	TicketID  int64
	Priority  bool
	CreatedAt time.Time
	Position  int
}

// Assignment is a ticket's recomputed position.
type Assignment struct {
	TicketID int64
	Position int
	Changed  bool
}

// Renumber orders waiting tickets by priority first, then creation time,
// then ticket id, and assigns dense positions starting at 1.
func Renumber(tickets []WaitingTicket) []Assignment {
	ordered := make([]WaitingTicket, len(tickets))
	copy(ordered, tickets)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Priority != b.Priority {
			return a.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.TicketID < b.TicketID
	})
	assignments := make([]Assignment, len(ordered))
	for i, ticket := range ordered {
		assignments[i] = Assignment{
			TicketID: ticket.TicketID,
			Position: i + 1,
			Changed:  ticket.Position != i+1,
		}
	}
	return assignments
}

// ReassignmentOrder returns the ids of tickets leaving a deactivated counter
// in the order they are re-routed.
func ReassignmentOrder(tickets []WaitingTicket) []int64 {
	ids := make([]int64, len(tickets))
	for i, ticket := range tickets {
		ids[i] = ticket.TicketID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Counts splits the waiting tickets of one counter by priority.
func Counts(tickets []WaitingTicket) (priority, normal int) {
	for _, ticket := range tickets {
		if ticket.Priority {
			priority++
		} else {
			normal++
		}
	}
	return priority, normal
}

// TargetQueue is an active counter that can receive re-routed tickets.
type TargetQueue struct {
	CounterID int64
	Waiting   []WaitingTicket
}

// Move is one planned re-route.
type Move struct {
	TicketID  int64
	CounterID int64
	Position  int
}

// PlanReassignment routes every ticket in moving, in ascending id order, to
// the target with the fewest waiting tickets at that moment. Each planned
// move counts toward the load seen by the next one. With no targets the plan
// is empty and the tickets stay where they are.
func PlanReassignment(moving []WaitingTicket, targets []TargetQueue) []Move {
	if len(targets) == 0 || len(moving) == 0 {
		return nil
	}
	queues := make(map[int64][]WaitingTicket, len(targets))
	for _, target := range targets {
		queues[target.CounterID] = append([]WaitingTicket(nil), target.Waiting...)
	}
	byID := make(map[int64]WaitingTicket, len(moving))
	for _, ticket := range moving {
		byID[ticket.TicketID] = ticket
	}

	moves := make([]Move, 0, len(moving))
	for _, id := range ReassignmentOrder(moving) {
		loads := make([]CounterLoad, 0, len(queues))
		for counterID, waiting := range queues {
			loads = append(loads, CounterLoad{CounterID: counterID, Load: len(waiting)})
		}
		counterID, ok := PickCounter(loads, 0)
		if !ok {
			break
		}
		ticket := byID[id]
		priority, normal := Counts(queues[counterID])
		position := PositionFor(priority, normal, ticket.Priority)
		ticket.Position = position
		queues[counterID] = append(queues[counterID], ticket)
		moves = append(moves, Move{TicketID: id, CounterID: counterID, Position: position})
	}
	return moves
}
