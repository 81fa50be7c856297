package models

import "time"

type Counter struct {
	CounterID  int64      `json:"counter_id"`
	Name       string     `json:"name"`
	OperatorID *string    `json:"operator_id,omitempty"`
	Active     bool       `json:"active"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// CounterState is a counter as shown on dashboards: its flags, how many
// tickets wait there and which one is being served.
type CounterState struct {
	Counter
	Waiting   int     `json:"waiting"`
	InService *Ticket `json:"in_service,omitempty"`
}

// QueueState is the ordered waiting list of one counter plus its current ticket.
type QueueState struct {
	Counter   Counter  `json:"counter"`
	InService *Ticket  `json:"in_service,omitempty"`
	Waiting   []Ticket `json:"waiting"`
}
