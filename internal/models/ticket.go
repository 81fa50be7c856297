package models

import "time"

type Ticket struct {
	TicketID       int64     `json:"ticket_id"`
	TicketNumber   int64     `json:"ticket_number"`
	RequestID      string    `json:"request_id,omitempty"`
	ClientID       int64     `json:"client_id"`
	CounterID      *int64    `json:"counter_id,omitempty"`
	CounterName    string    `json:"counter_name,omitempty"`
	ServiceID      int64     `json:"service_id"`
	ServiceName    string    `json:"service_name,omitempty"`
	Manual         bool      `json:"manual"`
	ManualDocument string    `json:"manual_document,omitempty"`
	Status         string    `json:"status"`
	Priority       bool      `json:"priority"`
	Position       int       `json:"position"`
	CancelReason   string    `json:"cancel_reason,omitempty"`
	Schedule       Schedule  `json:"schedule"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Schedule holds the three lifecycle timestamps of a ticket. Start and end
// equal arrival until the matching transition stamps them.
type Schedule struct {
	ScheduleID     int64     `json:"schedule_id"`
	ArrivalAt      time.Time `json:"arrival_at"`
	ServiceStartAt time.Time `json:"service_start_at"`
	ServiceEndAt   time.Time `json:"service_end_at"`
}

type Durations struct {
	WaitMinutes      float64 `json:"wait_minutes"`
	AttentionMinutes float64 `json:"attention_minutes"`
	TotalMinutes     float64 `json:"total_minutes"`
}

const (
	StatusWaiting   = "waiting"
	StatusInService = "in_service"
	StatusFinished  = "finished"
	StatusCancelled = "cancelled"
)

// Durations reports elapsed minutes per phase. Phases that have not started
// yet report zero; an in-service ticket measures attention up to now.
func (t Ticket) Durations(now time.Time) Durations {
	var d Durations
	switch t.Status {
	case StatusWaiting:
		d.WaitMinutes = minutes(now.Sub(t.Schedule.ArrivalAt))
		d.TotalMinutes = d.WaitMinutes
	case StatusInService:
		d.WaitMinutes = minutes(t.Schedule.ServiceStartAt.Sub(t.Schedule.ArrivalAt))
		d.AttentionMinutes = minutes(now.Sub(t.Schedule.ServiceStartAt))
		d.TotalMinutes = d.WaitMinutes + d.AttentionMinutes
	case StatusFinished:
		d.WaitMinutes = minutes(t.Schedule.ServiceStartAt.Sub(t.Schedule.ArrivalAt))
		d.AttentionMinutes = minutes(t.Schedule.ServiceEndAt.Sub(t.Schedule.ServiceStartAt))
		d.TotalMinutes = minutes(t.Schedule.ServiceEndAt.Sub(t.Schedule.ArrivalAt))
	case StatusCancelled:
		d.TotalMinutes = minutes(t.UpdatedAt.Sub(t.Schedule.ArrivalAt))
	}
	return d
}

func minutes(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return float64(int64(d.Minutes()*100)) / 100
}
