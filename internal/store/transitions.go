package store

import "qms/turno-service/internal/models"

const (
	ActionCallNext      = "call_next"
	ActionFinish        = "finish"
	ActionCancel        = "cancel"
	ActionCancelCurrent = "cancel_current"
	ActionToggle        = "toggle"
)

// allowedFrom lists the statuses a ticket may hold before each action.
var allowedFrom = map[string][]string{
	ActionCallNext:      {models.StatusWaiting},
	ActionFinish:        {models.StatusInService},
	ActionCancel:        {models.StatusWaiting},
	ActionCancelCurrent: {models.StatusInService},
}

func ValidTransition(action, fromStatus string) bool {
	for _, status := range allowedFrom[action] {
		if status == fromStatus {
			return true
		}
	}
	return false
}
