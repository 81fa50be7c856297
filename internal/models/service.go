package models

type Service struct {
	ServiceID int64  `json:"service_id"`
	Name      string `json:"name"`
	Priority  bool   `json:"priority"`
	Enabled   bool   `json:"enabled"`
}
