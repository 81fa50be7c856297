package models

type Client struct {
	ClientID    int64  `json:"client_id"`
	Document    string `json:"document"`
	FullName    string `json:"full_name"`
	Prioritized bool   `json:"prioritized"`
	Active      bool   `json:"active"`
}
