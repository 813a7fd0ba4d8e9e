package model

import "time"

// InputItem is one fetched message. It is never modified after fetch.
type InputItem struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}
