package mq

import "time"

const (
	RoutingKeyItemReceived  = "mail.item.received"
	RoutingKeyItemProcessed = "mail.item.processed"
	RoutingKeyRunFinished   = "mail.run.finished"
)

// ItemReceivedPayload is consumed by the worker; one message is one item.
type ItemReceivedPayload struct {
	ItemID       string    `json:"item_id"`
	Subject      string    `json:"subject"`
	Sender       string    `json:"sender"`
	Body         string    `json:"body"`
	ReceivedAt   time.Time `json:"received_at"`
	Notify       *bool     `json:"notify,omitempty"`
	CreateEvents *bool     `json:"create_events,omitempty"`
}

// ItemProcessedPayload is published after every processed item.
type ItemProcessedPayload struct {
	RunID         string    `json:"run_id"`
	ItemID        string    `json:"item_id"`
	Status        string    `json:"status"`
	Gist          string    `json:"gist,omitempty"`
	Model         string    `json:"model,omitempty"`
	Notified      bool      `json:"notified"`
	Channel       string    `json:"channel,omitempty"`
	EventsCreated int       `json:"events_created"`
	EventsMatched int       `json:"events_matched"`
	Error         string    `json:"error,omitempty"`
	TraceID       string    `json:"trace_id,omitempty"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// RunFinishedPayload is written with the run record and published once.
type RunFinishedPayload struct {
	RunID       string    `json:"run_id"`
	Processed   int       `json:"processed"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	Interrupted bool      `json:"interrupted"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}
