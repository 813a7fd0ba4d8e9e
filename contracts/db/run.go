package db

import "time"

// WorkflowRun is a row of workflow_runs.
type WorkflowRun struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Processed   int       `json:"processed"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	Interrupted bool      `json:"interrupted"`
	StatsJSON   []byte    `json:"stats"`
}

// WorkflowRunItem is a row of workflow_run_items.
type WorkflowRunItem struct {
	RunID         string    `json:"run_id"`
	ItemID        string    `json:"item_id"`
	Status        string    `json:"status"`
	State         string    `json:"state"`
	Model         string    `json:"model"`
	Gist          string    `json:"gist"`
	Notified      bool      `json:"notified"`
	Channel       string    `json:"channel"`
	EventsCreated int       `json:"events_created"`
	EventsMatched int       `json:"events_matched"`
	Error         string    `json:"error"`
	DurationMS    int64     `json:"duration_ms"`
	ProcessedAt   time.Time `json:"processed_at"`
}
