package model

import "time"

type ProcessingStats struct {
	ItemsProcessed    int       `json:"itemsProcessed"`
	EventsCreated     int       `json:"eventsCreated"`
	NotificationsSent int       `json:"notificationsSent"`
	Errors            int       `json:"errors"`
	StartTime         time.Time `json:"startTime"`
	LastRunTime       time.Time `json:"lastRunTime,omitempty"`
}
