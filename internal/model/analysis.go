package model

import "strings"

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority maps free text onto a Priority, defaulting to medium.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

const CategoryOther = "other"

type AnalysisResult struct {
	Gist         string       `json:"gist"`
	HasEvent     bool         `json:"hasEvent"`
	EventDetails EventDetails `json:"eventDetails"`
	Priority     Priority     `json:"priority"`
	ActionItems  []string     `json:"actionItems"`
	Category     string       `json:"category"`
	Sentiment    string       `json:"sentiment,omitempty"`

	// Model that produced the raw response.
	Model string `json:"model,omitempty"`
	// Fallback is set when the response could not be used and the result was
	// synthesised from the raw text or the item itself.
	Fallback bool `json:"fallback,omitempty"`
}

// Normalize enforces the result invariants: HasEvent is true only with
// non-empty details and details are cleared when HasEvent is false. Gist is
// not touched; the caller backfills it.
func (r *AnalysisResult) Normalize() {
	if r.EventDetails.IsEmpty() {
		r.HasEvent = false
	}
	if !r.HasEvent {
		r.EventDetails = NoEvents()
	}

	r.Priority = ParsePriority(string(r.Priority))

	r.Category = strings.ToLower(strings.TrimSpace(r.Category))
	if r.Category == "" {
		r.Category = CategoryOther
	}

	items := make([]string, 0, len(r.ActionItems))
	for _, a := range r.ActionItems {
		if a = strings.TrimSpace(a); a != "" {
			items = append(items, a)
		}
	}
	r.ActionItems = items
}
