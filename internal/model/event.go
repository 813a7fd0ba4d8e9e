package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventRequest holds event fields exactly as the model produced them. Dates
// are YYYY-MM-DD, times HH:MM or a sentinel such as "Unknown"; normalisation
// happens when the request is consumed.
type EventRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	StartDate   string `json:"startDate,omitempty"`
	StartTime   string `json:"startTime,omitempty"`
	EndDate     string `json:"endDate,omitempty"`
	EndTime     string `json:"endTime,omitempty"`
	Location    string `json:"location,omitempty"`
}

func (e EventRequest) isZero() bool {
	return e == EventRequest{}
}

type EventDetailsKind int

const (
	DetailsNone EventDetailsKind = iota
	DetailsSingle
	DetailsMany
)

func (k EventDetailsKind) String() string {
	switch k {
	case DetailsSingle:
		return "single"
	case DetailsMany:
		return "many"
	default:
		return "none"
	}
}

// EventDetails is either nothing, one event, or a list of events. The zero
// value is None.
type EventDetails struct {
	kind   EventDetailsKind
	single EventRequest
	many   []EventRequest
}

func NoEvents() EventDetails {
	return EventDetails{}
}

func SingleEvent(e EventRequest) EventDetails {
	if e.isZero() {
		return EventDetails{}
	}
	return EventDetails{kind: DetailsSingle, single: e}
}

// ManyEvents drops zero-valued entries; an empty list collapses to None.
func ManyEvents(events []EventRequest) EventDetails {
	kept := make([]EventRequest, 0, len(events))
	for _, e := range events {
		if !e.isZero() {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		return EventDetails{}
	}
	return EventDetails{kind: DetailsMany, many: kept}
}

func (d EventDetails) Kind() EventDetailsKind { return d.kind }

func (d EventDetails) IsEmpty() bool { return d.kind == DetailsNone }

func (d EventDetails) Len() int {
	switch d.kind {
	case DetailsSingle:
		return 1
	case DetailsMany:
		return len(d.many)
	default:
		return 0
	}
}

// Events flattens the variant into a slice. The slice is a copy.
func (d EventDetails) Events() []EventRequest {
	switch d.kind {
	case DetailsSingle:
		return []EventRequest{d.single}
	case DetailsMany:
		out := make([]EventRequest, len(d.many))
		copy(out, d.many)
		return out
	default:
		return nil
	}
}

// UnmarshalJSON accepts an object, an array of objects, or null. Empty
// objects and empty arrays decode to None.
func (d *EventDetails) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*d = EventDetails{}
		return nil
	}

	switch data[0] {
	case '{':
		var e EventRequest
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		*d = SingleEvent(e)
		return nil
	case '[':
		var list []EventRequest
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*d = ManyEvents(list)
		return nil
	default:
		return fmt.Errorf("eventDetails: unexpected JSON value %q", truncate(string(data), 32))
	}
}

func (d EventDetails) MarshalJSON() ([]byte, error) {
	switch d.kind {
	case DetailsSingle:
		return json.Marshal(d.single)
	case DetailsMany:
		return json.Marshal(d.many)
	default:
		return []byte("null"), nil
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
