package calendar

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"mailflow/internal/model"
)

const (
	DefaultStartTime = "07:00"
	DefaultEndTime   = "08:00"
	DefaultTitle     = "Event from Email"

	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	// Titles at least this long also match by substring.
	minFuzzyTitleLen = 10
)

var unknownTimes = map[string]struct{}{
	"":        {},
	"unknown": {},
	"n/a":     {},
	"na":      {},
}

// NormalizeTime returns raw as zero-padded HH:MM, or def when raw is a
// sentinel ("Unknown", "N/A", "NA", empty) or not a valid clock time.
func NormalizeTime(raw, def string) string {
	v := strings.TrimSpace(raw)
	if _, unknown := unknownTimes[strings.ToLower(v)]; unknown {
		return def
	}
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return def
	}
	return t.Format(timeLayout)
}

// Slot is an event request with every field ready for the calendar service.
type Slot struct {
	Title     string
	Date      time.Time
	StartDate string
	StartTime string
	EndDate   string
	EndTime   string
}

// Normalize validates the dates of ev and fills in default times. EndDate
// falls back to StartDate when absent or malformed.
func Normalize(ev model.EventRequest) (Slot, error) {
	title := strings.TrimSpace(ev.Title)
	if title == "" {
		title = DefaultTitle
	}

	startDate := strings.TrimSpace(ev.StartDate)
	if startDate == "" {
		return Slot{}, fmt.Errorf("event %q has no start date", title)
	}
	day, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return Slot{}, fmt.Errorf("event %q has invalid start date %q: %w", title, startDate, err)
	}

	endDate := strings.TrimSpace(ev.EndDate)
	if _, err := time.Parse(dateLayout, endDate); err != nil {
		endDate = startDate
	}

	return Slot{
		Title:     title,
		Date:      day,
		StartDate: startDate,
		StartTime: NormalizeTime(ev.StartTime, DefaultStartTime),
		EndDate:   endDate,
		EndTime:   NormalizeTime(ev.EndTime, DefaultEndTime),
	}, nil
}

// Window is the UTC day used to look for duplicates.
func (s Slot) Window() (from, to time.Time) {
	from = time.Date(s.Date.Year(), s.Date.Month(), s.Date.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.Add(24*time.Hour - time.Second)
}

// StartDateTime and EndDateTime use the local wall clock format the calendar
// API expects next to an explicit time zone. An end that does not come after
// the start is moved to one hour after it.
func (s Slot) StartDateTime() string {
	return s.StartDate + "T" + s.StartTime + ":00"
}

func (s Slot) EndDateTime() string {
	start, err1 := time.Parse(dateLayout+"T"+timeLayout, s.StartDate+"T"+s.StartTime)
	end, err2 := time.Parse(dateLayout+"T"+timeLayout, s.EndDate+"T"+s.EndTime)
	if err1 == nil && err2 == nil && !end.After(start) {
		return start.Add(time.Hour).Format(dateLayout + "T" + timeLayout + ":00")
	}
	return s.EndDate + "T" + s.EndTime + ":00"
}

// TitlesMatch compares titles case-insensitively after trimming. Requested
// titles of minFuzzyTitleLen characters or more also match when either title
// contains the other.
func TitlesMatch(requested, existing string) bool {
	req := strings.ToLower(strings.TrimSpace(requested))
	ex := strings.ToLower(strings.TrimSpace(existing))
	if req == ex {
		return true
	}
	if ex == "" || utf8.RuneCountInString(req) < minFuzzyTitleLen {
		return false
	}
	return strings.Contains(ex, req) || strings.Contains(req, ex)
}
