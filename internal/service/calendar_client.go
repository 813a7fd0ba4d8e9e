package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"mailflow/internal/calendar"
)

const (
	defaultCalendarURL = "https://www.googleapis.com/calendar/v3"
	maxListedEvents    = 250
)

type CalendarConfig struct {
	AccessToken string
	CalendarID  string
	BaseURL     string
	Timeout     time.Duration
}

func (c CalendarConfig) Configured() bool {
	return c.AccessToken != ""
}

// CalendarClient is a minimal Google Calendar v3 client. Obtaining and
// refreshing the access token is left to the deployment.
type CalendarClient struct {
	cfg        CalendarConfig
	httpClient *http.Client
}

func NewCalendarClient(cfg CalendarConfig) *CalendarClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCalendarURL
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	return &CalendarClient{cfg: cfg, httpClient: newHTTPClient(cfg.Timeout)}
}

type eventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type reminderOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type eventResource struct {
	ID          string          `json:"id,omitempty"`
	Summary     string          `json:"summary"`
	Description string          `json:"description,omitempty"`
	Location    string          `json:"location,omitempty"`
	Start       eventTime       `json:"start"`
	End         eventTime       `json:"end"`
	Reminders   *eventReminders `json:"reminders,omitempty"`
}

type eventReminders struct {
	UseDefault bool               `json:"useDefault"`
	Overrides  []reminderOverride `json:"overrides,omitempty"`
}

type eventList struct {
	Items []eventResource `json:"items"`
}

func (c *CalendarClient) eventsURL() string {
	return fmt.Sprintf("%s/calendars/%s/events", c.cfg.BaseURL, url.PathEscape(c.cfg.CalendarID))
}

func (c *CalendarClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
}

func (c *CalendarClient) ListEvents(ctx context.Context, from, to time.Time) ([]calendar.ExistingEvent, error) {
	q := url.Values{}
	q.Set("timeMin", from.UTC().Format(time.RFC3339))
	q.Set("timeMax", to.UTC().Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	q.Set("maxResults", fmt.Sprint(maxListedEvents))

	req, err := newJSONRequest(ctx, http.MethodGet, c.eventsURL()+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	var list eventList
	if err := doJSON(c.httpClient, "calendar", req, &list); err != nil {
		return nil, err
	}

	out := make([]calendar.ExistingEvent, 0, len(list.Items))
	for _, it := range list.Items {
		out = append(out, calendar.ExistingEvent{
			ID:    it.ID,
			Title: it.Summary,
			Start: parseEventTime(it.Start),
			End:   parseEventTime(it.End),
		})
	}
	return out, nil
}

func (c *CalendarClient) CreateEvent(ctx context.Context, ev calendar.NewEvent) (string, error) {
	body := eventResource{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       eventTime{DateTime: ev.StartDateTime, TimeZone: ev.TimeZone},
		End:         eventTime{DateTime: ev.EndDateTime, TimeZone: ev.TimeZone},
	}
	body.Reminders = &eventReminders{}
	for _, r := range ev.Reminders {
		body.Reminders.Overrides = append(body.Reminders.Overrides, reminderOverride{Method: r.Method, Minutes: r.Minutes})
	}

	req, err := newJSONRequest(ctx, http.MethodPost, c.eventsURL(), body)
	if err != nil {
		return "", err
	}
	c.authorize(req)

	var created eventResource
	if err := doJSON(c.httpClient, "calendar", req, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func parseEventTime(t eventTime) time.Time {
	if t.DateTime != "" {
		if v, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			return v
		}
	}
	if t.Date != "" {
		if v, err := time.Parse("2006-01-02", t.Date); err == nil {
			return v
		}
	}
	return time.Time{}
}
