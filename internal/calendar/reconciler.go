package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailflow/internal/model"
	"mailflow/pkg/logger"
	"mailflow/pkg/metrics"
)

type ExistingEvent struct {
	ID    string
	Title string
	Start time.Time
	End   time.Time
}

type Reminder struct {
	Method  string
	Minutes int
}

var DefaultReminders = []Reminder{
	{Method: "email", Minutes: 24 * 60},
	{Method: "popup", Minutes: 10},
}

type NewEvent struct {
	Title         string
	Description   string
	Location      string
	StartDateTime string
	EndDateTime   string
	TimeZone      string
	Reminders     []Reminder
}

// Service is the calendar backend.
type Service interface {
	ListEvents(ctx context.Context, from, to time.Time) ([]ExistingEvent, error)
	CreateEvent(ctx context.Context, ev NewEvent) (string, error)
}

type Status string

const (
	StatusMatched Status = "matched"
	StatusCreated Status = "created"
	StatusFailed  Status = "failed"
)

// CalendarError is one event that could not be created.
type CalendarError struct {
	Title string
	Date  string
	Err   error
}

func (e *CalendarError) Error() string {
	return fmt.Sprintf("calendar event %q on %s: %v", e.Title, e.Date, e.Err)
}

func (e *CalendarError) Unwrap() error { return e.Err }

type ItemOutcome struct {
	Title   string `json:"title"`
	Date    string `json:"date"`
	Status  Status `json:"status"`
	EventID string `json:"eventId,omitempty"`
	Err     error  `json:"-"`
}

type Report struct {
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Created    int           `json:"created"`
	Matched    int           `json:"matched"`
	Items      []ItemOutcome `json:"items"`
}

// Success reports whether at least one request was matched or created.
func (r Report) Success() bool { return r.Successful > 0 }

type Config struct {
	TimeZone string
	// CallTimeout bounds each list or create call.
	CallTimeout time.Duration
}

type Reconciler struct {
	svc    Service
	cfg    Config
	logger *zap.Logger
}

func NewReconciler(svc Service, cfg Config, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = "Asia/Singapore"
	}
	return &Reconciler{svc: svc, cfg: cfg, logger: log}
}

// Reconcile handles each request independently; a failure never stops the
// remaining requests.
func (r *Reconciler) Reconcile(ctx context.Context, details model.EventDetails, item *model.InputItem) Report {
	events := details.Events()
	report := Report{Items: make([]ItemOutcome, 0, len(events))}

	for _, ev := range events {
		out := r.ReconcileOne(ctx, ev, item)
		report.Items = append(report.Items, out)
		switch out.Status {
		case StatusMatched:
			report.Matched++
			report.Successful++
		case StatusCreated:
			report.Created++
			report.Successful++
		default:
			report.Failed++
		}
	}

	if len(events) > 1 {
		logger.WithTrace(ctx, r.logger).Info("Calendar batch reconciled",
			zap.Int("requested", len(events)),
			zap.Int("created", report.Created),
			zap.Int("matched", report.Matched),
			zap.Int("failed", report.Failed),
		)
	}
	return report
}

func (r *Reconciler) ReconcileOne(ctx context.Context, ev model.EventRequest, item *model.InputItem) ItemOutcome {
	log := logger.WithTrace(ctx, r.logger)

	slot, err := Normalize(ev)
	if err != nil {
		metrics.IncrementCalendarOutcome(string(StatusFailed))
		log.Warn("Skipping calendar event with unusable date", zap.Error(err))
		return ItemOutcome{
			Title:  ev.Title,
			Date:   ev.StartDate,
			Status: StatusFailed,
			Err:    &CalendarError{Title: ev.Title, Date: ev.StartDate, Err: err},
		}
	}

	out := ItemOutcome{Title: slot.Title, Date: slot.StartDate}
	log = log.With(zap.String("title", slot.Title), zap.String("date", slot.StartDate))

	if id, found := r.findExisting(ctx, log, slot); found {
		metrics.IncrementCalendarOutcome(string(StatusMatched))
		log.Info("Event already exists, skipping creation", zap.String("event_id", id))
		out.Status = StatusMatched
		out.EventID = id
		return out
	}

	id, err := r.create(ctx, r.buildEvent(ev, slot, item))
	if err != nil {
		metrics.IncrementCalendarOutcome(string(StatusFailed))
		log.Error("Failed to create calendar event", zap.Error(err))
		out.Status = StatusFailed
		out.Err = &CalendarError{Title: slot.Title, Date: slot.StartDate, Err: err}
		return out
	}

	metrics.IncrementCalendarOutcome(string(StatusCreated))
	log.Info("Calendar event created",
		zap.String("event_id", id),
		zap.String("start", slot.StartDateTime()),
	)
	out.Status = StatusCreated
	out.EventID = id
	return out
}

// findExisting treats a failed or panicking lookup as "no match" so that the
// event is still created.
func (r *Reconciler) findExisting(ctx context.Context, log *zap.Logger, slot Slot) (id string, found bool) {
	defer func() {
		if p := recover(); p != nil {
			log.Warn("Calendar lookup panicked, assuming none", zap.Any("panic", p))
			id, found = "", false
		}
	}()

	from, to := slot.Window()

	if r.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
	}

	existing, err := r.svc.ListEvents(ctx, from, to)
	if err != nil {
		log.Warn("Could not list existing events, assuming none", zap.Error(err))
		return "", false
	}

	for _, e := range existing {
		if TitlesMatch(slot.Title, e.Title) {
			return e.ID, true
		}
	}
	return "", false
}

func (r *Reconciler) create(ctx context.Context, ev NewEvent) (id string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("calendar service panic: %v", p)
		}
	}()

	if r.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
	}
	return r.svc.CreateEvent(ctx, ev)
}

func (r *Reconciler) buildEvent(ev model.EventRequest, slot Slot, item *model.InputItem) NewEvent {
	desc := strings.TrimSpace(ev.Description)
	if item != nil {
		source := fmt.Sprintf("Source Email: %s\nFrom: %s", item.Subject, item.Sender)
		if desc != "" {
			desc += "\n\n" + source
		} else {
			desc = source
		}
	}

	reminders := make([]Reminder, len(DefaultReminders))
	copy(reminders, DefaultReminders)

	return NewEvent{
		Title:         slot.Title,
		Description:   desc,
		Location:      strings.TrimSpace(ev.Location),
		StartDateTime: slot.StartDateTime(),
		EndDateTime:   slot.EndDateTime(),
		TimeZone:      r.cfg.TimeZone,
		Reminders:     reminders,
	}
}

// Healthy reports whether a calendar backend is configured.
func (r *Reconciler) Healthy() (bool, string) {
	if r.svc == nil {
		return false, "no calendar service configured"
	}
	return true, "time zone " + r.cfg.TimeZone
}
