package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"mailflow/internal/analysis"
	"mailflow/internal/model"
	"mailflow/internal/notify"
	"mailflow/pkg/logger"
	"mailflow/pkg/metrics"
	"mailflow/pkg/otel"
	"mailflow/pkg/trace"
)

var ErrNoSource = errors.New("no item source configured")

type Config struct {
	// PacingDelay is waited between two items.
	PacingDelay time.Duration
	// NotifySummary sends a notice through the notifier after each run.
	NotifySummary bool
	FetchLimit    int
	Filter        Filter
}

type Option func(*Coordinator)

func WithSource(s ItemSource) Option { return func(c *Coordinator) { c.source = s } }
func WithLedger(l Ledger) Option { return func(c *Coordinator) { c.ledger = l } }
func WithSink(s ResultSink) Option { return func(c *Coordinator) { c.sink = s } }
func WithRecorder(r RunRecorder) Option { return func(c *Coordinator) { c.recorder = r } }
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithHealthCheck adds a collaborator to HealthCheck.
func WithHealthCheck(name string, fn HealthFunc) Option {
	return func(c *Coordinator) { c.checks = append(c.checks, namedCheck{name: name, fn: fn}) }
}

// Coordinator runs items through analysis, notification and calendar steps,
// one item at a time.
type Coordinator struct {
	analyzer Analyzer
	notifier Notifier
	calendar EventReconciler
	source   ItemSource
	ledger   Ledger
	sink     ResultSink
	recorder RunRecorder
	checks   []namedCheck

	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New builds a coordinator. notifier and cal may be nil when those steps are
// not configured.
func New(analyzer Analyzer, notifier Notifier, cal EventReconciler, cfg Config, log *zap.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		analyzer: analyzer,
		notifier: notifier,
		calendar: cal,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
	}
	c.checks = defaultChecks(analyzer, notifier, cal)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProcessItem runs one item to completion. Cancelling ctx does not stop an
// item that has started. Only analysis failures fail the item; notification
// and calendar problems are reported in the result. A panic in any step fails
// the item instead of the run.
func (c *Coordinator) ProcessItem(ctx context.Context, rc *RunContext, item *model.InputItem, opts Options) (res ItemResult) {
	ctx = context.WithoutCancel(ctx)
	if trace.FromContext(ctx) == "" {
		ctx = trace.WithContext(ctx, trace.GenerateTraceID())
	}

	start := c.now()
	res = ItemResult{
		ItemID:  item.ID,
		Subject: item.Subject,
		State:   StateFetched,
		TraceID: trace.FromContext(ctx),
	}
	log := logger.WithTrace(ctx, c.logger).With(zap.String("item_id", item.ID))

	ctx, span := otel.StartSpan(ctx, otel.SpanItem, attribute.String(otel.AttrItemID, item.ID))
	defer func() {
		if p := recover(); p != nil {
			log.Error("Item step panicked", zap.Any("panic", p), zap.String("state", string(res.State)))
			if res.Status != ItemSucceeded {
				if res.Status != ItemFailed {
					rc.update(func(s *model.ProcessingStats) { s.Errors++ })
				}
				res.Status = ItemFailed
				res.Err = fmt.Errorf("item %s panicked in %s: %v", item.ID, res.State, p)
				res.Error = res.Err.Error()
			}
		}
		if res.Processed.IsZero() {
			res.Processed = c.now()
		}
		res.Duration = res.Processed.Sub(start)
		metrics.IncrementItemProcessed(string(res.Status))
		span.SetAttributes(attribute.String(otel.AttrStatus, string(res.Status)))
		otel.EndSpan(span, res.Err)
	}()

	if c.ledger != nil && c.ledger.Completed(ctx, item.ID) {
		log.Info("Item already completed in an earlier run, skipping")
		res.Status = ItemSkipped
		return res
	}

	// Step 1: analyze
	res.State = StateAnalyzing
	pb, err := analysis.PromptFor(opts.Mode)
	if err != nil {
		log.Warn("Unknown analysis mode, using full analysis", zap.String("mode", opts.Mode))
		pb = analysis.FullPrompt{}
	}

	var result *model.AnalysisResult
	if c.analyzer == nil {
		err = &analysis.AnalysisError{Exhausted: true, Err: analysis.ErrNoCandidates}
	} else {
		actx, aspan := otel.StartSpan(ctx, otel.SpanAnalysis)
		result, err = c.analyzer.Analyze(actx, item, pb)
		if result != nil {
			aspan.SetAttributes(attribute.String(otel.AttrModel, result.Model))
		}
		otel.EndSpan(aspan, err)
	}
	if err != nil {
		res.State = StateAnalysisFailed
		res.Status = ItemFailed
		res.Err = err
		res.Error = err.Error()
		rc.update(func(s *model.ProcessingStats) { s.Errors++ })

		log.Error("Item analysis failed", zap.Error(err))
		if c.ledger != nil && c.ledger.RecordFailure(ctx, item.ID, err) {
			log.Warn("Item exceeded retry budget, it will not be retried")
		}
		c.publish(ctx, log, rc, &res)
		return res
	}
	res.State = StateAnalyzed
	res.Analysis = result

	// Step 2: notify
	if opts.Notify && c.notifier != nil {
		res.State = StateNotifying
		nctx, nspan := otel.StartSpan(ctx, otel.SpanNotify)
		outcome, err := c.notifier.Deliver(nctx, notify.FormatSummary(item, result, c.now()))
		nspan.SetAttributes(attribute.String("mailflow.channel", outcome.Channel))
		otel.EndSpan(nspan, err)
		res.Delivery = &outcome
		if outcome.Delivered {
			res.Notified = true
			rc.update(func(s *model.ProcessingStats) { s.NotificationsSent++ })
		} else {
			log.Warn("Notification failed, continuing", zap.String("channel", outcome.Channel), zap.Error(err))
		}
	}

	// Step 3: calendar
	if opts.CreateEvents && result.HasEvent && c.calendar != nil {
		res.State = StateCalendar
		cctx, cspan := otel.StartSpan(ctx, otel.SpanCalendar)
		report := c.calendar.Reconcile(cctx, result.EventDetails, item)
		cspan.SetAttributes(attribute.Int("mailflow.events_created", report.Created), attribute.Int("mailflow.events_failed", report.Failed))
		cspan.End()
		res.Calendar = &report
		rc.update(func(s *model.ProcessingStats) { s.EventsCreated += report.Created })
		if !report.Success() {
			log.Warn("No calendar event could be matched or created", zap.Int("failed", report.Failed))
		}
	}

	// Step 4: done
	res.State = StateDone
	res.Status = ItemSucceeded
	rc.update(func(s *model.ProcessingStats) { s.ItemsProcessed++ })
	if c.ledger != nil {
		c.ledger.MarkCompleted(ctx, item.ID)
	}

	log.Info("Item processed",
		zap.Bool("notified", res.Notified),
		zap.Int("events_created", res.EventsCreated()),
		zap.Bool("fallback_analysis", result.Fallback),
	)
	c.publish(ctx, log, rc, &res)
	return res
}

func (c *Coordinator) publish(ctx context.Context, log *zap.Logger, rc *RunContext, res *ItemResult) {
	res.Processed = c.now()
	if c.sink == nil {
		return
	}
	runID := runIDFromContext(ctx)
	if runID == "" {
		runID = rc.ID()
	}
	if err := c.sink.PublishResult(ctx, runID, res); err != nil {
		log.Warn("Failed to publish item result", zap.Error(err))
	}
}
