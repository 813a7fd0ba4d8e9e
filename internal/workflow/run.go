package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"mailflow/internal/model"
	"mailflow/internal/notify"
	"mailflow/pkg/metrics"
	"mailflow/pkg/otel"
	"mailflow/pkg/trace"
)

type runIDKey struct{}

func withRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// ProcessRun handles items strictly in order and keeps going when an item
// fails. Cancellation is honoured between items and during the pacing wait;
// the result then has Interrupted set and lists only the items handled.
func (c *Coordinator) ProcessRun(ctx context.Context, rc *RunContext, items []model.InputItem, opts Options) (*RunResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	run := &RunResult{
		RunID:     uuid.NewString(),
		Items:     make([]ItemResult, 0, len(items)),
		StartedAt: c.now(),
	}
	log := c.logger.With(zap.String("run_id", run.RunID))
	log.Info("Run started", zap.Int("items", len(items)))
	runCtx, span := otel.StartSpan(withRunID(ctx, run.RunID), otel.SpanRun,
		attribute.String(otel.AttrRunID, run.RunID),
		attribute.Int("mailflow.items", len(items)),
	)
	defer span.End()

	for i := range items {
		if ctx.Err() != nil {
			run.Interrupted = true
			break
		}

		itemCtx := trace.WithContext(runCtx, trace.GenerateTraceID())
		res := c.ProcessItem(itemCtx, rc, &items[i], opts)
		run.Items = append(run.Items, res)
		switch res.Status {
		case ItemSucceeded:
			run.Processed++
			run.Succeeded++
		case ItemFailed:
			run.Processed++
			run.Failed++
		case ItemSkipped:
			run.Skipped++
		}

		if i < len(items)-1 && res.Status != ItemSkipped && !c.pace(ctx) {
			run.Interrupted = true
			break
		}
	}

	run.FinishedAt = c.now()
	span.SetAttributes(
		attribute.Int("mailflow.failed", run.Failed),
		attribute.Bool("mailflow.interrupted", run.Interrupted),
	)
	rc.update(func(s *model.ProcessingStats) { s.LastRunTime = run.FinishedAt })
	run.Stats = rc.Stats()
	metrics.RecordRunDuration(run.FinishedAt.Sub(run.StartedAt))

	log.Info("Run finished",
		zap.Int("processed", run.Processed),
		zap.Int("succeeded", run.Succeeded),
		zap.Int("failed", run.Failed),
		zap.Int("skipped", run.Skipped),
		zap.Bool("interrupted", run.Interrupted),
	)

	// The run is over; reporting must not be cut short by the caller's ctx.
	doneCtx := context.WithoutCancel(runCtx)
	c.sendSummary(doneCtx, log, run)
	if c.recorder != nil {
		if err := c.recorder.RecordRun(doneCtx, run); err != nil {
			log.Warn("Failed to record run", zap.Error(err))
		}
	}
	return run, nil
}

// FetchAndRun pulls items from the configured source and processes them.
func (c *Coordinator) FetchAndRun(ctx context.Context, rc *RunContext, limit int, filter Filter, opts Options) (*RunResult, error) {
	if c.source == nil {
		return nil, ErrNoSource
	}
	if limit <= 0 {
		limit = c.cfg.FetchLimit
	}

	items, err := c.source.Fetch(ctx, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("fetch items: %w", err)
	}
	c.logger.Info("Fetched items", zap.Int("count", len(items)), zap.Int("limit", limit))
	return c.ProcessRun(ctx, rc, items, opts)
}

// pace waits PacingDelay and returns false when ctx ended first.
func (c *Coordinator) pace(ctx context.Context) bool {
	if c.cfg.PacingDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(c.cfg.PacingDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Coordinator) sendSummary(ctx context.Context, log *zap.Logger, run *RunResult) {
	if !c.cfg.NotifySummary || c.notifier == nil || run.Processed == 0 {
		return
	}

	kind := notify.NoticeSuccess
	if run.Failed > 0 {
		kind = notify.NoticeWarning
	}
	if run.Succeeded == 0 && run.Failed > 0 {
		kind = notify.NoticeError
	}

	events := 0
	for i := range run.Items {
		events += run.Items[i].EventsCreated()
	}
	content := fmt.Sprintf("Processed %d items: %d succeeded, %d failed, %d skipped.\nCalendar events created: %d",
		run.Processed, run.Succeeded, run.Failed, run.Skipped, events)

	outcome, err := c.notifier.Deliver(ctx, notify.FormatNotice(kind, "Mail run finished", content, c.now()))
	if err != nil {
		log.Warn("Run summary not delivered", zap.String("channel", outcome.Channel), zap.Error(err))
	}
}
