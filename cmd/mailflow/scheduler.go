package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"mailflow/pkg/util"
)

const scheduleScope = "schedule"

// scheduler triggers FetchAndRun on a cron schedule. With Redis configured,
// only one replica runs a given slot.
type scheduler struct {
	cron   *cron.Cron
	app    *app
	slots  *util.Deduper
	logger *zap.Logger
}

func newScheduler(a *app, log *zap.Logger) *scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		app:    a,
		logger: log,
	}
	if a.rdb != nil {
		s.slots = util.NewDeduper(a.rdb, time.Hour, log)
	}
	return s
}

// Run blocks until ctx is done, then waits for an in-flight run to stop.
func (s *scheduler) Run(ctx context.Context) error {
	spec := s.app.cfg.Workflow.Schedule
	if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return err
	}

	s.logger.Info("Scheduler started", zap.String("schedule", spec))
	s.cron.Start()

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	slot := time.Now().UTC().Truncate(time.Minute).Format(time.RFC3339)
	if s.slots != nil && !s.slots.AcquireOnce(ctx, scheduleScope, slot) {
		s.logger.Info("Scheduled run already taken by another replica", zap.String("slot", slot))
		return
	}

	cfg := s.app.cfg
	filter := cfg.CoordinatorConfig(time.Now()).Filter
	run, err := s.app.coordinator.FetchAndRun(ctx, s.app.rc, cfg.Workflow.FetchLimit, filter, cfg.RunOptions())
	if err != nil {
		s.logger.Error("Scheduled run failed", zap.String("slot", slot), zap.Error(err))
		return
	}
	s.logger.Info("Scheduled run finished",
		zap.String("run_id", run.RunID),
		zap.Int("processed", run.Processed),
		zap.Int("failed", run.Failed),
		zap.Bool("interrupted", run.Interrupted),
	)
}
