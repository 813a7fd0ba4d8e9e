package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	contractdb "mailflow/contracts/db"
	contractmq "mailflow/contracts/mq"
	"mailflow/internal/workflow"
	"mailflow/pkg/outbox"
)

// RunRepository stores finished runs in workflow_runs and workflow_run_items.
type RunRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
}

func NewRunRepository(db *pgxpool.Pool) *RunRepository {
	return &RunRepository{db: db}
}

// WithOutbox makes RecordRun also queue a mail.run.finished event.
func (r *RunRepository) WithOutbox(repo *outbox.Repository) *RunRepository {
	r.outbox = repo
	return r
}

// RecordRun writes the run, its items and the optional outbox event in one
// transaction.
func (r *RunRepository) RecordRun(ctx context.Context, run *workflow.RunResult) error {
	row, err := toRunRow(run)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
            INSERT INTO workflow_runs (id, started_at, finished_at, processed, succeeded, failed, skipped, interrupted, stats)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        `, row.ID, row.StartedAt, row.FinishedAt, row.Processed, row.Succeeded, row.Failed, row.Skipped, row.Interrupted, row.StatsJSON)
		if err != nil {
			return fmt.Errorf("insert workflow run: %w", err)
		}

		if r.outbox != nil {
			if err := r.outbox.Insert(ctx, tx, aggregateRun, run.RunID,
				contractmq.RoutingKeyRunFinished, workflow.FinishedPayload(run)); err != nil {
				return err
			}
		}

		batch := &pgx.Batch{}
		for i := range run.Items {
			it := toRunItemRow(run.RunID, &run.Items[i])
			batch.Queue(`
                INSERT INTO workflow_run_items
                    (run_id, item_id, status, state, model, gist, notified, channel, events_created, events_matched, error, duration_ms, processed_at)
                VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
                ON CONFLICT (run_id, item_id) DO NOTHING
            `, it.RunID, it.ItemID, it.Status, it.State, it.Model, it.Gist, it.Notified, it.Channel,
				it.EventsCreated, it.EventsMatched, it.Error, it.DurationMS, it.ProcessedAt)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert workflow run items: %w", err)
		}
		return nil
	})
}

// RecentRuns returns the latest runs, newest first.
func (r *RunRepository) RecentRuns(ctx context.Context, limit int) ([]contractdb.WorkflowRun, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id::text, started_at, finished_at, processed, succeeded, failed, skipped, interrupted, stats
        FROM workflow_runs
        ORDER BY started_at DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []contractdb.WorkflowRun
	for rows.Next() {
		var w contractdb.WorkflowRun
		if err := rows.Scan(&w.ID, &w.StartedAt, &w.FinishedAt, &w.Processed, &w.Succeeded,
			&w.Failed, &w.Skipped, &w.Interrupted, &w.StatsJSON); err != nil {
			return nil, err
		}
		runs = append(runs, w)
	}
	return runs, rows.Err()
}

func toRunRow(run *workflow.RunResult) (contractdb.WorkflowRun, error) {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return contractdb.WorkflowRun{}, err
	}
	return contractdb.WorkflowRun{
		ID:          run.RunID,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Processed:   run.Processed,
		Succeeded:   run.Succeeded,
		Failed:      run.Failed,
		Skipped:     run.Skipped,
		Interrupted: run.Interrupted,
		StatsJSON:   stats,
	}, nil
}

func toRunItemRow(runID string, res *workflow.ItemResult) contractdb.WorkflowRunItem {
	row := contractdb.WorkflowRunItem{
		RunID:         runID,
		ItemID:        res.ItemID,
		Status:        string(res.Status),
		State:         string(res.State),
		Notified:      res.Notified,
		EventsCreated: res.EventsCreated(),
		EventsMatched: res.EventsMatched(),
		Error:         res.Error,
		DurationMS:    res.Duration.Milliseconds(),
		ProcessedAt:   res.Processed,
	}
	if res.Analysis != nil {
		row.Model = res.Analysis.Model
		row.Gist = res.Analysis.Gist
	}
	if res.Delivery != nil {
		row.Channel = res.Delivery.Channel
	}
	return row
}
