package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	contractmq "mailflow/contracts/mq"
	"mailflow/internal/workflow"
	"mailflow/pkg/outbox"
)

const (
	aggregateItem = "item"
	aggregateRun  = "run"
)

// OutboxSink writes item results to the outbox; the dispatcher publishes them.
type OutboxSink struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
}

func NewOutboxSink(db *pgxpool.Pool, repo *outbox.Repository) *OutboxSink {
	return &OutboxSink{db: db, outbox: repo}
}

func (s *OutboxSink) PublishResult(ctx context.Context, runID string, res *workflow.ItemResult) error {
	return s.outbox.Insert(ctx, s.db, aggregateItem, res.ItemID,
		contractmq.RoutingKeyItemProcessed, workflow.ProcessedPayload(runID, res))
}
