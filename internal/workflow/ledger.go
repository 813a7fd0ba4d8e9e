package workflow

import (
	"context"

	"go.uber.org/zap"

	"mailflow/pkg/util"
)

const ledgerScope = "workflow"

// RedisLedger keeps completion markers and failure counters in Redis through
// the shared deduper and retry counter.
type RedisLedger struct {
	deduper    *util.Deduper
	retries    *util.RetryCounter
	maxRetries int64
	logger     *zap.Logger
}

func NewRedisLedger(deduper *util.Deduper, retries *util.RetryCounter, maxRetries int, log *zap.Logger) *RedisLedger {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLedger{
		deduper:    deduper,
		retries:    retries,
		maxRetries: int64(maxRetries),
		logger:     log,
	}
}

func (l *RedisLedger) Completed(ctx context.Context, itemID string) bool {
	return l.deduper.Seen(ctx, ledgerScope, itemID)
}

func (l *RedisLedger) MarkCompleted(ctx context.Context, itemID string) {
	l.deduper.MarkDone(ctx, ledgerScope, itemID)
	if err := l.retries.Reset(ctx, util.FormatRetryKey(ledgerScope, itemID)); err != nil {
		l.logger.Warn("Failed to reset retry counter", zap.String("item_id", itemID), zap.Error(err))
	}
}

func (l *RedisLedger) RecordFailure(ctx context.Context, itemID string, cause error) bool {
	retryable, errType := util.IsRetryableError(cause)

	count, err := l.retries.IncrementAndGet(ctx, util.FormatRetryKey(ledgerScope, itemID))
	if err != nil {
		l.logger.Warn("Failed to increment retry counter, item stays eligible",
			zap.String("item_id", itemID),
			zap.Error(err),
		)
		return false
	}

	l.logger.Info("Recorded item failure",
		zap.String("item_id", itemID),
		zap.Int64("failures", count),
		zap.Int64("max_retries", l.maxRetries),
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
	)

	if util.ShouldRetry(count, l.maxRetries, true) {
		return false
	}
	l.deduper.MarkDone(ctx, ledgerScope, itemID)
	return true
}
