package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper records which items have already been handled. Every method fails
// open: when Redis is unavailable the item is treated as unseen.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func dedupKey(scope, itemID string) string {
	return fmt.Sprintf("dedup:%s:%s", scope, itemID)
}

// AcquireOnce returns true the first time scope+itemID is seen within the TTL.
func (d *Deduper) AcquireOnce(ctx context.Context, scope, itemID string) bool {
	key := dedupKey(scope, itemID)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("scope", scope),
			zap.String("item_id", itemID),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped duplicated item",
			zap.String("scope", scope),
			zap.String("item_id", itemID),
			zap.String("dedup_key", key),
		)
	}
	return ok
}

// Seen reports whether MarkDone (or AcquireOnce) was recorded for the item.
func (d *Deduper) Seen(ctx context.Context, scope, itemID string) bool {
	n, err := d.rdb.Exists(ctx, dedupKey(scope, itemID)).Result()
	if err != nil {
		d.logger.Warn("Redis dedup lookup failed, treating item as unseen",
			zap.String("scope", scope),
			zap.String("item_id", itemID),
			zap.Error(err),
		)
		return false
	}
	return n > 0
}

// MarkDone records the item as handled. Errors are logged and swallowed.
func (d *Deduper) MarkDone(ctx context.Context, scope, itemID string) {
	if err := d.rdb.Set(ctx, dedupKey(scope, itemID), 1, d.ttl).Err(); err != nil {
		d.logger.Warn("Redis dedup mark failed",
			zap.String("scope", scope),
			zap.String("item_id", itemID),
			zap.Error(err),
		)
	}
}
