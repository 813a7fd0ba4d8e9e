package util

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:1",
		DialTimeout:  50 * time.Millisecond,
		ReadTimeout:  50 * time.Millisecond,
		WriteTimeout: 50 * time.Millisecond,
		MaxRetries:   -1,
	})
}

func TestDeduperFailsOpen(t *testing.T) {
	rdb := unreachableRedis()
	defer rdb.Close()

	d := NewDeduper(rdb, time.Hour, nil)
	ctx := context.Background()

	require.True(t, d.AcquireOnce(ctx, "workflow", "msg-1"))
	require.False(t, d.Seen(ctx, "workflow", "msg-1"))
	d.MarkDone(ctx, "workflow", "msg-1")
}

func TestFormatRetryKey(t *testing.T) {
	require.Equal(t, "retry:workflow:msg-1", FormatRetryKey("workflow", "msg-1"))
}
