package redis

import (
	"time"

	"github.com/redis/go-redis/v9"

	"mailflow/pkg/config"
)

// NewRedisClient builds a client with short timeouts; callers of the ledger
// treat Redis as optional and fail open.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}
