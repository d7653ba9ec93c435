package db

import (
	"context"
	"fmt"
	"time"

	"backend-activitytracker/internal/config"

	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 2 * time.Second

// ConnectRedis returns nil when no address is configured. The relay hub then
// delivers locally and the companion bridge is unavailable.
func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

// RedisReachable pings rdb with a short timeout.
func RedisReachable(ctx context.Context, rdb *redis.Client) error {
	if rdb == nil {
		return fmt.Errorf("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %s: %w", rdb.Options().Addr, err)
	}
	return nil
}
