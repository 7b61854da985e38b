package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a Redis client and waits until it answers PING.
// Uses the same backoff schedule as NewPool.
func NewRedisClient(ctx context.Context, opts RedisOptions, maxRetries int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	attempts := maxRetries
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			log.Info().Str("addr", opts.Addr).Msg("redis connection established")
			return rdb, nil
		}

		backoff := time.Duration(1<<attempt) * time.Second
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_retries", maxRetries).
			Dur("next_retry_in", backoff).
			Msg("redis connection failed, retrying")

		select {
		case <-ctx.Done():
			_ = rdb.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	_ = rdb.Close()
	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", attempts, err)
}
