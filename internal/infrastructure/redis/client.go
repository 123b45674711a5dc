package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/paygate/internal/infrastructure/config"
	"github.com/cassiomorais/paygate/pkg/retry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewClient connects to the Redis instance holding reconcile locks. The
// first ping is retried with backoff.
func NewClient(ctx context.Context, cfg *config.RedisConfig, logger zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolTimeout:  2 * time.Second,
		PoolSize:     20,
		MinIdleConns: 2,
	})

	logger = logger.With().Str("component", "redis").Str("addr", cfg.RedisAddr()).Logger()
	rc := connectRetry(cfg)
	rc.OnRetry = func(attempt uint, err error) {
		logger.Warn().Err(err).Uint("attempt", attempt+1).Msg("Redis not reachable yet")
	}

	if err := retry.Do(ctx, rc, func() error {
		return client.Ping(ctx).Err()
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s after %d attempts: %w", cfg.RedisAddr(), rc.MaxAttempts, err)
	}
	return client, nil
}

func connectRetry(cfg *config.RedisConfig) retry.Config {
	attempts := uint(5)
	if cfg.ConnectRetries > 0 {
		attempts = uint(cfg.ConnectRetries)
	}
	delay := time.Second
	if cfg.ConnectRetryDelay > 0 {
		delay = cfg.ConnectRetryDelay
	}
	return retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: delay,
		MaxDelay:     8 * delay,
	}
}
