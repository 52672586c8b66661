package sticky

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	mydb "github.com/TimurManjosov/flagkit/internal/db"
)

// ErrRedisNotReady is returned when Redis does not answer PING after retries.
var ErrRedisNotReady = errors.New("redis not ready")

// NewService creates a new service based on the given store type.
// Supported types: "memory", "postgres", "redis"
func NewService(ctx context.Context, storeType, dbDSN, redisURL string) (Service, error) {
	switch storeType {
	case "memory":
		return NewMemoryService(), nil
	case "postgres":
		pool, err := mydb.NewPool(ctx, dbDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		svc := NewPostgresService(pool)
		if err := svc.EnsureSchema(ctx); err != nil {
			svc.Close()
			return nil, err
		}
		return svc, nil
	case "redis":
		client, err := connectRedis(ctx, redisURL)
		if err != nil {
			return nil, err
		}
		return NewRedisService(client), nil
	default:
		return nil, fmt.Errorf("unsupported sticky store type: %s", storeType)
	}
}

// connectRedis parses url and pings the server with exponential backoff.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	_, err = backoff.Retry(ctx, func() (string, error) {
		return client.Ping(ctx).Result()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
		backoff.WithMaxElapsedTime(10*time.Second),
	)
	if err != nil {
		_ = client.Close()
		return nil, errors.Join(ErrRedisNotReady, err)
	}
	return client, nil
}
