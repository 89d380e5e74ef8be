package infra

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 3 * time.Second

// NewRedisClient builds the client shared by the Redis ledger store and the
// idempotency cache, and verifies connectivity before returning it.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}

	return client, nil
}
