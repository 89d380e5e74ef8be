package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "wallet:idempotency:v1:"
	inProgressMarker     = "__in_progress__"
	cacheOpTimeout       = 2 * time.Second
)

type storedResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Idempotency makes unsafe requests replayable. The first response for a
// given Idempotency-Key and route is stored in Redis for ttl and returned
// verbatim on repeats, so a retried deposit or transfer is applied once.
// Failed requests release their key.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := c.Get(idempotencyKeyHeader)
		if key == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		}
		cacheKey := idempotencyPrefix + c.Method() + ":" + c.Path() + ":" + key

		ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
		defer cancel()

		reserved, err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Result()
		if err != nil {
			logger.Error("idempotency reservation failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		}
		if !reserved {
			return replay(c, cache, cacheKey, key, logger)
		}

		if err := c.Next(); err != nil {
			release(cache, cacheKey)
			return err
		}

		if err := persist(c, cache, cacheKey, ttl); err != nil {
			logger.Error("failed to persist idempotent response", slog.String("key", key), slog.Any("error", err))
			release(cache, cacheKey)
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency persistence failure")
		}
		return nil
	}
}

func replay(c *fiber.Ctx, cache *redis.Client, cacheKey, key string, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	cached, err := cache.Get(ctx, cacheKey).Result()
	if errors.Is(err, redis.Nil) || cached == inProgressMarker {
		return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
	}
	if err != nil {
		logger.Error("idempotency lookup failed", slog.String("key", key), slog.Any("error", err))
		return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(cached), &stored); err != nil {
		logger.Warn("failed to decode stored idempotent response", slog.String("key", key), slog.Any("error", err))
		return fiber.NewError(fiber.StatusConflict, "duplicate request")
	}
	for header, value := range stored.Headers {
		if strings.EqualFold(header, fiber.HeaderContentLength) {
			continue
		}
		c.Set(header, value)
	}
	c.Set("Idempotent-Replayed", "true")
	return c.Status(stored.Status).SendString(stored.Body)
}

func persist(c *fiber.Ctx, cache *redis.Client, cacheKey string, ttl time.Duration) error {
	stored := storedResponse{
		Status:  c.Response().StatusCode(),
		Body:    string(c.Response().Body()),
		Headers: map[string]string{},
	}
	c.Response().Header.VisitAll(func(k, v []byte) {
		stored.Headers[string(k)] = string(v)
	})
	payload, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	return cache.Set(ctx, cacheKey, payload, ttl).Err()
}

func release(cache *redis.Client, cacheKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	cache.Del(ctx, cacheKey) // best effort
}
