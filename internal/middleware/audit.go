package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit logs one line per request. Wallet mutations additionally carry the
// idempotency key so replays can be traced back to the first execution.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", responseStatus(c, err)),
			slog.Duration("duration", time.Since(start)),
			slog.String("ip", c.IP()),
		}
		if id := GetRequestID(c); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		if key := c.Get(idempotencyKeyHeader); key != "" {
			attrs = append(attrs, slog.String("idempotency_key", key))
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
			logger.Error("request completed", attrs...)
			return err
		}
		logger.Info("request completed", attrs...)
		return nil
	}
}

// responseStatus reports the status the client will see. Errors returned by
// handlers are only rendered by the app error handler after this middleware
// returns, so the response still holds its default status at this point.
func responseStatus(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}
