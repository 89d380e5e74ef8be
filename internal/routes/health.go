package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RegisterHealthRoutes adds liveness/readiness style endpoints.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		redisStatus := "disabled"

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if d.Cache != nil {
			redisStatus = "ok"
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				redisStatus = err.Error()
			}
		}
		status := http.StatusOK
		if redisStatus != "ok" && redisStatus != "disabled" {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    fiber.Map{"ledger": d.Cfg.LedgerBackend, "redis": redisStatus},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
