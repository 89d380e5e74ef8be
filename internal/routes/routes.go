package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet_ledger/internal/config"
	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/middleware"
	"github.com/congo-pay/wallet_ledger/internal/notification"
	"github.com/congo-pay/wallet_ledger/internal/retrier"
	"github.com/congo-pay/wallet_ledger/internal/validation"
	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Cfg.LedgerBackend == config.BackendRedis && d.Cache == nil {
		return fmt.Errorf("redis is required when LEDGER_BACKEND=%s", config.BackendRedis)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	var store ledger.Store
	if d.Cfg.LedgerBackend == config.BackendRedis {
		store = ledger.NewRedisStore(d.Cache)
	} else {
		store = ledger.NewInMemory()
	}

	validators := []wallet.Validator{validation.NewRules()}
	if d.Cfg.ThrottleRate != "" {
		throttle, err := validation.NewThrottle(d.Cfg.ThrottleRate)
		if err != nil {
			return err
		}
		validators = append(validators, throttle)
	}

	walletSvc := wallet.NewService(store,
		wallet.WithValidators(validators...),
		wallet.WithOverdraftGuard(!d.Cfg.AllowOverdraft),
	)
	notifier := notification.NewLoggerNotifier(d.Logger)
	walletHandler := wallet.NewHandler(walletSvc, notifier, d.Logger,
		retrier.WithMaxRetries(d.Cfg.ConflictRetries),
		retrier.WithInitialInterval(d.Cfg.ConflictBackoff),
	)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID := middleware.GetRequestID(c)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	mutations := api.Group("")
	if d.Cache != nil {
		mutations = api.Group("", middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterWalletRoutes(api, mutations, walletHandler)

	return nil
}
