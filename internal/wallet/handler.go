package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/money"
	"github.com/congo-pay/wallet_ledger/internal/notification"
	"github.com/congo-pay/wallet_ledger/internal/retrier"
)

// Handler exposes wallet HTTP endpoints. Conflicts are retried here, never
// inside the Service.
type Handler struct {
	service  *Service
	notifier notification.Notifier
	logger   *slog.Logger
	retry    *retrier.Retrier
}

// NewHandler builds a wallet HTTP handler. Retry options are applied on top
// of a predicate that only retries version conflicts.
func NewHandler(service *Service, notifier notification.Notifier, logger *slog.Logger, retryOpts ...retrier.Option) *Handler {
	opts := append([]retrier.Option{retrier.WithRetryIf(Retryable)}, retryOpts...)
	return &Handler{
		service:  service,
		notifier: notifier,
		logger:   logger,
		retry:    retrier.New(opts...),
	}
}

type amountRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type transferRequest struct {
	FromUserID string          `json:"from_user_id"`
	ToUserID   string          `json:"to_user_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
}

type balanceResponse struct {
	UserID   string `json:"user_id"`
	Balance  int64  `json:"balance"`
	Amount   string `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

// Deposit credits the wallet named in the path.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	return h.mutate(c, h.service.Deposit)
}

// Withdraw debits the wallet named in the path.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	return h.mutate(c, h.service.Withdraw)
}

func (h *Handler) mutate(c *fiber.Ctx, op func(context.Context, string, int64, string) (int64, error)) error {
	userID := c.Params("userId")
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := toMoney(req.Amount, req.Currency)
	if err != nil {
		return h.fail(c, err)
	}

	balance, err := retrier.DoWithData(h.retry, c.UserContext(), func(ctx context.Context) (int64, error) {
		return op(ctx, userID, amount.Minor(), amount.Currency())
	})
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(http.StatusOK).JSON(balanceResponse{
		UserID:   userID,
		Balance:  balance,
		Amount:   money.MustNew(balance, amount.Currency()).DecimalString(),
		Currency: amount.Currency(),
	})
}

// Transfer moves funds between two wallets.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := toMoney(req.Amount, req.Currency)
	if err != nil {
		return h.fail(c, err)
	}

	err = h.retry.Do(c.UserContext(), func(ctx context.Context) error {
		return h.service.Transfer(ctx, req.FromUserID, req.ToUserID, amount.Minor(), amount.Currency())
	})
	if err != nil {
		return h.fail(c, err)
	}

	if h.notifier != nil {
		msg := notification.Message{
			Kind:        notification.KindTransferReceived,
			Destination: req.ToUserID,
			Body:        fmt.Sprintf("received %s from %s", amount, req.FromUserID),
		}
		if err := h.notifier.Send(c.UserContext(), msg); err != nil {
			h.logger.Warn("transfer notification failed", slog.String("to", req.ToUserID), slog.Any("error", err))
		}
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"from_user_id": req.FromUserID,
		"to_user_id":   req.ToUserID,
		"amount":       amount.DecimalString(),
		"currency":     amount.Currency(),
	})
}

// Balance returns the stored balance, zero for unknown users.
func (h *Handler) Balance(c *fiber.Ctx) error {
	userID := c.Params("userId")
	b, err := h.service.Balance(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	resp := balanceResponse{UserID: userID, Balance: b.Amount, Currency: b.Currency}
	if b.Currency != "" {
		resp.Amount = money.MustNew(b.Amount, b.Currency).DecimalString()
	} else {
		resp.Amount = "0"
	}
	return c.Status(http.StatusOK).JSON(resp)
}

// Records lists the user's transaction records in insertion order.
func (h *Handler) Records(c *fiber.Ctx) error {
	records, err := h.service.QueryTransactionRecords(c.UserContext(), c.Params("userId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(ToOperatorRecords(records))
}

func toMoney(amount decimal.Decimal, code string) (money.Money, error) {
	if strings.TrimSpace(code) == "" {
		code = money.DefaultCurrency
	}
	return money.FromDecimalValue(amount, code)
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	var partial *PartialTransferError
	switch {
	case errors.As(err, &partial):
		h.logger.Error("transfer partially applied",
			slog.String("from", partial.From),
			slog.String("to", partial.To),
			slog.String("amount", partial.Amount.String()),
			slog.Any("error", partial.Err),
		)
		return c.Status(http.StatusConflict).JSON(fiber.Map{
			"error":   err.Error(),
			"partial": true,
		})
	case errors.Is(err, ErrValidation),
		errors.Is(err, money.ErrInvalidArgument),
		errors.Is(err, ErrInsufficientFunds):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, money.ErrIncompatibleCurrency):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrConcurrentModification):
		h.logger.Warn("conflict retries exhausted", slog.Any("error", err))
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
