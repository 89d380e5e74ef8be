package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

// RegisterWalletRoutes wires wallet endpoints. Mutations go on their own
// router so idempotency can be scoped to them.
func RegisterWalletRoutes(queries, mutations fiber.Router, h *wallet.Handler) {
	mutations.Post("/wallets/:userId/deposit", h.Deposit)
	mutations.Post("/wallets/:userId/withdraw", h.Withdraw)
	mutations.Post("/transfers", h.Transfer)

	queries.Get("/wallets/:userId/balance", h.Balance)
	queries.Get("/wallets/:userId/records", h.Records)
}
