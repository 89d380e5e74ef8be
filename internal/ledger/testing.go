package ledger

import "github.com/congo-pay/wallet_ledger/internal/money"

// SeedAccount is a test helper that installs an account directly in the
// in-memory store, bypassing the version check.
func SeedAccount(s Store, userID string, balance money.Money, version int64) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.accounts.Store(userID, &Account{UserID: userID, Balance: balance, Version: version})
	}
}
