package wallet

import "time"

// Balance is a point-in-time view of an account.
type Balance struct {
	UserID   string
	Amount   int64
	Currency string
	Version  int64
	AsOf     time.Time
}
