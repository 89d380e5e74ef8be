package validation

import (
	"context"
	"fmt"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

// Throttle caps how many mutating operations a single user may start per
// period. Counting is keyed by the acting user id.
type Throttle struct {
	limiter *limiter.Limiter
}

// NewThrottle parses a formatted rate such as "600-M" and builds an
// in-process throttle.
func NewThrottle(formatted string) (*Throttle, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("parse throttle rate %q: %w", formatted, err)
	}
	store := memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          "wallet_throttle",
		CleanUpInterval: limiter.DefaultCleanUpInterval,
	})
	return &Throttle{limiter: limiter.New(store, rate)}, nil
}

// Validate implements wallet.Validator.
func (t *Throttle) Validate(ctx context.Context, req wallet.Request) error {
	lctx, err := t.limiter.Get(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("throttle lookup for %s: %w", req.UserID, err)
	}
	if lctx.Reached {
		return fmt.Errorf("%w: %s exceeded %d operations per window", wallet.ErrValidation, req.UserID, lctx.Limit)
	}
	return nil
}
