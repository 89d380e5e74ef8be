package wallet

import (
	"context"
	"errors"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
)

// ErrValidation is wrapped by every error a Validator returns to reject an operation.
var ErrValidation = errors.New("validation failed")

// Request describes a mutating operation before it runs. Tags are read by
// struct-rule validators.
type Request struct {
	Kind         ledger.OperatorType `validate:"required,oneof=DEPOSIT WITHDRAW TRANSFER"`
	UserID       string              `validate:"required,max=64"`
	TargetUserID string              `validate:"omitempty,max=64,nefield=UserID"`
	Amount       int64               `validate:"gte=0"`
	Currency     string              `validate:"required,iso4217"`
}

// Validator is the pre-mutation hook. A non-nil error aborts the operation
// before any state is read or written.
type Validator interface {
	Validate(ctx context.Context, req Request) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, req Request) error

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// Chain runs validators in order and stops at the first failure.
type Chain []Validator

// Validate implements Validator.
func (c Chain) Validate(ctx context.Context, req Request) error {
	for _, v := range c {
		if v == nil {
			continue
		}
		if err := v.Validate(ctx, req); err != nil {
			return err
		}
	}
	return nil
}
