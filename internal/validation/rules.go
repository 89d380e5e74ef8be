package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

// Rules checks a request against the struct tags on wallet.Request.
type Rules struct {
	validate *validator.Validate
}

// NewRules builds a struct-rule validator.
func NewRules() *Rules {
	return &Rules{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate implements wallet.Validator.
func (r *Rules) Validate(_ context.Context, req wallet.Request) error {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := r.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: %s", wallet.ErrValidation, describe(fieldErrs))
		}
		return fmt.Errorf("%w: %v", wallet.ErrValidation, err)
	}
	if req.Kind == ledger.OperatorTransfer && req.TargetUserID == "" {
		return fmt.Errorf("%w: transfer needs a receiving user", wallet.ErrValidation)
	}
	return nil
}

func describe(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
