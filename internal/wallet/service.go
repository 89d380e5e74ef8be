package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/money"
)

// ErrInsufficientFunds is returned by debits that would leave a negative
// balance, only when the overdraft guard is enabled.
var ErrInsufficientFunds = errors.New("insufficient funds")

// PartialTransferError reports a transfer whose debit committed but whose
// credit did not. The ledger is left with the source debited; callers must
// reconcile. Err is the error from the failed credit.
type PartialTransferError struct {
	From   string
	To     string
	Amount money.Money
	Err    error
}

func (e *PartialTransferError) Error() string {
	return fmt.Sprintf("transfer %s from %s to %s partially applied: debit committed, credit failed: %v",
		e.Amount, e.From, e.To, e.Err)
}

func (e *PartialTransferError) Unwrap() error { return e.Err }

// Retryable reports whether err is a version conflict that can be fixed by
// re-running the whole operation. Partial transfers are never retryable.
func Retryable(err error) bool {
	var partial *PartialTransferError
	if errors.As(err, &partial) {
		return false
	}
	return errors.Is(err, ledger.ErrConcurrentModification)
}

// Service runs read-modify-write sequences against a ledger.Store. It holds
// no account state between calls and never retries on its own.
type Service struct {
	store          ledger.Store
	validator      Validator
	now            func() time.Time
	newID          func() string
	overdraftGuard bool
}

// Option configures a Service.
type Option func(*Service)

// WithValidators installs the pre-mutation hooks, run in order.
func WithValidators(v ...Validator) Option {
	return func(s *Service) {
		s.validator = Chain(v)
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithOverdraftGuard rejects debits that would drive a balance below zero.
func WithOverdraftGuard(enabled bool) Option {
	return func(s *Service) {
		s.overdraftGuard = enabled
	}
}

// NewService builds a wallet service over the given store.
func NewService(store ledger.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		validator: Chain(nil),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deposit credits amount minor units to userID and returns the new balance.
func (s *Service) Deposit(ctx context.Context, userID string, amount int64, currency string) (int64, error) {
	return s.mutate(ctx, ledger.OperatorDeposit, userID, amount, currency)
}

// Withdraw debits amount minor units from userID and returns the new balance.
func (s *Service) Withdraw(ctx context.Context, userID string, amount int64, currency string) (int64, error) {
	return s.mutate(ctx, ledger.OperatorWithdraw, userID, amount, currency)
}

func (s *Service) mutate(ctx context.Context, kind ledger.OperatorType, userID string, amount int64, currency string) (int64, error) {
	var balance int64
	err := s.guarded(ctx, Request{Kind: kind, UserID: userID, Amount: amount, Currency: currency}, func(m money.Money) error {
		candidate, err := s.candidate(ctx, userID, m, kind == ledger.OperatorWithdraw)
		if err != nil {
			return err
		}
		if err := s.commit(ctx, userID, candidate, s.record(kind, userID, m, userID, userID)); err != nil {
			return err
		}
		balance = candidate.Balance.Minor()
		return nil
	})
	return balance, err
}

// Transfer debits from and credits to as two independent conditional writes,
// then appends one TRANSFER record to from's history. The two writes are not
// atomic: if the credit fails after the debit committed, a
// *PartialTransferError wrapping the credit's error is returned.
func (s *Service) Transfer(ctx context.Context, from, to string, amount int64, currency string) error {
	req := Request{Kind: ledger.OperatorTransfer, UserID: from, TargetUserID: to, Amount: amount, Currency: currency}
	return s.guarded(ctx, req, func(m money.Money) error {
		// Reject a currency mismatch on the receiving side before anything is written.
		receiver, err := s.store.GetAccount(ctx, to)
		if err != nil {
			return err
		}
		if c := receiver.Balance.Currency(); c != "" && c != m.Currency() {
			return fmt.Errorf("%w: %s holds %s, transfer is in %s",
				money.ErrIncompatibleCurrency, to, receiver.Balance.Currency(), m.Currency())
		}

		debit, err := s.candidate(ctx, from, m, true)
		if err != nil {
			return err
		}
		if err := s.store.PutAccount(ctx, from, debit); err != nil {
			return err
		}

		credit, err := s.candidate(ctx, to, m, false)
		if err == nil {
			err = s.store.PutAccount(ctx, to, credit)
		}
		if err != nil {
			return &PartialTransferError{From: from, To: to, Amount: m, Err: err}
		}

		return s.store.AppendRecord(ctx, from, s.record(ledger.OperatorTransfer, from, m, from, to))
	})
}

// QueryBalance returns the stored balance in minor units, 0 for unknown users.
func (s *Service) QueryBalance(ctx context.Context, userID string) (int64, error) {
	acct, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return acct.Balance.Minor(), nil
}

// Balance returns the balance together with its currency and version.
func (s *Service) Balance(ctx context.Context, userID string) (Balance, error) {
	acct, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		UserID:   userID,
		Amount:   acct.Balance.Minor(),
		Currency: acct.Balance.Currency(),
		Version:  acct.Version,
		AsOf:     s.now(),
	}, nil
}

// QueryTransactionRecords returns userID's records in insertion order.
func (s *Service) QueryTransactionRecords(ctx context.Context, userID string) ([]ledger.TransactionRecord, error) {
	return s.store.GetRecords(ctx, userID)
}

// guarded runs the validation hook, then the argument checks, then op.
// Nothing touches the store unless both pass.
func (s *Service) guarded(ctx context.Context, req Request, op func(money.Money) error) error {
	if err := s.validator.Validate(ctx, req); err != nil {
		return err
	}
	if req.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative, got %d", money.ErrInvalidArgument, req.Amount)
	}
	m, err := money.New(req.Amount, req.Currency)
	if err != nil {
		return err
	}
	return op(m)
}

// candidate reads the current account and builds its successor with the
// balance moved by m and the version bumped by one.
func (s *Service) candidate(ctx context.Context, userID string, m money.Money, debit bool) (ledger.Account, error) {
	current, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return ledger.Account{}, err
	}

	now := s.now()
	balance, createdAt := current.Balance, current.CreatedAt
	if balance.Currency() == "" {
		// nothing stored yet; the first write establishes the account currency
		if balance, err = money.Zero(m.Currency()); err != nil {
			return ledger.Account{}, err
		}
	}
	if createdAt.IsZero() {
		createdAt = now
	}

	var next money.Money
	if debit {
		next, err = balance.Subtract(m)
	} else {
		next, err = balance.Add(m)
	}
	if err != nil {
		return ledger.Account{}, err
	}
	if debit && s.overdraftGuard && next.IsNegative() {
		return ledger.Account{}, fmt.Errorf("%w: %s holds %s, debit of %s", ErrInsufficientFunds, userID, balance, m)
	}

	return ledger.Account{
		UserID:     userID,
		Balance:    next,
		Version:    current.Version + 1,
		CreatedAt:  createdAt,
		ModifiedAt: now,
	}, nil
}

func (s *Service) commit(ctx context.Context, userID string, candidate ledger.Account, record ledger.TransactionRecord) error {
	if c, ok := s.store.(ledger.Committer); ok {
		return c.Commit(ctx, userID, candidate, record)
	}
	if err := s.store.PutAccount(ctx, userID, candidate); err != nil {
		return err
	}
	return s.store.AppendRecord(ctx, userID, record)
}

func (s *Service) record(kind ledger.OperatorType, operator string, m money.Money, from, to string) ledger.TransactionRecord {
	now := s.now()
	return ledger.TransactionRecord{
		ID:             s.newID(),
		OperatorType:   kind,
		Amount:         m,
		OperatorUserID: operator,
		From:           from,
		To:             to,
		Remark:         operator + string(kind) + m.AmountString(),
		CreatedAt:      now,
		ModifiedAt:     now,
	}
}
