package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/congo-pay/wallet_ledger/internal/money"
)

// ErrConcurrentModification indicates a conditional account write lost the
// race: the stored version is already at or beyond the candidate's version.
// Callers may re-read the account and retry their own computation.
var ErrConcurrentModification = errors.New("account balance maybe changed, please try again")

// OperatorType names the kind of balance change captured by a record.
type OperatorType string

const (
	OperatorDeposit  OperatorType = "DEPOSIT"
	OperatorWithdraw OperatorType = "WITHDRAW"
	OperatorTransfer OperatorType = "TRANSFER"
)

// Valid reports whether t is one of the known operator types.
func (t OperatorType) Valid() bool {
	switch t {
	case OperatorDeposit, OperatorWithdraw, OperatorTransfer:
		return true
	default:
		return false
	}
}

// Account is the balance aggregate for one user. Values are immutable
// snapshots; a new Account is built for every write.
type Account struct {
	UserID     string
	Balance    money.Money
	Version    int64
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Exists reports whether the account has been written at least once.
func (a Account) Exists() bool {
	return a.Version > 0
}

// TransactionRecord is the immutable audit entry for one completed operation.
type TransactionRecord struct {
	ID             string
	OperatorType   OperatorType
	Amount         money.Money
	OperatorUserID string
	From           string
	To             string
	Remark         string
	CreatedAt      time.Time
	ModifiedAt     time.Time
}

// Store owns accounts and their record logs.
//
// GetAccount never fails on a missing account: it returns a zero-balance,
// version-0 account. PutAccount is a conditional write that fails with
// ErrConcurrentModification when a stored account exists whose version is
// greater than or equal to the candidate's. AppendRecord preserves insertion
// order and GetRecords returns an empty slice for unknown users.
type Store interface {
	GetAccount(ctx context.Context, userID string) (Account, error)
	PutAccount(ctx context.Context, userID string, candidate Account) error
	AppendRecord(ctx context.Context, userID string, record TransactionRecord) error
	GetRecords(ctx context.Context, userID string) ([]TransactionRecord, error)
}

// Committer is implemented by stores that can apply an account write and
// append its paired record as one atomic step. The write follows the same
// version precondition as Store.PutAccount; on conflict nothing is appended.
type Committer interface {
	Commit(ctx context.Context, userID string, candidate Account, record TransactionRecord) error
}

// checkCandidate rejects versions that could be confused with an absent
// account. Version 0 only ever means "never written".
func checkCandidate(userID string, candidate Account) error {
	if candidate.Version < 1 {
		return fmt.Errorf("%w: user %s candidate version %d, want at least 1",
			money.ErrInvalidArgument, userID, candidate.Version)
	}
	return nil
}

func emptyAccount(userID string) Account {
	return Account{UserID: userID}
}
