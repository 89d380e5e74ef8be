package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/money"
	"github.com/congo-pay/wallet_ledger/internal/retrier"
)

// spyStore counts store calls and can inject failures. It hides the inner
// store's Commit so the service takes the put-then-append path.
type spyStore struct {
	ledger.Store
	reads, writes, appends int
	putErr                 map[string]error
	staleBy                int64
}

func (s *spyStore) GetAccount(ctx context.Context, userID string) (ledger.Account, error) {
	s.reads++
	acct, err := s.Store.GetAccount(ctx, userID)
	if err == nil && acct.Exists() {
		acct.Version -= s.staleBy
	}
	return acct, err
}

func (s *spyStore) PutAccount(ctx context.Context, userID string, candidate ledger.Account) error {
	s.writes++
	if err := s.putErr[userID]; err != nil {
		return err
	}
	return s.Store.PutAccount(ctx, userID, candidate)
}

func (s *spyStore) AppendRecord(ctx context.Context, userID string, record ledger.TransactionRecord) error {
	s.appends++
	return s.Store.AppendRecord(ctx, userID, record)
}

func cny(minor int64) money.Money { return money.MustNew(minor, "CNY") }

func TestDepositCreatesAccount(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store)
	ctx := context.Background()

	balance, err := svc.Deposit(ctx, "alice", 150, "CNY")
	require.NoError(t, err)
	assert.Equal(t, int64(150), balance)

	acct, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), acct.Version)
	assert.Equal(t, "CNY", acct.Balance.Currency())

	records, err := svc.QueryTransactionRecords(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, ledger.OperatorDeposit, r.OperatorType)
	assert.Equal(t, cny(150), r.Amount)
	assert.Equal(t, "alice", r.OperatorUserID)
	assert.Equal(t, "alice", r.From)
	assert.Equal(t, "alice", r.To)
	assert.Equal(t, "aliceDEPOSIT1.50", r.Remark)
	assert.NotEmpty(t, r.ID)
}

func TestBalanceIsSumOfSignedAmounts(t *testing.T) {
	svc := NewService(ledger.NewInMemory())
	ctx := context.Background()

	ops := []struct {
		deposit bool
		amount  int64
	}{
		{true, 1000}, {false, 250}, {true, 75}, {false, 1000}, {true, 0},
	}
	var want, balance int64
	var err error
	for _, op := range ops {
		if op.deposit {
			want += op.amount
			balance, err = svc.Deposit(ctx, "alice", op.amount, "CNY")
		} else {
			want -= op.amount
			balance, err = svc.Withdraw(ctx, "alice", op.amount, "CNY")
		}
		require.NoError(t, err)
		assert.Equal(t, want, balance)
	}

	b, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(-175), b.Amount, "overdraft permitted by default")
	assert.Equal(t, int64(len(ops)), b.Version)
	assert.Equal(t, "CNY", b.Currency)
}

func TestZeroAmountBumpsVersion(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, "alice", 0, "CNY")
	require.NoError(t, err)
	balance, err := svc.Withdraw(ctx, "alice", 0, "CNY")
	require.NoError(t, err)
	assert.Zero(t, balance)

	acct, _ := store.GetAccount(ctx, "alice")
	assert.Equal(t, int64(2), acct.Version)
}

func TestRejectsNegativeAmountAndUnknownCurrency(t *testing.T) {
	store := &spyStore{Store: ledger.NewInMemory()}
	svc := NewService(store)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, "alice", -1, "CNY")
	assert.ErrorIs(t, err, money.ErrInvalidArgument)
	_, err = svc.Withdraw(ctx, "alice", 10, "XXY")
	assert.ErrorIs(t, err, money.ErrInvalidArgument)
	err = svc.Transfer(ctx, "alice", "bob", -5, "CNY")
	assert.ErrorIs(t, err, money.ErrInvalidArgument)

	assert.Zero(t, store.reads+store.writes+store.appends)
}

func TestDepositBuildsOnStoredBalanceAtVersionZero(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedAccount(store, "a", cny(500), 0)
	svc := NewService(store)
	ctx := context.Background()

	balance, err := svc.Deposit(ctx, "a", 100, "CNY")
	require.NoError(t, err)
	assert.Equal(t, int64(600), balance)

	acct, _ := store.GetAccount(ctx, "a")
	assert.Equal(t, int64(1), acct.Version)
	assert.False(t, acct.CreatedAt.IsZero())

	ledger.SeedAccount(store, "b", money.MustNew(0, "USD"), 0)
	_, err = svc.Deposit(ctx, "b", 1, "CNY")
	assert.ErrorIs(t, err, money.ErrIncompatibleCurrency, "a seeded currency is kept even at version 0")
}

func TestCurrencyIsFixedByFirstWrite(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, "alice", 100, "CNY")
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, "alice", 100, "USD")
	assert.ErrorIs(t, err, money.ErrIncompatibleCurrency)

	acct, _ := store.GetAccount(ctx, "alice")
	assert.Equal(t, int64(1), acct.Version)
	assert.Equal(t, cny(100), acct.Balance)
}

func TestOverdraftGuard(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store, WithOverdraftGuard(true))
	ctx := context.Background()
	ledger.SeedAccount(store, "alice", cny(100), 1)

	_, err := svc.Withdraw(ctx, "alice", 101, "CNY")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	err = svc.Transfer(ctx, "alice", "bob", 500, "CNY")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	balance, err := svc.Withdraw(ctx, "alice", 100, "CNY")
	require.NoError(t, err)
	assert.Zero(t, balance)

	records, _ := store.GetRecords(ctx, "alice")
	assert.Len(t, records, 1)
}

func TestTransferMovesFundsAndRecordsOnSender(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store)
	ctx := context.Background()
	ledger.SeedAccount(store, "A", cny(500), 1)
	ledger.SeedAccount(store, "B", cny(200), 1)

	require.NoError(t, svc.Transfer(ctx, "A", "B", 100, "CNY"))

	a, _ := svc.QueryBalance(ctx, "A")
	b, _ := svc.QueryBalance(ctx, "B")
	assert.Equal(t, int64(400), a)
	assert.Equal(t, int64(300), b)

	records, err := svc.QueryTransactionRecords(ctx, "A")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ledger.OperatorTransfer, records[0].OperatorType)
	assert.Equal(t, "A", records[0].From)
	assert.Equal(t, "B", records[0].To)
	assert.Equal(t, cny(100), records[0].Amount)
	assert.Equal(t, "ATRANSFER1", records[0].Remark)

	received, err := svc.QueryTransactionRecords(ctx, "B")
	require.NoError(t, err)
	assert.Empty(t, received)
}

func TestTransferToNewAccount(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store)
	ctx := context.Background()
	ledger.SeedAccount(store, "A", cny(500), 1)

	require.NoError(t, svc.Transfer(ctx, "A", "B", 500, "CNY"))

	acct, _ := store.GetAccount(ctx, "B")
	assert.Equal(t, cny(500), acct.Balance)
	assert.Equal(t, int64(1), acct.Version)
}

func TestTransferRejectsReceiverCurrencyBeforeDebit(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store)
	ctx := context.Background()
	ledger.SeedAccount(store, "A", cny(500), 1)
	ledger.SeedAccount(store, "B", money.MustNew(200, "USD"), 1)

	err := svc.Transfer(ctx, "A", "B", 100, "CNY")
	assert.ErrorIs(t, err, money.ErrIncompatibleCurrency)

	a, _ := store.GetAccount(ctx, "A")
	assert.Equal(t, cny(500), a.Balance)
	assert.Equal(t, int64(1), a.Version)
}

func TestPartialTransferSurfacesCreditFailure(t *testing.T) {
	inner := ledger.NewInMemory()
	ledger.SeedAccount(inner, "A", cny(500), 1)
	ledger.SeedAccount(inner, "B", cny(200), 1)
	store := &spyStore{Store: inner, putErr: map[string]error{"B": ledger.ErrConcurrentModification}}
	svc := NewService(store)
	ctx := context.Background()

	err := svc.Transfer(ctx, "A", "B", 100, "CNY")
	require.Error(t, err)

	var partial *PartialTransferError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "A", partial.From)
	assert.Equal(t, "B", partial.To)
	assert.Equal(t, cny(100), partial.Amount)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	assert.False(t, Retryable(err), "a partial transfer must not be re-run")

	// debit stays applied, no compensation and no record
	a, _ := inner.GetAccount(ctx, "A")
	assert.Equal(t, cny(400), a.Balance)
	b, _ := inner.GetAccount(ctx, "B")
	assert.Equal(t, cny(200), b.Balance)
	assert.Zero(t, store.appends)
}

func TestConflictIsSurfacedWithoutRetry(t *testing.T) {
	inner := ledger.NewInMemory()
	ledger.SeedAccount(inner, "alice", cny(100), 3)
	store := &spyStore{Store: inner, staleBy: 1}
	svc := NewService(store)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, "alice", 50, "CNY")
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	assert.True(t, Retryable(err))
	assert.Equal(t, 1, store.writes, "service must not retry on its own")
	assert.Zero(t, store.appends)

	acct, _ := inner.GetAccount(ctx, "alice")
	assert.Equal(t, cny(100), acct.Balance)
	assert.Equal(t, int64(3), acct.Version)
}

func TestValidationBlocksMutation(t *testing.T) {
	store := &spyStore{Store: ledger.NewInMemory()}
	var seen []Request
	reject := ValidatorFunc(func(_ context.Context, req Request) error {
		seen = append(seen, req)
		return ErrValidation
	})
	svc := NewService(store, WithValidators(reject))
	ctx := context.Background()

	_, err := svc.Deposit(ctx, "alice", 10, "CNY")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Withdraw(ctx, "alice", 10, "CNY")
	assert.ErrorIs(t, err, ErrValidation)
	err = svc.Transfer(ctx, "alice", "bob", 10, "CNY")
	assert.ErrorIs(t, err, ErrValidation)

	assert.Zero(t, store.reads+store.writes+store.appends)
	require.Len(t, seen, 3)
	assert.Equal(t, Request{Kind: ledger.OperatorTransfer, UserID: "alice", TargetUserID: "bob", Amount: 10, Currency: "CNY"}, seen[2])

	// queries bypass validation
	_, err = svc.QueryBalance(ctx, "alice")
	assert.NoError(t, err)
}

func TestChainStopsAtFirstFailure(t *testing.T) {
	var calls []string
	step := func(name string, err error) Validator {
		return ValidatorFunc(func(context.Context, Request) error {
			calls = append(calls, name)
			return err
		})
	}
	chain := Chain{step("a", nil), nil, step("b", ErrValidation), step("c", nil)}

	err := chain.Validate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestConcurrentDepositsWithRetry(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store)
	r := retrier.New(retrier.WithRetryIf(Retryable), retrier.WithMaxRetries(20), retrier.WithInitialInterval(time.Millisecond))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, amount := range []int64{50, 75} {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			errs <- r.Do(ctx, func(ctx context.Context) error {
				_, err := svc.Deposit(ctx, "alice", amount, "CNY")
				return err
			})
		}(amount)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	acct, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, cny(125), acct.Balance)
	assert.Equal(t, int64(2), acct.Version)

	records, _ := store.GetRecords(ctx, "alice")
	assert.Len(t, records, 2)
}

func TestManyConcurrentWritersLoseNothing(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store)
	r := retrier.New(retrier.WithRetryIf(Retryable), retrier.WithMaxRetries(1000),
		retrier.WithInitialInterval(time.Microsecond), retrier.WithMaxInterval(time.Millisecond))
	ctx := context.Background()

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Do(ctx, func(ctx context.Context) error {
				_, err := svc.Deposit(ctx, "alice", 10, "CNY")
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	acct, _ := store.GetAccount(ctx, "alice")
	assert.Equal(t, cny(10*writers), acct.Balance)
	assert.Equal(t, int64(writers), acct.Version)
}

func TestQueriesOnUnknownUser(t *testing.T) {
	svc := NewService(ledger.NewInMemory())
	ctx := context.Background()

	balance, err := svc.QueryBalance(ctx, "ghost")
	require.NoError(t, err)
	assert.Zero(t, balance)

	records, err := svc.QueryTransactionRecords(ctx, "ghost")
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestCreatedAtSurvivesLaterWrites(t *testing.T) {
	store := ledger.NewInMemory()
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(store, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	_, err := svc.Deposit(ctx, "alice", 10, "CNY")
	require.NoError(t, err)
	created := clock

	clock = clock.Add(time.Hour)
	_, err = svc.Deposit(ctx, "alice", 10, "CNY")
	require.NoError(t, err)

	acct, _ := store.GetAccount(ctx, "alice")
	assert.Equal(t, created, acct.CreatedAt)
	assert.Equal(t, clock, acct.ModifiedAt)
}

func TestServiceOverRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc := NewService(ledger.NewRedisStore(client))
	ctx := context.Background()

	_, err := svc.Deposit(ctx, "A", 500, "CNY")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, "B", 200, "CNY")
	require.NoError(t, err)
	require.NoError(t, svc.Transfer(ctx, "A", "B", 100, "CNY"))

	a, _ := svc.QueryBalance(ctx, "A")
	b, _ := svc.QueryBalance(ctx, "B")
	assert.Equal(t, int64(400), a)
	assert.Equal(t, int64(300), b)

	records, err := svc.QueryTransactionRecords(ctx, "A")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, ledger.OperatorDeposit, records[0].OperatorType)
	assert.Equal(t, ledger.OperatorTransfer, records[1].OperatorType)

	received, _ := svc.QueryTransactionRecords(ctx, "B")
	assert.Len(t, received, 1)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ledger.ErrConcurrentModification))
	assert.False(t, Retryable(ErrValidation))
	assert.False(t, Retryable(errors.New("boom")))
	assert.False(t, Retryable(&PartialTransferError{Err: ledger.ErrConcurrentModification}))
}
