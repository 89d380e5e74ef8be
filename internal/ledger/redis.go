package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet_ledger/internal/money"
)

const (
	accountKeyPrefix = "ledger:account:"
	recordKeyPrefix  = "ledger:records:"
)

// putAccountScript applies the version precondition and the write in one step.
// It returns -1 on success, otherwise the stored version that blocked the write.
var putAccountScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) >= tonumber(ARGV[1]) then
  return tonumber(current)
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'balance', ARGV[2], 'currency', ARGV[3], 'created_at', ARGV[4], 'modified_at', ARGV[5])
return -1
`)

// commitScript is putAccountScript followed by an RPUSH of the paired record.
var commitScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) >= tonumber(ARGV[1]) then
  return tonumber(current)
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'balance', ARGV[2], 'currency', ARGV[3], 'created_at', ARGV[4], 'modified_at', ARGV[5])
redis.call('RPUSH', KEYS[2], ARGV[6])
return -1
`)

var (
	_ Store     = (*RedisStore)(nil)
	_ Committer = (*RedisStore)(nil)
)

// RedisStore keeps accounts as Redis hashes and records as Redis lists.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a Store backed by the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// GetAccount loads the account hash, or a version-0 account when absent.
func (s *RedisStore) GetAccount(ctx context.Context, userID string) (Account, error) {
	fields, err := s.client.HGetAll(ctx, accountKeyPrefix+userID).Result()
	if err != nil {
		return Account{}, errors.Wrapf(err, "load account %s", userID)
	}
	if len(fields) == 0 {
		return emptyAccount(userID), nil
	}

	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return Account{}, errors.Wrapf(err, "decode version of account %s", userID)
	}
	minor, err := strconv.ParseInt(fields["balance"], 10, 64)
	if err != nil {
		return Account{}, errors.Wrapf(err, "decode balance of account %s", userID)
	}
	balance, err := money.New(minor, fields["currency"])
	if err != nil {
		return Account{}, errors.Wrapf(err, "decode currency of account %s", userID)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return Account{}, errors.Wrapf(err, "decode created_at of account %s", userID)
	}
	modifiedAt, err := time.Parse(time.RFC3339Nano, fields["modified_at"])
	if err != nil {
		return Account{}, errors.Wrapf(err, "decode modified_at of account %s", userID)
	}

	return Account{
		UserID:     userID,
		Balance:    balance,
		Version:    version,
		CreatedAt:  createdAt,
		ModifiedAt: modifiedAt,
	}, nil
}

// PutAccount performs the conditional write inside a Lua script so the
// version check and the update are atomic on the server.
func (s *RedisStore) PutAccount(ctx context.Context, userID string, candidate Account) error {
	if err := checkCandidate(userID, candidate); err != nil {
		return err
	}
	stored, err := putAccountScript.Run(ctx, s.client, []string{accountKeyPrefix + userID},
		accountArgs(candidate)...,
	).Int64()
	if err != nil {
		return errors.Wrapf(err, "write account %s", userID)
	}
	return versionConflict(userID, stored, candidate.Version)
}

// Commit writes the account and appends the record in a single script.
func (s *RedisStore) Commit(ctx context.Context, userID string, candidate Account, record TransactionRecord) error {
	if err := checkCandidate(userID, candidate); err != nil {
		return err
	}
	payload, err := encodeRecord(record)
	if err != nil {
		return err
	}
	stored, err := commitScript.Run(ctx, s.client,
		[]string{accountKeyPrefix + userID, recordKeyPrefix + userID},
		append(accountArgs(candidate), payload)...,
	).Int64()
	if err != nil {
		return errors.Wrapf(err, "commit account %s", userID)
	}
	return versionConflict(userID, stored, candidate.Version)
}

func accountArgs(a Account) []interface{} {
	return []interface{}{
		a.Version,
		a.Balance.Minor(),
		a.Balance.Currency(),
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
		a.ModifiedAt.UTC().Format(time.RFC3339Nano),
	}
}

func versionConflict(userID string, stored, candidate int64) error {
	if stored < 0 {
		return nil
	}
	return fmt.Errorf("%w: user %s stored version %d, candidate %d",
		ErrConcurrentModification, userID, stored, candidate)
}

type recordPayload struct {
	ID             string    `json:"id"`
	OperatorType   string    `json:"operator_type"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	OperatorUserID string    `json:"operator_user_id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Remark         string    `json:"remark"`
	CreatedAt      time.Time `json:"created_at"`
	ModifiedAt     time.Time `json:"modified_at"`
}

// AppendRecord pushes the record to the tail of the user's list.
func (s *RedisStore) AppendRecord(ctx context.Context, userID string, record TransactionRecord) error {
	payload, err := encodeRecord(record)
	if err != nil {
		return err
	}
	if err := s.client.RPush(ctx, recordKeyPrefix+userID, payload).Err(); err != nil {
		return errors.Wrapf(err, "append record for %s", userID)
	}
	return nil
}

func encodeRecord(record TransactionRecord) (string, error) {
	payload, err := json.Marshal(recordPayload{
		ID:             record.ID,
		OperatorType:   string(record.OperatorType),
		Amount:         record.Amount.Minor(),
		Currency:       record.Amount.Currency(),
		OperatorUserID: record.OperatorUserID,
		From:           record.From,
		To:             record.To,
		Remark:         record.Remark,
		CreatedAt:      record.CreatedAt.UTC(),
		ModifiedAt:     record.ModifiedAt.UTC(),
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal transaction record")
	}
	return string(payload), nil
}

// GetRecords returns the user's records in insertion order.
func (s *RedisStore) GetRecords(ctx context.Context, userID string) ([]TransactionRecord, error) {
	raw, err := s.client.LRange(ctx, recordKeyPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "load records for %s", userID)
	}
	records := make([]TransactionRecord, 0, len(raw))
	for _, item := range raw {
		var p recordPayload
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			return nil, errors.Wrap(err, "decode transaction record")
		}
		amount, err := money.New(p.Amount, p.Currency)
		if err != nil {
			return nil, errors.Wrap(err, "decode record amount")
		}
		records = append(records, TransactionRecord{
			ID:             p.ID,
			OperatorType:   OperatorType(p.OperatorType),
			Amount:         amount,
			OperatorUserID: p.OperatorUserID,
			From:           p.From,
			To:             p.To,
			Remark:         p.Remark,
			CreatedAt:      p.CreatedAt,
			ModifiedAt:     p.ModifiedAt,
		})
	}
	return records, nil
}
