package ledger

import (
	"context"
	"fmt"
	"sync"
)

type inMemoryStore struct {
	// accounts maps userID to *Account; writers swap pointers with CompareAndSwap
	// so readers never wait on a lock.
	accounts sync.Map

	mu      sync.RWMutex
	records map[string][]TransactionRecord
}

// NewInMemory creates a concurrency-safe memory-resident store.
func NewInMemory() Store {
	return &inMemoryStore{records: make(map[string][]TransactionRecord)}
}

func (s *inMemoryStore) GetAccount(_ context.Context, userID string) (Account, error) {
	if v, ok := s.accounts.Load(userID); ok {
		return *v.(*Account), nil
	}
	return emptyAccount(userID), nil
}

func (s *inMemoryStore) PutAccount(_ context.Context, userID string, candidate Account) error {
	if err := checkCandidate(userID, candidate); err != nil {
		return err
	}
	next := candidate
	next.UserID = userID
	for {
		current, loaded := s.accounts.Load(userID)
		if !loaded {
			if _, raced := s.accounts.LoadOrStore(userID, &next); !raced {
				return nil
			}
			continue
		}
		stored := current.(*Account)
		if stored.Version >= next.Version {
			return fmt.Errorf("%w: user %s stored version %d, candidate %d",
				ErrConcurrentModification, userID, stored.Version, next.Version)
		}
		if s.accounts.CompareAndSwap(userID, current, &next) {
			return nil
		}
	}
}

// Commit holds the record lock across the account swap so record order
// matches version order for the account.
func (s *inMemoryStore) Commit(ctx context.Context, userID string, candidate Account, record TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.PutAccount(ctx, userID, candidate); err != nil {
		return err
	}
	s.records[userID] = append(s.records[userID], record)
	return nil
}

func (s *inMemoryStore) AppendRecord(_ context.Context, userID string, record TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[userID] = append(s.records[userID], record)
	return nil
}

func (s *inMemoryStore) GetRecords(_ context.Context, userID string) ([]TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TransactionRecord, len(s.records[userID]))
	copy(out, s.records[userID])
	return out, nil
}
