package sale

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Store keeps the purchase ledger and the current purchase limit.
type Store interface {
	Contribution(ctx context.Context, beneficiary string) (decimal.Decimal, error)
	SetContribution(ctx context.Context, beneficiary string, total decimal.Decimal) error
	// Limit returns the persisted limit; ok is false until SaveLimit is called.
	Limit(ctx context.Context) (limit decimal.Decimal, ok bool, err error)
	SaveLimit(ctx context.Context, limit decimal.Decimal) error
}

// MemoryStore keeps sale state in process.
type MemoryStore struct {
	mu       sync.RWMutex
	contrib  map[string]decimal.Decimal
	limit    decimal.Decimal
	limitSet bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contrib: make(map[string]decimal.Decimal)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Contribution(ctx context.Context, beneficiary string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contrib[beneficiary], nil
}

func (s *MemoryStore) SetContribution(ctx context.Context, beneficiary string, total decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if total.IsZero() {
		delete(s.contrib, beneficiary)
		return nil
	}
	s.contrib[beneficiary] = total
	return nil
}

func (s *MemoryStore) Limit(ctx context.Context) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limit, s.limitSet, nil
}

func (s *MemoryStore) SaveLimit(ctx context.Context, limit decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit, s.limitSet = limit, true
	return nil
}
