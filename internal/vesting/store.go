package vesting

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Store persists the grant arena and the beneficiary index.
type Store interface {
	// Append assigns sequential ids to every grant and stores them together.
	Append(ctx context.Context, grants []Grant) ([]uint64, error)
	Get(ctx context.Context, id uint64) (Grant, error)
	// SetClaimed moves TotalClaimed of grant id from prev to total. It fails
	// with ErrClaimConflict when the stored value is no longer prev.
	SetClaimed(ctx context.Context, id uint64, prev, total decimal.Decimal) error
	// IDsFor lists grant ids created for beneficiary in creation order.
	IDsFor(ctx context.Context, beneficiary string) ([]uint64, error)
}

// MemoryStore is an append-only in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	grants []Grant
	byBen  map[string][]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byBen: make(map[string][]uint64)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Append(ctx context.Context, grants []Grant) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(grants))
	for _, g := range grants {
		g.ID = uint64(len(s.grants))
		s.grants = append(s.grants, g)
		s.byBen[g.Beneficiary] = append(s.byBen[g.Beneficiary], g.ID)
		out = append(out, g.ID)
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uint64) (Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id >= uint64(len(s.grants)) {
		return Grant{}, ErrGrantNotFound
	}
	return s.grants[id], nil
}

func (s *MemoryStore) SetClaimed(ctx context.Context, id uint64, prev, total decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id >= uint64(len(s.grants)) {
		return ErrGrantNotFound
	}
	if !s.grants[id].TotalClaimed.Equal(prev) {
		return ErrClaimConflict
	}
	s.grants[id].TotalClaimed = total
	return nil
}

func (s *MemoryStore) IDsFor(ctx context.Context, beneficiary string) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uint64{}, s.byBen[beneficiary]...), nil
}
