package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Service defines ledger operations.
type Service interface {
	Mint(ctx context.Context, to string, amt Money) (Transaction, error)
	GetAccount(ctx context.Context, addr string) (Account, error)
	BalanceOf(ctx context.Context, addr, asset string) (Money, error)
	Transfer(ctx context.Context, from, to string, amt Money, idemKey string) (Transaction, error)
	// Apply executes every leg or none of them.
	Apply(ctx context.Context, legs []Leg, idemKey string) ([]Transaction, error)
	Approve(ctx context.Context, owner, spender string, amt Money) error
	Allowance(ctx context.Context, owner, spender, asset string) (Money, error)
	TransferFrom(ctx context.Context, spender, from, to string, amt Money, idemKey string) (Transaction, error)
	ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]Transaction, uint64, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu     sync.RWMutex
	accts  map[string]map[string]decimal.Decimal // address -> asset -> units
	allow  map[string]decimal.Decimal            // owner|spender|asset -> units
	seq    uint64
	txs    []Transaction
	idem   map[string][]Transaction // idemKey -> txs
	nowFun func() time.Time
}

// NewInMemory creates a fresh ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		accts:  make(map[string]map[string]decimal.Decimal),
		allow:  make(map[string]decimal.Decimal),
		idem:   make(map[string][]Transaction),
		nowFun: func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemory) Mint(ctx context.Context, to string, amt Money) (Transaction, error) {
	if !ValidAmount(amt.Amount) {
		return Transaction{}, ErrInvalidAmount
	}
	asset := strings.ToUpper(strings.TrimSpace(amt.Asset))
	if asset == "" {
		return Transaction{}, ErrInvalidAsset
	}
	addr, err := NormalizeAddress(to)
	if err != nil {
		return Transaction{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.credit(addr, asset, amt.Amount)
	return s.record("", addr, asset, amt.Amount, ""), nil
}

func (s *InMemory) GetAccount(ctx context.Context, addr string) (Account, error) {
	addr, err := NormalizeAddress(addr)
	if err != nil {
		return Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	bals, ok := s.accts[addr]
	if !ok {
		return Account{}, ErrNotFound
	}
	// return copy
	out := Account{Address: addr, Balances: make(map[string]decimal.Decimal, len(bals))}
	for k, v := range bals {
		out.Balances[k] = v
	}
	return out, nil
}

// BalanceOf returns zero for addresses the ledger has never seen.
func (s *InMemory) BalanceOf(ctx context.Context, addr, asset string) (Money, error) {
	addr, err := NormalizeAddress(addr)
	if err != nil {
		return Money{}, err
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return Money{}, ErrInvalidAsset
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Money{Asset: asset, Amount: s.balance(addr, asset)}, nil
}

func (s *InMemory) Transfer(ctx context.Context, from, to string, amt Money, idemKey string) (Transaction, error) {
	txs, err := s.Apply(ctx, []Leg{{From: from, To: to, Money: amt}}, idemKey)
	if err != nil {
		return Transaction{}, err
	}
	return txs[0], nil
}

func (s *InMemory) Apply(ctx context.Context, legs []Leg, idemKey string) ([]Transaction, error) {
	if len(legs) == 0 {
		return nil, ErrEmptyBatch
	}
	norm := make([]Leg, len(legs))
	for i, l := range legs {
		v, err := NormalizeLeg(l)
		if err != nil {
			return nil, err
		}
		norm[i] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotency
	if idemKey != "" {
		if txs, ok := s.idem[idemKey]; ok {
			return append([]Transaction(nil), txs...), nil
		}
	}

	// Dry run against a scratch view so a later leg cannot overdraw funds an
	// earlier leg already spent.
	pending := make(map[string]decimal.Decimal)
	key := func(addr, asset string) string { return addr + "|" + asset }
	for _, l := range norm {
		fk := key(l.From, l.Money.Asset)
		bal, ok := pending[fk]
		if !ok {
			bal = s.balance(l.From, l.Money.Asset)
		}
		if bal.LessThan(l.Money.Amount) {
			return nil, ErrInsufficientFunds
		}
		pending[fk] = bal.Sub(l.Money.Amount)
		tk := key(l.To, l.Money.Asset)
		tbal, ok := pending[tk]
		if !ok {
			tbal = s.balance(l.To, l.Money.Asset)
		}
		pending[tk] = tbal.Add(l.Money.Amount)
	}

	// Apply mutation
	out := make([]Transaction, 0, len(norm))
	for _, l := range norm {
		s.debit(l.From, l.Money.Asset, l.Money.Amount)
		s.credit(l.To, l.Money.Asset, l.Money.Amount)
		out = append(out, s.record(l.From, l.To, l.Money.Asset, l.Money.Amount, idemKey))
	}
	if idemKey != "" {
		s.idem[idemKey] = append([]Transaction(nil), out...)
	}
	return out, nil
}

func (s *InMemory) Approve(ctx context.Context, owner, spender string, amt Money) error {
	owner, err := NormalizeAddress(owner)
	if err != nil {
		return err
	}
	spender, err = NormalizeAddress(spender)
	if err != nil {
		return err
	}
	asset := strings.ToUpper(strings.TrimSpace(amt.Asset))
	if asset == "" {
		return ErrInvalidAsset
	}
	if amt.Amount.IsNegative() || !amt.Amount.IsInteger() {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allow[owner+"|"+spender+"|"+asset] = amt.Amount
	return nil
}

func (s *InMemory) Allowance(ctx context.Context, owner, spender, asset string) (Money, error) {
	owner, err := NormalizeAddress(owner)
	if err != nil {
		return Money{}, err
	}
	spender, err = NormalizeAddress(spender)
	if err != nil {
		return Money{}, err
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Money{Asset: asset, Amount: s.allow[owner+"|"+spender+"|"+asset]}, nil
}

func (s *InMemory) TransferFrom(ctx context.Context, spender, from, to string, amt Money, idemKey string) (Transaction, error) {
	leg, err := NormalizeLeg(Leg{From: from, To: to, Money: amt})
	if err != nil {
		return Transaction{}, err
	}
	spender, err = NormalizeAddress(spender)
	if err != nil {
		return Transaction{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idemKey != "" {
		if txs, ok := s.idem[idemKey]; ok {
			return txs[0], nil
		}
	}
	ak := leg.From + "|" + spender + "|" + leg.Money.Asset
	if s.allow[ak].LessThan(leg.Money.Amount) {
		return Transaction{}, ErrInsufficientAllowance
	}
	if s.balance(leg.From, leg.Money.Asset).LessThan(leg.Money.Amount) {
		return Transaction{}, ErrInsufficientFunds
	}
	s.allow[ak] = s.allow[ak].Sub(leg.Money.Amount)
	s.debit(leg.From, leg.Money.Asset, leg.Money.Amount)
	s.credit(leg.To, leg.Money.Asset, leg.Money.Amount)
	tx := s.record(leg.From, leg.To, leg.Money.Asset, leg.Money.Amount, idemKey)
	if idemKey != "" {
		s.idem[idemKey] = []Transaction{tx}
	}
	return tx, nil
}

func (s *InMemory) ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Transaction
	var last uint64
	for _, tx := range s.txs {
		if tx.Sequence <= afterSeq {
			continue
		}
		res = append(res, tx)
		last = tx.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}

// --- helpers (callers hold s.mu) ---

func (s *InMemory) balance(addr, asset string) decimal.Decimal {
	if bals, ok := s.accts[addr]; ok {
		return bals[asset]
	}
	return decimal.Zero
}

func (s *InMemory) credit(addr, asset string, amt decimal.Decimal) {
	bals, ok := s.accts[addr]
	if !ok {
		bals = make(map[string]decimal.Decimal)
		s.accts[addr] = bals
	}
	bals[asset] = bals[asset].Add(amt)
}

func (s *InMemory) debit(addr, asset string, amt decimal.Decimal) {
	bals := s.accts[addr]
	bals[asset] = bals[asset].Sub(amt)
}

func (s *InMemory) record(from, to, asset string, amt decimal.Decimal, idemKey string) Transaction {
	s.seq++
	tx := Transaction{
		ID:             newTxID(),
		CreatedAt:      s.nowFun(),
		From:           from,
		To:             to,
		Asset:          asset,
		Amount:         amt,
		IdempotencyKey: idemKey,
		Sequence:       s.seq,
	}
	s.txs = append(s.txs, tx)
	return tx
}
