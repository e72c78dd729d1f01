package sale

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tokendist.org/internal/clock"
	"tokendist.org/internal/ids"
	"tokendist.org/internal/ledger"
	"tokendist.org/internal/obs"
	"tokendist.org/internal/stream"
	"tokendist.org/internal/vesting"
)

// Ledger is the part of the asset ledger the sale moves value through.
type Ledger interface {
	BalanceOf(ctx context.Context, addr, asset string) (ledger.Money, error)
	Transfer(ctx context.Context, from, to string, amt ledger.Money, idemKey string) (ledger.Transaction, error)
	Apply(ctx context.Context, legs []ledger.Leg, idemKey string) ([]ledger.Transaction, error)
}

// Vault is where purchased tokens vest. The sale must be its authorized creator.
type Vault interface {
	Address() string
	CreateGrants(ctx context.Context, caller string, reqs []vesting.GrantRequest) ([]uint64, error)
}

// Config wires a Sale to its accounts.
type Config struct {
	// Address is the sale's own ledger account. It holds the sellable
	// allocation and receives native payments.
	Address     string
	Owner       string
	TokenAsset  string
	NativeAsset string
	Params      Params
}

// Sale converts native payments into vesting grants.
type Sale struct {
	mu      sync.Mutex
	address string
	owner   string
	token   string
	native  string
	params  Params

	store  Store
	ledger Ledger
	vault  Vault
	clock  clock.Clock
	events stream.Publisher
}

// New validates cfg and restores a previously persisted purchase limit.
func New(ctx context.Context, cfg Config, store Store, l Ledger, v Vault, c clock.Clock) (*Sale, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	addr, err := ledger.NormalizeAddress(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("sale address: %w", err)
	}
	owner, err := ledger.NormalizeAddress(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("sale owner: %w", err)
	}
	token := strings.ToUpper(strings.TrimSpace(cfg.TokenAsset))
	native := strings.ToUpper(strings.TrimSpace(cfg.NativeAsset))
	if token == "" || native == "" || token == native {
		return nil, ledger.ErrInvalidAsset
	}
	if c == nil {
		c = clock.System{}
	}
	p := cfg.Params
	p.Start = p.Start.UTC().Truncate(time.Second)
	if limit, ok, err := store.Limit(ctx); err != nil {
		return nil, fmt.Errorf("load purchase limit: %w", err)
	} else if ok {
		p.PurchaseLimit = limit
	}
	return &Sale{
		address: addr,
		owner:   owner,
		token:   token,
		native:  native,
		params:  p,
		store:   store,
		ledger:  l,
		vault:   v,
		clock:   c,
	}, nil
}

// SetPublisher routes purchase and withdrawal events to p. Call before serving.
func (s *Sale) SetPublisher(p stream.Publisher) { s.events = p }

func (s *Sale) Address() string     { return s.address }
func (s *Sale) Owner() string       { return s.owner }
func (s *Sale) TokenAsset() string  { return s.token }
func (s *Sale) NativeAsset() string { return s.native }

// Params returns the sale parameters with the current purchase limit.
func (s *Sale) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Contribution returns the cumulative accepted payment for beneficiary.
func (s *Sale) Contribution(ctx context.Context, beneficiary string) (decimal.Decimal, error) {
	ben, err := ledger.NormalizeAddress(beneficiary)
	if err != nil {
		return decimal.Zero, ErrInvalidRecipient
	}
	return s.store.Contribution(ctx, ben)
}

// Receive handles a bare payment: the sender buys for itself.
func (s *Sale) Receive(ctx context.Context, sender string, value decimal.Decimal) (Purchase, error) {
	return s.Purchase(ctx, sender, sender, value)
}

// Purchase takes value native units from sender and issues the tokens they
// buy to beneficiary, split across the configured tranches.
//
// The contribution is recorded before any ledger or vault call and restored
// if one of them fails, so the limit check can never be bypassed by a
// concurrent or failed purchase.
func (s *Sale) Purchase(ctx context.Context, sender, beneficiary string, value decimal.Decimal) (Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	p, err := s.admit(ctx, now, sender, beneficiary, value)
	if err != nil {
		obs.ObservePurchase(purchaseResult(err), value)
		return Purchase{}, err
	}
	obs.ObservePurchase("ok", value)
	obs.LogEvent("info", "tokens_purchased", map[string]any{
		"purchase_id": p.ID,
		"sender":      p.Sender,
		"beneficiary": p.Beneficiary,
		"value":       p.Value.String(),
		"tokens":      p.Tokens.String(),
		"grant_ids":   p.GrantIDs,
	})
	stream.Emit(s.events, stream.KindPurchase, now, map[string]any{
		"purchase_id": p.ID,
		"beneficiary": p.Beneficiary,
		"value":       p.Value.String(),
		"tokens":      p.Tokens.String(),
		"grant_ids":   p.GrantIDs,
	})
	return p, nil
}

func (s *Sale) admit(ctx context.Context, now time.Time, sender, beneficiary string, value decimal.Decimal) (Purchase, error) {
	if !s.params.Open(now) {
		return Purchase{}, ErrSaleClosed
	}
	if !value.IsPositive() {
		return Purchase{}, ErrZeroPayment
	}
	if !value.IsInteger() {
		return Purchase{}, ledger.ErrInvalidAmount
	}
	from, err := ledger.NormalizeAddress(sender)
	if err != nil {
		return Purchase{}, err
	}
	ben, err := ledger.NormalizeAddress(beneficiary)
	if err != nil {
		return Purchase{}, ErrInvalidRecipient
	}

	prev, err := s.store.Contribution(ctx, ben)
	if err != nil {
		return Purchase{}, fmt.Errorf("load contribution: %w", err)
	}
	next := prev.Add(value)
	if next.GreaterThan(s.params.PurchaseLimit) {
		return Purchase{}, ErrPurchaseLimit
	}

	total := value.Mul(s.params.TokenPerWei)
	var (
		reqs      []vesting.GrantRequest
		vested    = decimal.Zero
		delivered = decimal.Zero
	)
	for _, part := range schedule(s.params, total, now) {
		if !part.Amount.IsPositive() {
			return Purchase{}, ErrPaymentTooSmall
		}
		// A zero-day tranche that opens later is a cliff grant, not a delivery.
		if part.Days == 0 && !part.Start.After(now) {
			delivered = delivered.Add(part.Amount)
			continue
		}
		vested = vested.Add(part.Amount)
		reqs = append(reqs, vesting.GrantRequest{
			Beneficiary: ben,
			Amount:      part.Amount,
			Start:       part.Start,
			VestingDays: part.Days,
		})
	}

	have, err := s.ledger.BalanceOf(ctx, s.address, s.token)
	if err != nil {
		return Purchase{}, fmt.Errorf("read allocation: %w", err)
	}
	if have.Amount.LessThan(total) {
		return Purchase{}, ErrSoldOut
	}

	if err := s.store.SetContribution(ctx, ben, next); err != nil {
		return Purchase{}, fmt.Errorf("record contribution: %w", err)
	}
	restore := func(cause error) error {
		if rerr := s.store.SetContribution(ctx, ben, prev); rerr != nil {
			return errors.Join(cause, fmt.Errorf("restore contribution: %w", rerr))
		}
		return cause
	}

	id := ids.WithPrefix("pur")
	legs := []ledger.Leg{{From: from, To: s.address, Money: ledger.Money{Asset: s.native, Amount: value}}}
	if vested.IsPositive() {
		legs = append(legs, ledger.Leg{From: s.address, To: s.vault.Address(), Money: ledger.Money{Asset: s.token, Amount: vested}})
	}
	if delivered.IsPositive() {
		legs = append(legs, ledger.Leg{From: s.address, To: ben, Money: ledger.Money{Asset: s.token, Amount: delivered}})
	}
	if _, err := s.ledger.Apply(ctx, legs, "purchase:"+id); err != nil {
		return Purchase{}, restore(fmt.Errorf("settle payment: %w", err))
	}

	var grantIDs []uint64
	if len(reqs) > 0 {
		grantIDs, err = s.vault.CreateGrants(ctx, s.address, reqs)
		if err != nil {
			cause := fmt.Errorf("create grants: %w", err)
			if _, rerr := s.ledger.Apply(ctx, reverse(legs), "purchase-revert:"+id); rerr != nil {
				cause = errors.Join(cause, fmt.Errorf("revert payment: %w", rerr))
			}
			obs.LogEvent("error", "purchase_reverted", map[string]any{
				"purchase_id": id,
				"error":       cause.Error(),
			})
			return Purchase{}, restore(cause)
		}
	}

	return Purchase{
		ID:          id,
		Sender:      from,
		Beneficiary: ben,
		Value:       value,
		Tokens:      total,
		Delivered:   delivered,
		GrantIDs:    grantIDs,
		Contributed: next,
		At:          now,
	}, nil
}

func reverse(legs []ledger.Leg) []ledger.Leg {
	out := make([]ledger.Leg, 0, len(legs))
	for i := len(legs) - 1; i >= 0; i-- {
		l := legs[i]
		out = append(out, ledger.Leg{From: l.To, To: l.From, Money: l.Money})
	}
	return out
}

// SetPurchaseLimit replaces the limit for future purchases. Owner only.
// Contributions already accepted are left untouched even when they exceed
// the new limit.
func (s *Sale) SetPurchaseLimit(ctx context.Context, caller string, limit decimal.Decimal) error {
	if limit.IsNegative() || !limit.IsInteger() {
		return ErrInvalidLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isOwner(caller) {
		return ErrUnauthorized
	}
	if err := s.store.SaveLimit(ctx, limit); err != nil {
		return fmt.Errorf("save purchase limit: %w", err)
	}
	prev := s.params.PurchaseLimit
	s.params.PurchaseLimit = limit
	obs.LogEvent("info", "purchase_limit_changed", map[string]any{
		"previous": prev.String(),
		"limit":    limit.String(),
	})
	stream.Emit(s.events, stream.KindLimitChanged, s.clock.Now(), map[string]any{"limit": limit.String()})
	return nil
}

// WithdrawTokens sends the unsold token balance to the owner once the sale
// has closed.
func (s *Sale) WithdrawTokens(ctx context.Context, caller string) (Withdrawal, error) {
	return s.withdraw(ctx, caller, s.token)
}

// WithdrawNative sends the collected native payments to the owner once the
// sale has closed.
func (s *Sale) WithdrawNative(ctx context.Context, caller string) (Withdrawal, error) {
	return s.withdraw(ctx, caller, s.native)
}

func (s *Sale) withdraw(ctx context.Context, caller, asset string) (Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !s.isOwner(caller) {
		return Withdrawal{}, ErrUnauthorized
	}
	if now.Before(s.params.End()) {
		return Withdrawal{}, ErrSaleOpen
	}
	bal, err := s.ledger.BalanceOf(ctx, s.address, asset)
	if err != nil {
		return Withdrawal{}, fmt.Errorf("read balance: %w", err)
	}
	w := Withdrawal{Asset: asset, Amount: bal.Amount, To: s.owner}
	if !bal.Amount.IsPositive() {
		return w, nil
	}
	tx, err := s.ledger.Transfer(ctx, s.address, s.owner, ledger.Money{Asset: asset, Amount: bal.Amount}, "withdraw:"+ids.New())
	if err != nil {
		return Withdrawal{}, fmt.Errorf("withdraw %s: %w", asset, err)
	}
	w.TransactionID = tx.ID
	obs.LogEvent("info", "sale_withdrawal", map[string]any{
		"asset":  asset,
		"amount": bal.Amount.String(),
		"to":     s.owner,
	})
	stream.Emit(s.events, stream.KindWithdrawal, now, map[string]any{
		"asset":  asset,
		"amount": bal.Amount.String(),
	})
	return w, nil
}

// Status is a point-in-time view of the sale.
type Status struct {
	Address       string          `json:"address"`
	Owner         string          `json:"owner"`
	Vault         string          `json:"vault"`
	TokenAsset    string          `json:"token_asset"`
	NativeAsset   string          `json:"native_asset"`
	Params        Params          `json:"params"`
	Open          bool            `json:"open"`
	TokensLeft    decimal.Decimal `json:"tokens_left"`
	NativeBalance decimal.Decimal `json:"native_balance"`
	At            time.Time       `json:"at"`
}

// Status reports parameters, window state and custody balances.
func (s *Sale) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	tok, err := s.ledger.BalanceOf(ctx, s.address, s.token)
	if err != nil {
		return Status{}, err
	}
	nat, err := s.ledger.BalanceOf(ctx, s.address, s.native)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Address:       s.address,
		Owner:         s.owner,
		Vault:         s.vault.Address(),
		TokenAsset:    s.token,
		NativeAsset:   s.native,
		Params:        s.params,
		Open:          s.params.Open(now),
		TokensLeft:    tok.Amount,
		NativeBalance: nat.Amount,
		At:            now,
	}, nil
}

func (s *Sale) isOwner(caller string) bool {
	c, err := ledger.NormalizeAddress(caller)
	return err == nil && c == s.owner
}

func purchaseResult(err error) string {
	switch {
	case errors.Is(err, ErrSaleClosed):
		return "closed"
	case errors.Is(err, ErrPurchaseLimit):
		return "limit"
	case errors.Is(err, ErrZeroPayment), errors.Is(err, ErrPaymentTooSmall), errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid"
	case errors.Is(err, ErrSoldOut):
		return "sold_out"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "error"
	}
}
