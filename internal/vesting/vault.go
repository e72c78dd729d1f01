package vesting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tokendist.org/internal/clock"
	"tokendist.org/internal/ledger"
	"tokendist.org/internal/obs"
	"tokendist.org/internal/stream"
)

// TokenLedger is the slice of the asset ledger the vault pays claims through.
type TokenLedger interface {
	Transfer(ctx context.Context, from, to string, amt ledger.Money, idemKey string) (ledger.Transaction, error)
}

// Config wires a Vault to its custody account and roles.
type Config struct {
	// Address is the ledger account holding tokens backing the grants.
	Address string
	Asset   string
	Owner   string
	// Creator is the initial authorized creator. Defaults to Owner.
	Creator string
}

// Vault records grants and releases them to their beneficiaries.
//
// Every mutating call holds mu for its full duration so that grant creation
// and claims never interleave.
type Vault struct {
	mu      sync.Mutex
	address string
	asset   string
	owner   string
	creator string

	store  Store
	ledger TokenLedger
	clock  clock.Clock
	events stream.Publisher
}

// New validates cfg and returns a Vault.
func New(cfg Config, store Store, l TokenLedger, c clock.Clock) (*Vault, error) {
	addr, err := ledger.NormalizeAddress(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("vault address: %w", err)
	}
	owner, err := ledger.NormalizeAddress(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("vault owner: %w", err)
	}
	creator := owner
	if strings.TrimSpace(cfg.Creator) != "" {
		if creator, err = ledger.NormalizeAddress(cfg.Creator); err != nil {
			return nil, fmt.Errorf("vault creator: %w", err)
		}
	}
	asset := strings.ToUpper(strings.TrimSpace(cfg.Asset))
	if asset == "" {
		return nil, ledger.ErrInvalidAsset
	}
	if c == nil {
		c = clock.System{}
	}
	return &Vault{
		address: addr,
		asset:   asset,
		owner:   owner,
		creator: creator,
		store:   store,
		ledger:  l,
		clock:   c,
	}, nil
}

// SetPublisher routes grant and claim events to p. Call before serving.
func (v *Vault) SetPublisher(p stream.Publisher) { v.events = p }

func (v *Vault) Address() string { return v.address }
func (v *Vault) Asset() string   { return v.asset }
func (v *Vault) Owner() string   { return v.owner }

// AuthorizedCreator returns the address currently allowed to create grants.
func (v *Vault) AuthorizedCreator() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.creator
}

// ChangeAuthorizedCreator repoints grant creation to newCreator. Owner only.
func (v *Vault) ChangeAuthorizedCreator(ctx context.Context, caller, newCreator string) error {
	next, err := ledger.NormalizeAddress(newCreator)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !sameAddress(caller, v.owner) {
		return ErrUnauthorized
	}
	prev := v.creator
	v.creator = next
	obs.LogEvent("info", "vault_creator_changed", map[string]any{
		"previous": prev,
		"creator":  next,
	})
	return nil
}

// CreateGrant records a single grant and returns its id.
func (v *Vault) CreateGrant(ctx context.Context, caller string, req GrantRequest) (uint64, error) {
	ids, err := v.CreateGrants(ctx, caller, []GrantRequest{req})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// CreateGrants validates every request before recording any of them, so a
// batch is either stored whole or not at all. No tokens move.
func (v *Vault) CreateGrants(ctx context.Context, caller string, reqs []GrantRequest) ([]uint64, error) {
	if len(reqs) == 0 {
		return nil, ErrEmptyBatch
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if !sameAddress(caller, v.creator) {
		return nil, ErrUnauthorized
	}
	grants := make([]Grant, 0, len(reqs))
	for _, r := range reqs {
		if !ledger.ValidAmount(r.Amount) {
			return nil, ErrInvalidAmount
		}
		ben, err := ledger.NormalizeAddress(r.Beneficiary)
		if err != nil {
			return nil, ErrInvalidBeneficiary
		}
		grants = append(grants, Grant{
			Beneficiary: ben,
			Amount:      r.Amount,
			Start:       r.Start.UTC().Truncate(time.Second),
			VestingDays: r.VestingDays,
		})
	}

	ids, err := v.store.Append(ctx, grants)
	if err != nil {
		return nil, fmt.Errorf("store grants: %w", err)
	}
	at := v.clock.Now()
	for i, g := range grants {
		obs.ObserveGrantCreated(g.Amount)
		obs.LogEvent("info", "grant_created", map[string]any{
			"grant_id":     ids[i],
			"beneficiary":  g.Beneficiary,
			"amount":       g.Amount.String(),
			"start":        g.Start.Format(time.RFC3339),
			"vesting_days": g.VestingDays,
		})
		stream.Emit(v.events, stream.KindGrantCreated, at, map[string]any{
			"grant_id":     ids[i],
			"beneficiary":  g.Beneficiary,
			"amount":       g.Amount.String(),
			"start":        g.Start.Unix(),
			"vesting_days": g.VestingDays,
		})
	}
	return ids, nil
}

// Claim releases everything vested on grant id since the previous claim.
//
// TotalClaimed is persisted before the ledger transfer and restored if the
// transfer fails.
func (v *Vault) Claim(ctx context.Context, caller string, id uint64) (Claim, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock.Now()
	g, err := v.store.Get(ctx, id)
	if err != nil {
		obs.ObserveClaim("not_found", decimal.Zero)
		return Claim{}, err
	}
	if !sameAddress(caller, g.Beneficiary) {
		obs.ObserveClaim("unauthorized", decimal.Zero)
		return Claim{}, ErrUnauthorized
	}

	releasable := Releasable(g, now)
	claimable := releasable.Sub(g.TotalClaimed)
	if !claimable.IsPositive() {
		obs.ObserveClaim("nothing", claimable)
		return Claim{}, ErrNothingToClaim
	}

	prev := g.TotalClaimed
	if err := v.store.SetClaimed(ctx, id, prev, releasable); err != nil {
		if errors.Is(err, ErrClaimConflict) {
			obs.ObserveClaim("conflict", claimable)
		}
		return Claim{}, fmt.Errorf("record claim: %w", err)
	}

	idem := fmt.Sprintf("claim:%s:%d:%s", v.address, id, releasable.String())
	tx, err := v.ledger.Transfer(ctx, v.address, g.Beneficiary, ledger.Money{Asset: v.asset, Amount: claimable}, idem)
	if err != nil {
		if rerr := v.store.SetClaimed(ctx, id, releasable, prev); rerr != nil {
			err = errors.Join(err, fmt.Errorf("restore claimed total: %w", rerr))
		}
		obs.ObserveClaim("transfer_failed", claimable)
		obs.LogEvent("error", "claim_transfer_failed", map[string]any{
			"grant_id": id,
			"amount":   claimable.String(),
			"error":    err.Error(),
		})
		return Claim{}, fmt.Errorf("pay claim: %w", err)
	}

	obs.ObserveClaim("ok", claimable)
	obs.LogEvent("info", "grant_claimed", map[string]any{
		"grant_id":      id,
		"beneficiary":   g.Beneficiary,
		"amount":        claimable.String(),
		"total_claimed": releasable.String(),
	})
	stream.Emit(v.events, stream.KindClaim, now, map[string]any{
		"grant_id":    id,
		"beneficiary": g.Beneficiary,
		"amount":      claimable.String(),
	})
	return Claim{
		GrantID:       id,
		Beneficiary:   g.Beneficiary,
		Amount:        claimable,
		TotalClaimed:  releasable,
		TransactionID: tx.ID,
		ClaimedAt:     now,
	}, nil
}

// Grant returns the stored record for id.
func (v *Vault) Grant(ctx context.Context, id uint64) (Grant, error) {
	return v.store.Get(ctx, id)
}

// GrantIDs lists every grant ever created for beneficiary, including fully
// claimed ones, in creation order.
func (v *Vault) GrantIDs(ctx context.Context, beneficiary string) ([]uint64, error) {
	ben, err := ledger.NormalizeAddress(beneficiary)
	if err != nil {
		return nil, ErrInvalidBeneficiary
	}
	return v.store.IDsFor(ctx, ben)
}

// Grants resolves GrantIDs into records.
func (v *Vault) Grants(ctx context.Context, beneficiary string) ([]Grant, error) {
	ids, err := v.GrantIDs(ctx, beneficiary)
	if err != nil {
		return nil, err
	}
	out := make([]Grant, 0, len(ids))
	for _, id := range ids {
		g, err := v.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// Preview is a read-only view of what a claim would release right now.
type Preview struct {
	Grant      Grant
	Phase      Phase
	Releasable decimal.Decimal
	Claimable  decimal.Decimal
	At         time.Time
}

// Releasable previews grant id at the current clock reading.
func (v *Vault) Releasable(ctx context.Context, id uint64) (Preview, error) {
	now := v.clock.Now()
	g, err := v.store.Get(ctx, id)
	if err != nil {
		return Preview{}, err
	}
	return Preview{
		Grant:      g,
		Phase:      g.PhaseAt(now),
		Releasable: Releasable(g, now),
		Claimable:  Claimable(g, now),
		At:         now,
	}, nil
}

func sameAddress(a, b string) bool {
	na, err := ledger.NormalizeAddress(a)
	if err != nil {
		return false
	}
	return na == b
}
