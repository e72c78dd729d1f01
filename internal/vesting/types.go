package vesting

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tokendist.org/internal/clock"
)

// Grant is one linearly vesting tranche held by the vault.
type Grant struct {
	ID           uint64          `json:"id"`
	Beneficiary  string          `json:"beneficiary"`
	Amount       decimal.Decimal `json:"amount"`
	Start        time.Time       `json:"start"`
	VestingDays  uint32          `json:"vesting_days"`
	TotalClaimed decimal.Decimal `json:"total_claimed"`
}

// End is the instant at which the whole amount becomes releasable.
func (g Grant) End() time.Time {
	return g.Start.Add(time.Duration(g.VestingDays) * clock.Day)
}

// Phase describes where a grant sits on its vesting curve.
type Phase string

const (
	PhaseUnvested        Phase = "unvested"
	PhasePartiallyVested Phase = "partially_vested"
	PhaseFullyVested     Phase = "fully_vested"
)

// PhaseAt reports the grant's phase at now.
func (g Grant) PhaseAt(now time.Time) Phase {
	switch {
	case now.Before(g.Start):
		return PhaseUnvested
	case g.VestingDays == 0 || !now.Before(g.End()):
		return PhaseFullyVested
	default:
		return PhasePartiallyVested
	}
}

// GrantRequest carries the inputs of a grant creation.
type GrantRequest struct {
	Beneficiary string
	Amount      decimal.Decimal
	Start       time.Time
	VestingDays uint32
}

// Claim is the outcome of a successful claim.
type Claim struct {
	GrantID       uint64          `json:"grant_id"`
	Beneficiary   string          `json:"beneficiary"`
	Amount        decimal.Decimal `json:"amount"`
	TotalClaimed  decimal.Decimal `json:"total_claimed"`
	TransactionID string          `json:"transaction_id"`
	ClaimedAt     time.Time       `json:"claimed_at"`
}

var (
	ErrUnauthorized       = errors.New("vesting: caller is not authorized")
	ErrInvalidAmount      = errors.New("vesting: amount must be a positive integer")
	ErrInvalidBeneficiary = errors.New("vesting: beneficiary is required")
	ErrNothingToClaim     = errors.New("vesting: nothing to claim")
	ErrGrantNotFound      = errors.New("vesting: grant not found")
	ErrClaimConflict      = errors.New("vesting: grant was claimed concurrently")
	ErrEmptyBatch         = errors.New("vesting: no grants requested")
)
