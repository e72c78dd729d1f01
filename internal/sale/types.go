package sale

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Tranche is one leg of a purchase's vesting schedule.
type Tranche struct {
	Days    uint32 `json:"days"`
	Percent uint32 `json:"percent"`
}

// Params fixes the sale at construction. Only PurchaseLimit changes later.
type Params struct {
	Start         time.Time       `json:"start"`
	Duration      time.Duration   `json:"duration"`
	TokenPerWei   decimal.Decimal `json:"token_per_wei"`
	First         Tranche         `json:"first"`
	Second        Tranche         `json:"second"`
	PurchaseLimit decimal.Decimal `json:"purchase_limit"`
}

// End is the first instant at which the sale no longer accepts payments.
func (p Params) End() time.Time { return p.Start.Add(p.Duration) }

// Open reports whether now is inside [Start, End).
func (p Params) Open(now time.Time) bool {
	return !now.Before(p.Start) && now.Before(p.End())
}

// Validate checks the invariants New relies on.
func (p Params) Validate() error {
	if p.Start.IsZero() || p.Duration <= 0 {
		return ErrInvalidWindow
	}
	if !p.TokenPerWei.IsPositive() || !p.TokenPerWei.IsInteger() {
		return ErrInvalidRate
	}
	if p.First.Percent > 100 || p.Second.Percent > 100 {
		return ErrInvalidSplit
	}
	if p.First.Percent+p.Second.Percent != 100 || p.First.Percent == 0 {
		return ErrInvalidSplit
	}
	if p.PurchaseLimit.IsNegative() || !p.PurchaseLimit.IsInteger() {
		return ErrInvalidLimit
	}
	return nil
}

// Purchase is the receipt of an accepted payment.
type Purchase struct {
	ID          string          `json:"id"`
	Sender      string          `json:"sender"`
	Beneficiary string          `json:"beneficiary"`
	Value       decimal.Decimal `json:"value"`
	Tokens      decimal.Decimal `json:"tokens"`
	// Delivered is the part of Tokens paid out directly because its tranche
	// does not vest.
	Delivered   decimal.Decimal `json:"delivered"`
	GrantIDs    []uint64        `json:"grant_ids"`
	Contributed decimal.Decimal `json:"contributed"`
	At          time.Time       `json:"at"`
}

// Withdrawal is the receipt of an owner sweep.
type Withdrawal struct {
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	To            string          `json:"to"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

var (
	ErrUnauthorized     = errors.New("sale: caller is not the owner")
	ErrSaleClosed       = errors.New("sale: token sale has ended")
	ErrZeroPayment      = errors.New("sale: payment must be positive")
	ErrPurchaseLimit    = errors.New("sale: sender has reached purchase limit")
	ErrSaleOpen         = errors.New("sale: sale is open")
	ErrPaymentTooSmall  = errors.New("sale: payment too small to fill every tranche")
	ErrSoldOut          = errors.New("sale: allocation cannot cover purchase")
	ErrInvalidWindow    = errors.New("sale: start and a positive duration are required")
	ErrInvalidRate      = errors.New("sale: token_per_wei must be a positive integer")
	ErrInvalidSplit     = errors.New("sale: tranche percents must be positive for the first and sum to 100")
	ErrInvalidLimit     = errors.New("sale: purchase limit must be a non-negative integer")
	ErrInvalidRecipient = errors.New("sale: beneficiary is required")
)
