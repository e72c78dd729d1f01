package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tokendist.org/internal/ids"
)

// Money is an integral quantity of a single asset. Amounts are kept in the
// asset's smallest unit and are never fractional.
type Money struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

func (m Money) IsPositive() bool { return m.Amount.IsPositive() }
func (m Money) IsZero() bool     { return m.Amount.IsZero() }

// NewMoney builds Money from an int64 unit count.
func NewMoney(asset string, units int64) Money {
	return Money{Asset: asset, Amount: decimal.NewFromInt(units)}
}

// Account is an address with per-asset balances.
type Account struct {
	Address  string                     `json:"address"`
	Balances map[string]decimal.Decimal `json:"balances"` // asset -> units
}

// Leg is one movement inside an atomic batch.
type Leg struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Money Money  `json:"money"`
}

// Transaction is a recorded movement. Mints have an empty From.
type Transaction struct {
	ID             string          `json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	From           string          `json:"from,omitempty"`
	To             string          `json:"to"`
	Asset          string          `json:"asset"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Sequence       uint64          `json:"sequence"` // monotonic sequence number
}

var (
	ErrNotFound              = errors.New("not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("invalid amount (must be a positive integer)")
	ErrInvalidAsset          = errors.New("invalid asset")
	ErrInvalidAddress        = errors.New("invalid address")
	ErrEmptyBatch            = errors.New("empty batch")
)

// ValidAmount reports whether d is a positive whole number of units.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.IsInteger()
}

// NormalizeAddress trims and lower-cases an address and rejects empty or
// oversized values.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" || len(addr) > 64 {
		return "", ErrInvalidAddress
	}
	return addr, nil
}

// NormalizeLeg validates a leg and canonicalises its addresses and asset.
func NormalizeLeg(l Leg) (Leg, error) {
	if !ValidAmount(l.Money.Amount) {
		return Leg{}, ErrInvalidAmount
	}
	if strings.TrimSpace(l.Money.Asset) == "" {
		return Leg{}, ErrInvalidAsset
	}
	from, err := NormalizeAddress(l.From)
	if err != nil {
		return Leg{}, err
	}
	to, err := NormalizeAddress(l.To)
	if err != nil {
		return Leg{}, err
	}
	return Leg{From: from, To: to, Money: Money{Asset: strings.ToUpper(strings.TrimSpace(l.Money.Asset)), Amount: l.Money.Amount}}, nil
}

func newTxID() string {
	return ids.WithPrefix("tx")
}
