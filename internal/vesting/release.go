package vesting

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"tokendist.org/internal/clock"
)

var secondsPerDay = int64(clock.Day / time.Second)

// Releasable returns the cumulative amount of g unlocked at now:
//
//	now < start                        -> 0
//	days == 0 || now >= start+days*DAY -> amount
//	otherwise                          -> floor(amount*(now-start) / (days*DAY))
//
// The full amount is returned at and after the end of the window rather than
// the floor of the formula.
func Releasable(g Grant, now time.Time) decimal.Decimal {
	start, at := g.Start.Unix(), now.Unix()
	if at < start {
		return decimal.Zero
	}
	window := int64(g.VestingDays) * secondsPerDay
	if g.VestingDays == 0 || at >= start+window {
		return g.Amount
	}
	num := new(big.Int).Mul(g.Amount.BigInt(), big.NewInt(at-start))
	num.Quo(num, big.NewInt(window))
	return decimal.NewFromBigInt(num, 0)
}

// Claimable is Releasable minus what has already been claimed, floored at 0.
func Claimable(g Grant, now time.Time) decimal.Decimal {
	c := Releasable(g, now).Sub(g.TotalClaimed)
	if c.IsNegative() {
		return decimal.Zero
	}
	return c
}
