package sale

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"tokendist.org/internal/clock"
)

// Split divides total between the two tranches. The first share is floored
// and the second takes the remainder, so the parts always sum to total.
// A single-tranche sale returns total and zero.
func Split(total decimal.Decimal, first, second Tranche) (decimal.Decimal, decimal.Decimal) {
	if second.Percent == 0 {
		return total, decimal.Zero
	}
	n := new(big.Int).Mul(total.BigInt(), big.NewInt(int64(first.Percent)))
	n.Quo(n, big.NewInt(100))
	a := decimal.NewFromBigInt(n, 0)
	return a, total.Sub(a)
}

// portion is one tranche of a purchase, placed on the calendar.
type portion struct {
	Amount decimal.Decimal
	Start  time.Time
	Days   uint32
}

// schedule lays the tranches of a purchase of total tokens made at now end
// to end: the second starts when the first one's window closes.
func schedule(p Params, total decimal.Decimal, now time.Time) []portion {
	a, b := Split(total, p.First, p.Second)
	out := []portion{{Amount: a, Start: now, Days: p.First.Days}}
	if p.Second.Percent == 0 {
		return out
	}
	return append(out, portion{
		Amount: b,
		Start:  now.Add(time.Duration(p.First.Days) * clock.Day),
		Days:   p.Second.Days,
	})
}
