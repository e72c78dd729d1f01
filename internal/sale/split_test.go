package sale

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tokendist.org/internal/clock"
)

func TestSplitSumsExactly(t *testing.T) {
	totals := []int64{1, 2, 3, 7, 99, 100, 101, 333, 400, 12345, 999_999_937}
	for _, total := range totals {
		for pct := uint32(1); pct < 100; pct++ {
			T := decimal.NewFromInt(total)
			a, b := Split(T, Tranche{Percent: pct}, Tranche{Percent: 100 - pct})
			require.True(t, a.Add(b).Equal(T), "T=%d p=%d", total, pct)
			require.False(t, a.IsNegative() || b.IsNegative())
			require.Equal(t, total*int64(pct)/100, a.IntPart(), "T=%d p=%d", total, pct)
		}
	}
}

func TestSplitSingleTranche(t *testing.T) {
	a, b := Split(decimal.NewFromInt(400), Tranche{Percent: 100}, Tranche{})
	require.Equal(t, "400", a.String())
	require.True(t, b.IsZero())
}

func TestSplitHugeTotal(t *testing.T) {
	T := decimal.RequireFromString("123456789012345678901234567890")
	a, b := Split(T, Tranche{Percent: 33}, Tranche{Percent: 67})
	require.Equal(t, "40740740374074074037407407403", a.String())
	require.True(t, a.Add(b).Equal(T))
}

func TestScheduleIsSequential(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, days := range []uint32{0, 1, 30, 365} {
		p := Params{First: Tranche{Days: days, Percent: 40}, Second: Tranche{Days: 7, Percent: 60}}
		parts := schedule(p, decimal.NewFromInt(1000), now)
		require.Len(t, parts, 2)
		require.True(t, parts[0].Start.Equal(now))
		require.True(t, parts[1].Start.Equal(now.Add(time.Duration(days)*clock.Day)))
		require.EqualValues(t, 7, parts[1].Days)
	}
}
