package sim

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Counter tallies accepted purchases and why others were refused.
type Counter struct {
	mu        sync.Mutex
	accepted  int
	value     int64
	tokens    decimal.Decimal
	rejected  map[string]int
	ownership map[string]int64
}

func (c *Counter) Add(p Purchase, tokens decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ownership == nil {
		c.ownership = make(map[string]int64)
	}
	c.accepted++
	c.value += p.Value
	c.tokens = c.tokens.Add(tokens)
	c.ownership[p.Beneficiary] += p.Value
}

func (c *Counter) Reject(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejected == nil {
		c.rejected = make(map[string]int)
	}
	c.rejected[reason]++
}

type Summary struct {
	Accepted int
	Value    int64
	Tokens   decimal.Decimal
	Rejected map[string]int
	// Beneficiaries is the number of distinct addresses that received grants.
	Beneficiaries int
}

func (c *Counter) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	rejected := make(map[string]int, len(c.rejected))
	for k, v := range c.rejected {
		rejected[k] = v
	}
	return Summary{
		Accepted:      c.accepted,
		Value:         c.value,
		Tokens:        c.tokens,
		Rejected:      rejected,
		Beneficiaries: len(c.ownership),
	}
}
