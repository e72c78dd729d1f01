// Package sim generates synthetic purchase traffic for load tests.
package sim

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

type Buyer struct {
	Address string
	// Budget is the most the buyer will pay in a single purchase.
	Budget int64
}

type Purchase struct {
	Sender      string
	Beneficiary string
	Value       int64
}

type Scenario struct {
	Name   string
	Buyers []Buyer
	// GiftRate is the share of purchases made for another buyer.
	GiftRate float64
}

// CrowdScenario is n buyers named buyer-001, buyer-002 and so on. Budgets
// step up so a few buyers reach the purchase limit early.
func CrowdScenario(n int) Scenario {
	buyers := make([]Buyer, 0, n)
	for i := 1; i <= n; i++ {
		buyers = append(buyers, Buyer{
			Address: fmt.Sprintf("buyer-%03d", i),
			Budget:  int64(1 + i%5),
		})
	}
	return Scenario{Name: "crowd", Buyers: buyers, GiftRate: 0.1}
}

// Generator draws purchases from a scenario. It is safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	scenario Scenario
	rnd      *rand.Rand
}

func NewGenerator(s Scenario, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{scenario: s, rnd: rand.New(rand.NewSource(seed))}
}

func (g *Generator) Scenario() Scenario { return g.scenario }

func (g *Generator) NextPurchase() Purchase {
	g.mu.Lock()
	defer g.mu.Unlock()

	buyers := g.scenario.Buyers
	if len(buyers) == 0 {
		panic("scenario requires at least one buyer")
	}
	from := buyers[g.rnd.Intn(len(buyers))]
	p := Purchase{
		Sender:      from.Address,
		Beneficiary: from.Address,
		Value:       1 + g.rnd.Int63n(from.Budget),
	}
	if len(buyers) > 1 && g.rnd.Float64() < g.scenario.GiftRate {
		idx := g.rnd.Intn(len(buyers) - 1)
		if buyers[idx].Address == from.Address {
			idx = len(buyers) - 1
		}
		p.Beneficiary = buyers[idx].Address
	}
	return p
}
