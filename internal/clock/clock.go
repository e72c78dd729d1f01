// Package clock provides the time source consulted by vault and sale
// operations. Each operation reads the clock once and uses that instant for
// every comparison it makes.
package clock

import (
	"sync"
	"time"
)

// Day is the length of one vesting day.
const Day = 24 * time.Hour

// Clock reports the current instant.
type Clock interface {
	Now() time.Time
}

// System is the wall clock truncated to whole seconds.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC().Truncate(time.Second) }

// Manual is a settable clock for tests and simulations.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock positioned at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC().Truncate(time.Second)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC().Truncate(time.Second)
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new instant.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d).Truncate(time.Second)
	return m.now
}
