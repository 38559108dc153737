// Package clock lets tests control the passage of time seen by sessions.
package clock

import (
	"sync"
	"time"
)

// Clock provides the present (or simulated) time.
type Clock interface {
	Now() time.Time
}

// Real passes Now() through to time.Now().
var Real Clock = RealClock{}

// RealClock just passes the Now() call to time.Now().
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// SimClock simulates time passing. Call Advance to increment the time.
type SimClock struct {
	mu   sync.Mutex
	when time.Time
}

// NewSim makes a SimClock frozen at t.
func NewSim(t time.Time) *SimClock {
	return &SimClock{when: t}
}

// Now provides the simulated current time.
func (c *SimClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.when
}

// Advance moves the simulated clock forward by d.
func (c *SimClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.when = c.when.Add(d)
	return c.when
}

// Set pins the simulated clock to t.
func (c *SimClock) Set(t time.Time) {
	c.mu.Lock()
	c.when = t
	c.mu.Unlock()
}
