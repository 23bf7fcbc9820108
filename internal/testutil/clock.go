package testutil

import (
	"sync"
	"time"
)

// Clock is a manually driven time source. Components take its Func in
// place of time.Now.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts at now[0], or at 2025-01-01 00:00 UTC.
func NewClock(now ...time.Time) *Clock {
	c := &Clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	if len(now) > 0 {
		c.now = now[0]
	}
	return c
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// AdvanceDays moves the clock by whole calendar days.
func (c *Clock) AdvanceDays(days int) {
	c.mu.Lock()
	c.now = c.now.AddDate(0, 0, days)
	c.mu.Unlock()
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Func returns c.Now for injection.
func (c *Clock) Func() func() time.Time {
	return c.Now
}
