package core

import (
	"sync"
	"time"
)

// Clock supplies the ledger's notion of the current time in unix seconds.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }

// ManualClock only moves when told to. Dev nodes and tests use it to step
// through auction deadlines deterministically.
type ManualClock struct {
	mu  sync.Mutex
	now int64
}

// NewManualClock returns a manual clock starting at start.
func NewManualClock(start int64) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by seconds and returns the new time.
// Negative values are ignored so time never runs backwards.
func (c *ManualClock) Advance(seconds int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seconds > 0 {
		c.now += seconds
	}
	return c.now
}

// Set moves the clock to ts if ts is not in the past.
func (c *ManualClock) Set(ts int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts > c.now {
		c.now = ts
	}
	return c.now
}
