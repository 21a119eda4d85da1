package timing

import (
	"sync/atomic"
	"time"
)

// Clock reports monotonic time in ns.
type Clock interface {
	Now() uint64
}

// MonotonicClock measures time since its creation using the runtime's
// monotonic clock.
type MonotonicClock struct {
	start time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

func (c *MonotonicClock) Now() uint64 {
	return uint64(time.Since(c.start))
}

// ManualClock only moves when told to. Used for deterministic simulation.
type ManualClock struct {
	now atomic.Uint64
}

func (c *ManualClock) Now() uint64 {
	return c.now.Load()
}

// Set moves the clock to t. Time never goes backwards.
func (c *ManualClock) Set(t uint64) {
	for {
		cur := c.now.Load()
		if t <= cur || c.now.CompareAndSwap(cur, t) {
			return
		}
	}
}

// Advance moves the clock forward by d ns
func (c *ManualClock) Advance(d uint64) {
	c.now.Add(d)
}
