package timing

import "sync"

// SimCounter emulates a reloadable hardware counter on a Scheduler. The top
// interrupt repeats every top period while the counter runs; writing a new top
// value restarts the period from the current time.
type SimCounter struct {
	sched *Scheduler
	freq  uint32
	timer Timer

	mu       sync.Mutex
	top      uint32
	callback func()
	running  bool
	gen      uint64 // bumped on every reprogram
	inTop    bool
	topWake  uint64
	overruns uint64
}

// NewSimCounter creates a counter ticking at freq Hz on sched.
func NewSimCounter(sched *Scheduler, freq uint32) *SimCounter {
	c := &SimCounter{sched: sched, freq: freq}
	c.timer.Handler = c.topReached
	return c
}

func (c *SimCounter) Frequency() uint32 {
	return c.freq
}

func (c *SimCounter) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	c.running = true
	c.armLocked()
	return nil
}

func (c *SimCounter) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.running = false
	c.gen++
	c.sched.Cancel(&c.timer)
	return nil
}

func (c *SimCounter) SetTopValue(cfg TopConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.top = cfg.Ticks
	c.callback = cfg.Callback
	c.gen++
	if c.running {
		c.armLocked()
	}
	return nil
}

// Top returns the programmed top value
func (c *SimCounter) Top() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.top
}

// Running reports whether the counter is counting
func (c *SimCounter) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *SimCounter) period() uint64 {
	return TicksToNs(c.freq, c.top)
}

func (c *SimCounter) armLocked() {
	if c.top == 0 {
		c.sched.Cancel(&c.timer)
		return
	}
	from := c.sched.Now()
	if c.inTop {
		// reprogrammed from the interrupt: the counter reset at the top event
		from = c.topWake
	}
	c.sched.Schedule(&c.timer, from+c.period())
}

func (c *SimCounter) topReached(t *Timer) uint8 {
	c.mu.Lock()
	if !c.running || c.top == 0 {
		c.mu.Unlock()
		return SF_DONE
	}
	gen := c.gen
	cb := c.callback
	c.inTop = true
	c.topWake = t.WakeTime
	c.mu.Unlock()

	if cb != nil {
		cb()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTop = false

	if c.gen != gen || !c.running {
		// reprogrammed or stopped by the callback
		return SF_DONE
	}
	t.WakeTime += c.period()
	return SF_RESCHEDULE
}
