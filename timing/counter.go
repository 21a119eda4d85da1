package timing

import (
	"math"
	"math/bits"
	"sync"

	"github.com/pkg/errors"
)

// TopConfig programs a counter's top (reload) value. Callback runs each time
// the counter reaches Ticks.
type TopConfig struct {
	Ticks    uint32
	Callback func()
}

// Counter is a free-running or reloadable hardware counter.
type Counter interface {
	// Frequency is the current tick rate in Hz
	Frequency() uint32
	Start() error
	Stop() error
	SetTopValue(cfg TopConfig) error
}

// CounterSource is a Source that reprograms a Counter's top value for every
// interval. The top-reached interrupt invokes the callback directly.
type CounterSource struct {
	counter Counter

	mu       sync.Mutex
	callback Callback
	ticks    uint32
	running  bool
}

// NewCounterSource wraps counter.
func NewCounterSource(counter Counter) (*CounterSource, error) {
	if counter == nil || counter.Frequency() == 0 {
		return nil, ErrCounterNotAvailable
	}
	return &CounterSource{counter: counter}, nil
}

func (cs *CounterSource) Init(cb Callback) error {
	if cb == nil {
		return ErrNilCallback
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.callback != nil {
		return ErrAlreadyInitialized
	}
	cs.callback = cb
	return nil
}

// NsToTicks converts ns to counter ticks at freq Hz, rounding to nearest.
func NsToTicks(freq uint32, ns uint64) (uint32, error) {
	hi, lo := bits.Mul64(uint64(freq), ns)
	lo, carry := bits.Add64(lo, nsPerSecond/2, 0)
	hi += carry
	if hi >= nsPerSecond {
		return 0, ErrIntervalTooLong
	}

	q, _ := bits.Div64(hi, lo, nsPerSecond)
	switch {
	case q == 0:
		return 0, ErrIntervalTooShort
	case q > math.MaxUint32:
		return 0, ErrIntervalTooLong
	}
	return uint32(q), nil
}

// TicksToNs converts counter ticks at freq Hz to ns, rounding to nearest.
func TicksToNs(freq uint32, ticks uint32) uint64 {
	if freq == 0 {
		return 0
	}
	return (uint64(ticks)*nsPerSecond + uint64(freq)/2) / uint64(freq)
}

func (cs *CounterSource) Start(intervalNs uint64) error {
	ticks, err := NsToTicks(cs.counter.Frequency(), intervalNs)
	if err != nil {
		return errors.Wrapf(err, "interval %dns", intervalNs)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.callback == nil {
		return ErrNotInitialized
	}

	state := disableInterrupts()
	defer restoreInterrupts(state)

	if err := cs.counter.SetTopValue(TopConfig{Ticks: ticks, Callback: cs.topReached}); err != nil {
		return errors.Wrap(err, "set counter top value")
	}
	if !cs.running {
		if err := cs.counter.Start(); err != nil {
			return errors.Wrap(err, "start counter")
		}
		cs.running = true
	}
	cs.ticks = ticks
	return nil
}

func (cs *CounterSource) Stop() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	state := disableInterrupts()
	defer restoreInterrupts(state)

	cs.running = false
	cs.ticks = 0
	if err := cs.counter.Stop(); err != nil {
		return errors.Wrap(err, "stop counter")
	}
	if err := cs.counter.SetTopValue(TopConfig{}); err != nil {
		return errors.Wrap(err, "clear counter top value")
	}
	return nil
}

func (cs *CounterSource) Interval() uint64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return TicksToNs(cs.counter.Frequency(), cs.ticks)
}

func (cs *CounterSource) topReached() {
	cs.mu.Lock()
	cb := cs.callback
	cs.mu.Unlock()

	if cb != nil {
		cb()
	}
}
