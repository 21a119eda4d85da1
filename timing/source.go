// Package timing provides the scheduling primitive that paces step pulses.
//
// A Source invokes its callback once per armed interval. Two backends are
// provided: SoftwareTimer, a reschedulable task on a cooperative Scheduler, and
// CounterSource, which programs the top value of a hardware Counter.
package timing

import "github.com/pkg/errors"

const nsPerSecond = 1_000_000_000

var (
	ErrNilCallback         = errors.New("timing callback is nil")
	ErrAlreadyInitialized  = errors.New("timing source already initialized")
	ErrNotInitialized      = errors.New("timing source not initialized")
	ErrIntervalTooShort    = errors.New("interval rounds to zero counter ticks")
	ErrIntervalTooLong     = errors.New("interval exceeds counter range")
	ErrCounterNotAvailable = errors.New("counter device not available")
)

// Callback is invoked each time an armed interval elapses. It may run in
// interrupt context on the counter backend.
type Callback func()

// Source is a one-shot-per-interval timing primitive.
type Source interface {
	// Init registers the callback. It may be called once.
	Init(cb Callback) error

	// Start arms the source to fire intervalNs from now, replacing any
	// pending expiry.
	Start(intervalNs uint64) error

	// Stop disarms the source.
	Stop() error

	// Interval returns the currently armed interval in ns, 0 when stopped
	Interval() uint64
}
