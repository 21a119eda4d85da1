// Package ramp computes inter-step intervals for a single stepper axis.
//
// A Generator owns the ramp state of one axis. It is not safe for concurrent
// use; the motion controller serializes access under its axis lock.
package ramp

import (
	"math"

	"github.com/pkg/errors"
)

const (
	// Continuous requests unbounded motion from PrepareMove.
	Continuous = math.MaxUint32

	// Forever is the step counter value of an unbounded phase. It is never
	// decremented.
	Forever = math.MaxUint64
)

var (
	ErrZeroRate           = errors.New("ramp rate must be non-zero")
	ErrZeroInterval       = errors.New("ramp interval must be non-zero")
	ErrNoProfile          = errors.New("ramp profile not configured")
	ErrUnsupportedProfile = errors.New("unsupported ramp profile")
)

// Kind identifies a ramp profile variant
type Kind uint8

const (
	KindConstant Kind = iota + 1
	KindTrapezoidal
)

func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "constant"
	case KindTrapezoidal:
		return "trapezoidal"
	default:
		return "unknown"
	}
}

// Profile describes how the step interval varies over a move.
// Implemented by Constant and Trapezoidal only.
type Profile interface {
	Kind() Kind
	Validate() error

	newState(currentInterval uint64) rampState
}

// Constant steps at a fixed interval with no acceleration.
type Constant struct {
	IntervalNs uint64
}

func (Constant) Kind() Kind { return KindConstant }

func (p Constant) Validate() error {
	if p.IntervalNs == 0 {
		return ErrZeroInterval
	}
	return nil
}

func (p Constant) newState(currentInterval uint64) rampState {
	return &constantState{ConstantState{CurrentIntervalNs: currentInterval}}
}

// Trapezoidal accelerates to a cruise interval and decelerates to rest.
// Rates are in steps/s^2.
type Trapezoidal struct {
	CruiseIntervalNs uint64
	AccelerationRate uint32
	DecelerationRate uint32
}

func (Trapezoidal) Kind() Kind { return KindTrapezoidal }

func (p Trapezoidal) Validate() error {
	if p.AccelerationRate == 0 {
		return errors.Wrap(ErrZeroRate, "acceleration")
	}
	if p.DecelerationRate == 0 {
		return errors.Wrap(ErrZeroRate, "deceleration")
	}
	if p.CruiseIntervalNs == 0 {
		return errors.Wrap(ErrZeroInterval, "cruise")
	}
	return nil
}

func (p Trapezoidal) newState(currentInterval uint64) rampState {
	return &trapezoidalState{TrapezoidalState{CurrentIntervalNs: currentInterval}}
}

// CruiseInterval converts a step rate in steps/s to an interval in ns.
func CruiseInterval(stepsPerSecond uint32) uint64 {
	if stepsPerSecond == 0 {
		return 0
	}
	return nsPerSecond / uint64(stepsPerSecond)
}
