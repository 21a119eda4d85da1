package ramp

const (
	nsPerSecond = 1_000_000_000

	// The recurrence overshoots the first step by ~32% when seeded with the
	// exact sqrt(2/rate); this factor compensates.
	firstStepPermille = 676
)

// TrapezoidalState is the state of a trapezoidal ramp. Phases run
// pre-deceleration, acceleration, run, deceleration, each drained before the
// next one starts.
type TrapezoidalState struct {
	PreDecelStepsLeft uint64
	AccelStepsLeft    uint64
	RunStepsLeft      uint64 // Forever in continuous mode
	DecelStepsLeft    uint64

	RunIntervalNs        uint64
	FirstAccelIntervalNs uint64
	LastDecelIntervalNs  uint64
	IntervalRemainder    uint64
	AccelIndex           uint64
	CurrentIntervalNs    uint64 // 0 at rest

	// Steps needed to stop from the cruise interval
	CruiseStopSteps uint64
}

func (TrapezoidalState) Kind() Kind { return KindTrapezoidal }

// Total is the number of steps left in the plan, Forever when unbounded.
func (s TrapezoidalState) Total() uint64 {
	if s.RunStepsLeft == Forever {
		return Forever
	}
	return s.PreDecelStepsLeft + s.AccelStepsLeft + s.RunStepsLeft + s.DecelStepsLeft
}

type trapezoidalState struct {
	TrapezoidalState
}

// firstStepInterval is 0.676*sqrt(2/rate) seconds in ns
func firstStepInterval(rate uint32) uint64 {
	return Isqrt(2*nsPerSecond*nsPerSecond/uint64(rate)) * firstStepPermille / 1000
}

// rampSteps is the number of steps to go from rest to interval at rate:
// freq^2 / (2*rate)
func rampSteps(interval uint64, rate uint32) uint64 {
	if interval == 0 {
		return 0
	}
	freqSq := nsPerSecond * nsPerSecond / interval / interval
	return freqSq / (2 * uint64(rate))
}

func (s *trapezoidalState) kind() Kind { return KindTrapezoidal }

func (s *trapezoidalState) prepareMove(p Profile, steps uint32) (uint64, error) {
	tp, ok := p.(Trapezoidal)
	if !ok {
		return 0, ErrUnsupportedProfile
	}
	if err := tp.Validate(); err != nil {
		return 0, err
	}

	accelRate := uint64(tp.AccelerationRate)
	decelRate := uint64(tp.DecelerationRate)
	cruise := tp.CruiseIntervalNs
	current := s.CurrentIntervalNs
	continuous := steps == Continuous
	n := uint64(steps)

	var pre, accel, run, decel, index uint64
	cruiseStop := rampSteps(cruise, tp.DecelerationRate)

	switch {
	case current == 0 || current > cruise:
		// speeding up, from rest or from a slower velocity
		done := rampSteps(current, tp.AccelerationRate)
		if toCruise := rampSteps(cruise, tp.AccelerationRate); toCruise > done {
			accel = toCruise - done
		}
		index = done

		switch {
		case continuous:
			run = Forever
		case accel+cruiseStop <= n:
			decel = cruiseStop
			run = n - accel - decel
		default:
			// cruise is never reached: split by the ratio of the rates
			decel = (n + done) * accelRate / (accelRate + decelRate)
			if decel > n {
				decel = n
			}
			accel = n - decel
		}

	case current < cruise:
		// slowing down to a lower cruise velocity
		stop := rampSteps(current, tp.DecelerationRate)
		if stop > cruiseStop {
			pre = stop - cruiseStop
		}

		switch {
		case continuous:
			run = Forever
		case pre+cruiseStop <= n:
			decel = cruiseStop
			run = n - pre - decel
		default:
			pre = 0
			decel = n
		}

	default:
		switch {
		case continuous:
			run = Forever
		case cruiseStop <= n:
			decel = cruiseStop
			run = n - decel
		default:
			decel = n
		}
	}

	s.PreDecelStepsLeft = pre
	s.AccelStepsLeft = accel
	s.RunStepsLeft = run
	s.DecelStepsLeft = decel
	s.RunIntervalNs = cruise
	s.FirstAccelIntervalNs = firstStepInterval(tp.AccelerationRate)
	s.LastDecelIntervalNs = firstStepInterval(tp.DecelerationRate)
	s.IntervalRemainder = 0
	s.AccelIndex = index
	s.CruiseStopSteps = cruiseStop

	return s.Total(), nil
}

func (s *trapezoidalState) prepareStop(p Profile) uint64 {
	s.PreDecelStepsLeft = 0
	s.AccelStepsLeft = 0
	s.RunStepsLeft = 0
	s.DecelStepsLeft = 0
	s.IntervalRemainder = 0

	tp, ok := p.(Trapezoidal)
	if !ok || tp.DecelerationRate == 0 || s.CurrentIntervalNs == 0 {
		s.CurrentIntervalNs = 0
		return 0
	}

	s.LastDecelIntervalNs = firstStepInterval(tp.DecelerationRate)
	s.DecelStepsLeft = rampSteps(s.CurrentIntervalNs, tp.DecelerationRate)
	if s.DecelStepsLeft == 0 {
		// slow enough to stop within one step
		s.CurrentIntervalNs = 0
	}
	return s.DecelStepsLeft
}

// decelerate applies one step of the deceleration recurrence with m steps
// left before rest.
func (s *trapezoidalState) decelerate(m uint64) {
	den := 4*m - 1
	num := 2*s.CurrentIntervalNs + s.IntervalRemainder
	s.CurrentIntervalNs += num / den
	s.IntervalRemainder = num % den
}

func (s *trapezoidalState) nextInterval() uint64 {
	switch {
	case s.PreDecelStepsLeft > 0:
		if s.PreDecelStepsLeft == 1 {
			s.CurrentIntervalNs = s.RunIntervalNs
			s.IntervalRemainder = 0
		} else {
			s.decelerate(s.PreDecelStepsLeft + s.CruiseStopSteps)
			if s.CurrentIntervalNs > s.RunIntervalNs {
				s.CurrentIntervalNs = s.RunIntervalNs
			}
		}
		s.PreDecelStepsLeft--

	case s.AccelStepsLeft > 0:
		if s.CurrentIntervalNs == 0 {
			s.CurrentIntervalNs = s.FirstAccelIntervalNs
			s.IntervalRemainder = 0
			s.AccelIndex = 0
		} else {
			s.AccelIndex++
			den := 4*s.AccelIndex + 1
			num := 2*s.CurrentIntervalNs + s.IntervalRemainder
			s.CurrentIntervalNs -= num / den
			s.IntervalRemainder = num % den
		}
		if s.CurrentIntervalNs < s.RunIntervalNs {
			s.CurrentIntervalNs = s.RunIntervalNs
		}
		s.AccelStepsLeft--

	case s.RunStepsLeft > 0:
		s.CurrentIntervalNs = s.RunIntervalNs
		if s.RunStepsLeft != Forever {
			s.RunStepsLeft--
		}

	case s.DecelStepsLeft > 0:
		if s.DecelStepsLeft == 1 || s.CurrentIntervalNs == 0 {
			s.CurrentIntervalNs = s.LastDecelIntervalNs
			s.IntervalRemainder = 0
		} else {
			s.decelerate(s.DecelStepsLeft)
			if s.CurrentIntervalNs > s.LastDecelIntervalNs {
				s.CurrentIntervalNs = s.LastDecelIntervalNs
			}
		}
		s.DecelStepsLeft--

	default:
		s.CurrentIntervalNs = 0
		s.IntervalRemainder = 0
		s.AccelIndex = 0
		return 0
	}

	return s.CurrentIntervalNs
}

func (s *trapezoidalState) currentInterval() uint64 {
	return s.CurrentIntervalNs
}

func (s *trapezoidalState) snapshot() State {
	return s.TrapezoidalState
}
