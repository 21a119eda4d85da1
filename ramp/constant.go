package ramp

// ConstantState is the state of a constant-velocity ramp
type ConstantState struct {
	IntervalNs        uint64
	StepsLeft         uint64 // Forever in continuous mode
	CurrentIntervalNs uint64 // 0 at rest
}

func (ConstantState) Kind() Kind { return KindConstant }

type constantState struct {
	ConstantState
}

func (s *constantState) kind() Kind { return KindConstant }

func (s *constantState) prepareMove(p Profile, steps uint32) (uint64, error) {
	cp, ok := p.(Constant)
	if !ok {
		return 0, ErrUnsupportedProfile
	}
	if err := cp.Validate(); err != nil {
		return 0, err
	}

	s.IntervalNs = cp.IntervalNs
	if steps == Continuous {
		s.StepsLeft = Forever
		return Forever, nil
	}
	s.StepsLeft = uint64(steps)
	return uint64(steps), nil
}

// A constant ramp has no deceleration, stopping is immediate.
func (s *constantState) prepareStop(Profile) uint64 {
	s.StepsLeft = 0
	s.CurrentIntervalNs = 0
	return 0
}

func (s *constantState) nextInterval() uint64 {
	if s.StepsLeft == 0 {
		s.CurrentIntervalNs = 0
		return 0
	}
	if s.StepsLeft != Forever {
		s.StepsLeft--
	}
	s.CurrentIntervalNs = s.IntervalNs
	return s.IntervalNs
}

func (s *constantState) currentInterval() uint64 {
	return s.CurrentIntervalNs
}

func (s *constantState) snapshot() State {
	return s.ConstantState
}
