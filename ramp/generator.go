package ramp

// State is a snapshot of a Generator's ramp state: a ConstantState or a
// TrapezoidalState value.
type State interface {
	Kind() Kind
}

// rampState is the per-profile mutable state behind a Generator
type rampState interface {
	kind() Kind
	// prepareMove must leave the state untouched when it returns an error
	prepareMove(p Profile, steps uint32) (uint64, error)
	prepareStop(p Profile) uint64
	nextInterval() uint64
	currentInterval() uint64
	snapshot() State
}

// Generator produces the interval sequence for one axis.
type Generator struct {
	profile Profile
	state   rampState
}

// NewGenerator returns a generator at rest using profile p.
func NewGenerator(p Profile) (*Generator, error) {
	g := &Generator{}
	if err := g.SetProfile(p); err != nil {
		return nil, err
	}
	return g, nil
}

// SetProfile replaces the profile used by future PrepareMove and PrepareStop
// calls. The trajectory already planned keeps running unchanged.
func (g *Generator) SetProfile(p Profile) error {
	if p == nil {
		return ErrNoProfile
	}
	if err := p.Validate(); err != nil {
		return err
	}
	g.profile = p
	return nil
}

// Profile returns the configured profile
func (g *Generator) Profile() Profile {
	return g.profile
}

// PrepareMove plans a move of steps steps (or Continuous) starting from the
// current velocity and returns the number of steps the plan will execute.
// Unbounded plans return Forever.
func (g *Generator) PrepareMove(steps uint32) (uint64, error) {
	if g.profile == nil {
		return 0, ErrNoProfile
	}

	st := g.state
	if st == nil || st.kind() != g.profile.Kind() {
		st = g.profile.newState(g.CurrentInterval())
	}

	total, err := st.prepareMove(g.profile, steps)
	if err != nil {
		return 0, err
	}
	g.state = st
	return total, nil
}

// PrepareStop replaces the plan with a deceleration to rest and returns the
// number of steps it needs. It returns 0 when the axis is already at rest or
// the profile has no deceleration.
func (g *Generator) PrepareStop() uint64 {
	if g.state == nil || g.profile == nil {
		return 0
	}
	return g.state.prepareStop(g.profile)
}

// NextInterval consumes one planned step and returns the time in ns to wait
// before it. It returns 0 once the plan is drained.
func (g *Generator) NextInterval() uint64 {
	if g.state == nil {
		return 0
	}
	return g.state.nextInterval()
}

// CurrentInterval is the interval of the last planned step, 0 at rest
func (g *Generator) CurrentInterval() uint64 {
	if g.state == nil {
		return 0
	}
	return g.state.currentInterval()
}

// Moving reports whether the axis has non-zero velocity
func (g *Generator) Moving() bool {
	return g.CurrentInterval() != 0
}

// Reset drops any plan and puts the axis at rest.
func (g *Generator) Reset() {
	g.state = nil
}

// State returns a copy of the current ramp state, or nil before the first move.
func (g *Generator) State() State {
	if g.state == nil {
		return nil
	}
	return g.state.snapshot()
}
