// Package motion drives one stepper axis: it owns position and target,
// plans ramps, paces steps through a timing source and reports completion.
package motion

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stepramp/ramp"
	"stepramp/timing"
)

// Config configures a Controller
type Config struct {
	Name      string
	Profile   ramp.Profile
	Timing    timing.Source
	Callbacks Callbacks
	Logger    logrus.FieldLogger
	TraceSize int
}

// Controller is the motion controller of one axis.
//
// All state is guarded by mu. The timing callback issues the step pulse before
// taking mu and holds it only for the ramp recurrence; no driver call other
// than SetDirection is made with mu held.
//
// armGen changes whenever the timing source is disarmed or armed from rest. A
// tick that fired under an earlier arming only accounts for its step.
type Controller struct {
	cb     Callbacks
	timing timing.Source
	log    logrus.FieldLogger
	trace  *traceRing

	armGen  atomic.Uint32
	stepDir atomic.Int32

	mu        sync.Mutex
	position  int32
	target    Target
	direction Direction
	ramp      *ramp.Generator
	running   bool // timing source armed
	stopping  bool
	reversing bool
	lastErr   error
}

// New creates a controller at position 0 and registers its timing callback.
func New(cfg Config) (*Controller, error) {
	if err := cfg.Callbacks.validate(); err != nil {
		return nil, err
	}
	if cfg.Timing == nil {
		return nil, ErrNoTimingSource
	}

	gen, err := ramp.NewGenerator(cfg.Profile)
	if err != nil {
		return nil, errors.Wrap(err, "ramp profile")
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Name != "" {
		log = log.WithField("axis", cfg.Name)
	}

	c := &Controller{
		cb:        cfg.Callbacks,
		timing:    cfg.Timing,
		log:       log,
		trace:     newTraceRing(cfg.TraceSize),
		direction: Positive,
		ramp:      gen,
	}
	c.stepDir.Store(int32(Positive))

	if err := cfg.Timing.Init(c.onTick); err != nil {
		return nil, errors.Wrap(err, "timing source init")
	}
	return c, nil
}

// MoveTo moves the axis to pos. A move against the current direction of travel
// first decelerates to rest; the new direction is only applied once the axis
// has stopped.
func (c *Controller) MoveTo(pos int32) error {
	c.mu.Lock()
	completed, err := c.moveToLocked(pos)
	c.mu.Unlock()

	if completed {
		c.cb.Event(EventStepsCompleted)
	}
	return err
}

// MoveBy moves the axis delta steps from its current position.
func (c *Controller) MoveBy(delta int32) error {
	c.mu.Lock()
	pos := int64(c.position) + int64(delta)
	if pos > math.MaxInt32 || pos < math.MinInt32 {
		c.mu.Unlock()
		return errors.Wrapf(ErrPositionOverflow, "move by %d", delta)
	}
	completed, err := c.moveToLocked(int32(pos))
	c.mu.Unlock()

	if completed {
		c.cb.Event(EventStepsCompleted)
	}
	return err
}

// moveToLocked reports completed when pos is the current position and the
// axis is at rest; the caller fires the event after releasing mu.
func (c *Controller) moveToLocked(pos int32) (completed bool, err error) {
	// while running, the step already armed in the timing source will happen
	base := int64(c.position)
	if c.running {
		base += int64(c.direction)
	}
	rel := int64(pos) - base

	if rel == 0 && !c.running {
		c.target = AbsoluteTarget(pos)
		c.stopping = false
		c.reversing = false
		c.trace.record(TraceComplete, c.position, 0)
		return true, nil
	}

	dir := c.direction
	switch {
	case rel > 0:
		dir = Positive
	case rel < 0:
		dir = Negative
		rel = -rel
	}

	if c.running && dir != c.direction {
		c.queueReversal(AbsoluteTarget(pos))
		return false, nil
	}
	if rel >= ramp.Continuous {
		return false, errors.Wrapf(ErrPositionOverflow, "move of %d steps", rel)
	}
	return false, c.startLocked(AbsoluteTarget(pos), dir, uint32(rel))
}

// Run moves the axis continuously in dir until Stop is called.
func (c *Controller) Run(dir Direction) error {
	if !dir.valid() {
		return ErrInvalidDirection
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running && dir != c.direction {
		c.queueReversal(ContinuousTarget(dir))
		return nil
	}
	return c.startLocked(ContinuousTarget(dir), dir, ramp.Continuous)
}

// startLocked plans steps in dir toward target and arms the timing source if
// the axis is at rest. State is unchanged if planning fails.
func (c *Controller) startLocked(target Target, dir Direction, steps uint32) error {
	if _, err := c.ramp.PrepareMove(steps); err != nil {
		return errors.Wrap(err, "prepare move")
	}

	c.target = target
	c.stopping = false
	c.reversing = false

	if c.running {
		c.log.WithField("target", target).Debug("move replanned")
		return nil
	}

	c.setDirectionLocked(dir)
	c.armLocked()
	return nil
}

// queueReversal decelerates to rest and leaves target for the timing callback
// to start once the axis has stopped.
func (c *Controller) queueReversal(target Target) {
	steps := c.ramp.PrepareStop()
	c.target = target
	c.stopping = false
	c.reversing = true
	c.trace.record(TraceReverse, c.position, int64(steps))
	c.log.WithFields(logrus.Fields{
		"target":      target,
		"decel_steps": steps,
	}).Debug("reversal queued")
}

// Stop decelerates the axis to rest and returns the number of deceleration
// steps scheduled after the step already in flight. It returns 0 when the axis
// is idle or already stopping. When no deceleration is needed the timing
// source is stopped at once.
func (c *Controller) Stop() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.stopping {
		return 0
	}

	steps := c.ramp.PrepareStop()
	c.trace.record(TraceStop, c.position, int64(steps))
	c.reversing = false

	if steps == 0 {
		c.disarmLocked()
		c.running = false
		c.ramp.Reset()
		c.target = AbsoluteTarget(c.position)
		return 0
	}

	end := int64(c.position) + int64(c.direction)*int64(steps+1)
	if end > math.MaxInt32 {
		end = math.MaxInt32
	} else if end < math.MinInt32 {
		end = math.MinInt32
	}
	c.target = AbsoluteTarget(int32(end))
	c.stopping = true
	return steps
}

// IsMoving reports whether the axis has not reached its target. A stalled
// move keeps reporting true with a frozen position.
func (c *Controller) IsMoving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target.Continuous || c.target.Position != c.position
}

// Position returns the current position in steps
func (c *Controller) Position() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Target returns the current target
func (c *Controller) Target() Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Direction returns the current direction of travel
func (c *Controller) Direction() Direction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.direction
}

// SetPosition redefines the current position. Only allowed at rest.
func (c *Controller) SetPosition(pos int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrBusy
	}
	c.position = pos
	c.target = AbsoluteTarget(pos)
	return nil
}

// SetProfile changes the ramp profile for future moves.
func (c *Controller) SetProfile(p ramp.Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ramp.SetProfile(p)
}

// State reports what the axis is doing
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.reversing:
		return ReversingPending
	case c.stopping:
		return Stopping
	case c.running:
		return Moving
	default:
		return Idle
	}
}

// RampState returns a snapshot of the ramp generator's state
func (c *Controller) RampState() ramp.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ramp.State()
}

// LastError returns the last timing source failure, if any
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Trace returns the recorded controller events, oldest first
func (c *Controller) Trace() []TraceEvent {
	return c.trace.snapshot()
}

// DumpTrace writes the trace ring to the controller's logger
func (c *Controller) DumpTrace() {
	c.trace.dump(c.log)
}

// ClearTrace empties the trace ring
func (c *Controller) ClearTrace() {
	c.trace.reset()
}

func (c *Controller) setDirectionLocked(dir Direction) {
	c.direction = dir
	c.stepDir.Store(int32(dir))
	c.cb.SetDirection(dir)
	c.trace.record(TraceDirection, c.position, int64(dir))
}

// armLocked starts the timing source with the first planned interval.
// It reports whether a step is now pending.
func (c *Controller) armLocked() bool {
	interval := c.ramp.NextInterval()
	if interval == 0 {
		return false
	}
	c.armGen.Add(1)
	if err := c.timing.Start(interval); err != nil {
		c.stallLocked(err)
		return false
	}
	c.running = true
	c.trace.record(TraceArm, c.position, int64(interval))
	return true
}

// stallLocked handles a timing source failure: the move stops where it is and
// the target is left in place.
func (c *Controller) stallLocked(err error) {
	c.armGen.Add(1)
	c.lastErr = err
	c.running = false
	c.stopping = false
	c.reversing = false
	c.ramp.Reset()
	c.trace.record(TraceStall, c.position, 0)
	c.log.WithError(err).WithField("position", c.position).Warn("timing source start failed, move stalled")
}

// disarmLocked stops the timing source. Ticks already in flight become stale.
func (c *Controller) disarmLocked() {
	c.armGen.Add(1)
	if err := c.timing.Stop(); err != nil {
		c.lastErr = err
		c.log.WithError(err).Warn("timing source stop failed")
	}
}

// beginQueuedLocked starts the move left pending by a reversal, if any
func (c *Controller) beginQueuedLocked() bool {
	t := c.target
	if t.Continuous {
		if err := c.startLocked(t, t.Direction, ramp.Continuous); err != nil {
			c.log.WithError(err).Warn("queued run failed")
			return false
		}
		return c.running
	}

	rel := int64(t.Position) - int64(c.position)
	if rel == 0 {
		return false
	}
	dir := Positive
	if rel < 0 {
		dir = Negative
		rel = -rel
	}
	if rel >= ramp.Continuous {
		c.log.WithField("target", t).Warn("queued move out of range")
		return false
	}
	if err := c.startLocked(t, dir, uint32(rel)); err != nil {
		c.log.WithError(err).Warn("queued move failed")
		return false
	}
	return c.running
}

// onTick is the timing callback: one call per elapsed interval.
func (c *Controller) onTick() {
	gen := c.armGen.Load()
	dir := Direction(c.stepDir.Load())
	c.cb.Step()

	c.mu.Lock()
	c.position += int32(dir)

	if gen != c.armGen.Load() || !c.running {
		c.staleTickLocked(dir)
		c.mu.Unlock()
		return
	}

	interval := c.ramp.NextInterval()
	c.trace.record(TraceStep, c.position, int64(interval))
	if interval != 0 {
		if err := c.timing.Start(interval); err != nil {
			c.stallLocked(err)
		}
		c.mu.Unlock()
		return
	}

	c.disarmLocked()
	c.running = false
	c.stopping = false
	c.reversing = false

	if c.beginQueuedLocked() {
		c.mu.Unlock()
		return
	}

	done := !c.target.Continuous && c.target.Position == c.position
	if done {
		c.trace.record(TraceComplete, c.position, 0)
	}
	c.mu.Unlock()

	if done {
		c.cb.Event(EventStepsCompleted)
	}
}

// staleTickLocked accounts for a step that fired under an earlier arming, after
// an immediate stop. The step has happened, so the position keeps it; the ramp
// and timing source belong to whatever was commanded since.
func (c *Controller) staleTickLocked(dir Direction) {
	c.trace.record(TraceStep, c.position, 0)

	switch {
	case !c.running:
		c.target = AbsoluteTarget(c.position)
	case c.target.Continuous || c.reversing:
		// no end to correct; a queued move starts from the position at rest
	case c.stopping:
		end := int64(c.target.Position) + int64(dir)
		if end >= math.MinInt32 && end <= math.MaxInt32 {
			c.target = AbsoluteTarget(int32(end))
		}
	default:
		// replan the remaining steps from the corrected position
		if _, err := c.moveToLocked(c.target.Position); err != nil {
			c.log.WithError(err).Warn("replan after stale step failed")
		}
	}
}
