package motion

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepramp/ramp"
	"stepramp/timing"
)

// 500 steps/s cruise with 1000 steps/s^2 both ways
var testProfile = ramp.Trapezoidal{
	CruiseIntervalNs: 2_000_000,
	AccelerationRate: 1000,
	DecelerationRate: 1000,
}

// driver is a fake step/dir backend that tracks the physical position
type driver struct {
	mu       sync.Mutex
	steps    int
	physical int32
	dir      Direction
	dirs     []Direction
	events   []Event

	onStep  func(n int)
	onDir   func(Direction)
	onEvent func(Event)
}

func (d *driver) Step() {
	d.mu.Lock()
	d.steps++
	d.physical += int32(d.dir)
	n := d.steps
	d.mu.Unlock()
	if d.onStep != nil {
		d.onStep(n)
	}
}

func (d *driver) position() int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.physical
}

func (d *driver) SetDirection(dir Direction) {
	d.mu.Lock()
	d.dir = dir
	d.dirs = append(d.dirs, dir)
	d.mu.Unlock()
	if d.onDir != nil {
		d.onDir(dir)
	}
}

func (d *driver) event(ev Event) {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
	if d.onEvent != nil {
		d.onEvent(ev)
	}
}

func (d *driver) eventCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

type harness struct {
	clock *timing.ManualClock
	sched *timing.Scheduler
	drv   *driver
	ctl   *Controller
}

func newHarness(t *testing.T, p ramp.Profile) *harness {
	t.Helper()
	clock := &timing.ManualClock{}
	sched := timing.NewScheduler(clock)
	return newHarnessWithSource(t, p, clock, sched, timing.NewSoftwareTimer(sched))
}

func newHarnessWithSource(t *testing.T, p ramp.Profile, clock *timing.ManualClock, sched *timing.Scheduler, src timing.Source) *harness {
	t.Helper()
	logger, _ := test.NewNullLogger()

	drv := &driver{}
	ctl, err := New(Config{
		Name:      "x",
		Profile:   p,
		Timing:    src,
		Callbacks: BackendCallbacks(drv, drv.event),
		Logger:    logger,
	})
	require.NoError(t, err)
	return &harness{clock: clock, sched: sched, drv: drv, ctl: ctl}
}

func (h *harness) step(n int) int {
	return h.sched.RunUntilIdle(n)
}

func (h *harness) drain() int {
	return h.sched.RunUntilIdle(1_000_000)
}

func TestNewValidation(t *testing.T) {
	sched := timing.NewScheduler(&timing.ManualClock{})
	drv := &driver{}

	_, err := New(Config{
		Profile:   testProfile,
		Timing:    timing.NewSoftwareTimer(sched),
		Callbacks: Callbacks{Step: drv.Step, SetDirection: drv.SetDirection},
	})
	assert.ErrorIs(t, err, ErrIncompleteCallbacks)

	_, err = New(Config{
		Profile:   testProfile,
		Callbacks: BackendCallbacks(drv, nil),
	})
	assert.ErrorIs(t, err, ErrNoTimingSource)

	_, err = New(Config{
		Profile:   ramp.Trapezoidal{CruiseIntervalNs: 1000, DecelerationRate: 10},
		Timing:    timing.NewSoftwareTimer(sched),
		Callbacks: BackendCallbacks(drv, nil),
	})
	assert.ErrorIs(t, err, ramp.ErrZeroRate)

	src := timing.NewSoftwareTimer(sched)
	_, err = New(Config{Profile: testProfile, Timing: src, Callbacks: BackendCallbacks(drv, nil)})
	require.NoError(t, err)
	_, err = New(Config{Profile: testProfile, Timing: src, Callbacks: BackendCallbacks(drv, nil)})
	assert.ErrorIs(t, err, timing.ErrAlreadyInitialized)
}

func TestMoveByCompletes(t *testing.T) {
	h := newHarness(t, testProfile)

	require.NoError(t, h.ctl.MoveBy(1000))
	assert.True(t, h.ctl.IsMoving())
	assert.Equal(t, Moving, h.ctl.State())

	fired := h.drain()
	assert.Equal(t, 1000, fired)

	assert.Equal(t, int32(1000), h.ctl.Position())
	assert.Equal(t, int32(1000), h.drv.physical)
	assert.Equal(t, 1000, h.drv.steps)
	assert.Equal(t, []Event{EventStepsCompleted}, h.drv.events)
	assert.Equal(t, []Direction{Positive}, h.drv.dirs)
	assert.False(t, h.ctl.IsMoving())
	assert.Equal(t, Idle, h.ctl.State())

	// 0.5 s to reach 500 steps/s at 1000 steps/s^2, the same to stop, and
	// 750 cruise steps take 1.5 s
	elapsed := time.Duration(h.clock.Now())
	assert.InDelta(t, 2.5, elapsed.Seconds(), 0.15)
}

func TestMoveToNegative(t *testing.T) {
	h := newHarness(t, testProfile)

	require.NoError(t, h.ctl.MoveTo(-50))
	h.drain()

	assert.Equal(t, int32(-50), h.ctl.Position())
	assert.Equal(t, int32(-50), h.drv.physical)
	assert.Equal(t, Negative, h.ctl.Direction())
	assert.Equal(t, []Direction{Negative}, h.drv.dirs)
	assert.Len(t, h.drv.events, 1)
}

func TestMoveToCurrentPositionCompletesImmediately(t *testing.T) {
	h := newHarness(t, testProfile)

	require.NoError(t, h.ctl.MoveTo(0))
	assert.Equal(t, []Event{EventStepsCompleted}, h.drv.events)
	assert.False(t, h.ctl.IsMoving())
	assert.Equal(t, 0, h.sched.Pending())
	assert.Equal(t, 0, h.drv.steps)
}

func TestReversalWaitsForRest(t *testing.T) {
	h := newHarness(t, testProfile)

	var (
		restAtReverse = true
		posAtReverse  int32
	)
	h.drv.onDir = func(dir Direction) {
		if dir != Negative {
			return
		}
		// called with the controller lock held, read the ramp directly
		restAtReverse = h.ctl.ramp.CurrentInterval() == 0 && !h.ctl.ramp.Moving()
		posAtReverse = h.ctl.position
	}

	require.NoError(t, h.ctl.MoveTo(100))
	h.step(20)
	require.Equal(t, int32(20), h.ctl.Position())

	require.NoError(t, h.ctl.MoveTo(0))
	assert.Equal(t, ReversingPending, h.ctl.State())
	assert.Equal(t, AbsoluteTarget(0), h.ctl.Target())
	assert.Empty(t, h.drv.events)

	h.drain()

	assert.Equal(t, int32(0), h.ctl.Position())
	assert.Equal(t, int32(0), h.drv.physical)
	assert.Equal(t, []Direction{Positive, Negative}, h.drv.dirs)
	assert.True(t, restAtReverse, "direction changed while the ramp was moving")
	assert.Greater(t, posAtReverse, int32(20), "deceleration steps continue forward")
	assert.Equal(t, 2*int(posAtReverse), h.drv.steps)
	assert.Equal(t, []Event{EventStepsCompleted}, h.drv.events)
	assert.Equal(t, Idle, h.ctl.State())
}

func TestSameDirectionRetarget(t *testing.T) {
	h := newHarness(t, testProfile)

	require.NoError(t, h.ctl.MoveTo(1000))
	h.step(300)

	require.NoError(t, h.ctl.MoveTo(600))
	assert.Equal(t, Moving, h.ctl.State())
	h.drain()

	assert.Equal(t, int32(600), h.ctl.Position())
	assert.Equal(t, []Direction{Positive}, h.drv.dirs)
	assert.Len(t, h.drv.events, 1)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, testProfile)

	require.NoError(t, h.ctl.MoveBy(1000))
	h.step(200)
	require.Equal(t, int32(200), h.ctl.Position())

	steps := h.ctl.Stop()
	assert.Equal(t, uint64(125), steps)
	assert.Equal(t, Stopping, h.ctl.State())
	target := h.ctl.Target()
	assert.Equal(t, AbsoluteTarget(200+1+125), target)

	assert.Equal(t, uint64(0), h.ctl.Stop())
	assert.Equal(t, target, h.ctl.Target())

	h.drain()
	assert.Equal(t, target.Position, h.ctl.Position())
	assert.Equal(t, []Event{EventStepsCompleted}, h.drv.events)
	assert.Equal(t, Idle, h.ctl.State())
}

func TestStopWhenIdle(t *testing.T) {
	h := newHarness(t, testProfile)
	assert.Equal(t, uint64(0), h.ctl.Stop())
	assert.Equal(t, Idle, h.ctl.State())
	assert.Empty(t, h.drv.events)
}

func TestMoveAfterStopResumes(t *testing.T) {
	h := newHarness(t, testProfile)

	require.NoError(t, h.ctl.MoveBy(1000))
	h.step(200)
	h.ctl.Stop()
	h.step(10)

	require.NoError(t, h.ctl.MoveTo(1000))
	assert.Equal(t, Moving, h.ctl.State())
	h.drain()

	assert.Equal(t, int32(1000), h.ctl.Position())
	assert.Len(t, h.drv.events, 1)
}

func TestRunAndStop(t *testing.T) {
	h := newHarness(t, testProfile)

	require.NoError(t, h.ctl.Run(Positive))
	h.step(5000)

	assert.True(t, h.ctl.IsMoving())
	assert.Equal(t, ContinuousTarget(Positive), h.ctl.Target())
	assert.Equal(t, int32(5000), h.ctl.Position())

	steps := h.ctl.Stop()
	require.Equal(t, uint64(125), steps)
	h.drain()

	assert.Equal(t, int32(5000+1+125), h.ctl.Position())
	assert.False(t, h.ctl.IsMoving())
	assert.Len(t, h.drv.events, 1)
}

func TestRunInvalidDirection(t *testing.T) {
	h := newHarness(t, testProfile)
	assert.ErrorIs(t, h.ctl.Run(Direction(0)), ErrInvalidDirection)
}

func TestRunReversal(t *testing.T) {
	h := newHarness(t, testProfile)

	require.NoError(t, h.ctl.Run(Positive))
	h.step(300)
	require.NoError(t, h.ctl.Run(Negative))
	assert.Equal(t, ReversingPending, h.ctl.State())

	h.step(2000)
	assert.Equal(t, Negative, h.ctl.Direction())
	assert.Equal(t, Moving, h.ctl.State())
	assert.Equal(t, ContinuousTarget(Negative), h.ctl.Target())

	h.ctl.Stop()
	h.drain()
	assert.Equal(t, h.drv.physical, h.ctl.Position())
	assert.Less(t, h.ctl.Position(), int32(300))
	assert.Equal(t, []Direction{Positive, Negative}, h.drv.dirs)
}

func TestStopCancelsReversal(t *testing.T) {
	h := newHarness(t, testProfile)

	require.NoError(t, h.ctl.MoveTo(1000))
	h.step(300)
	require.NoError(t, h.ctl.MoveTo(0))
	require.Equal(t, ReversingPending, h.ctl.State())

	h.ctl.Stop()
	assert.Equal(t, Stopping, h.ctl.State())
	h.drain()

	assert.Equal(t, []Direction{Positive}, h.drv.dirs)
	assert.Greater(t, h.ctl.Position(), int32(300))
	assert.Len(t, h.drv.events, 1)
}

func TestConstantProfile(t *testing.T) {
	h := newHarness(t, ramp.Constant{IntervalNs: 1000})

	require.NoError(t, h.ctl.MoveBy(10))
	h.drain()

	assert.Equal(t, int32(10), h.ctl.Position())
	assert.Equal(t, uint64(10_000), h.clock.Now())
	assert.Len(t, h.drv.events, 1)
}

func TestConstantProfileStopIsImmediate(t *testing.T) {
	h := newHarness(t, ramp.Constant{IntervalNs: 1000})

	require.NoError(t, h.ctl.MoveBy(100))
	h.step(10)

	assert.Equal(t, uint64(0), h.ctl.Stop())
	assert.Equal(t, Idle, h.ctl.State())
	assert.Equal(t, 0, h.drain())
	assert.Equal(t, int32(10), h.ctl.Position())
	assert.False(t, h.ctl.IsMoving())
}

// holdStep blocks the nth step inside Step until the returned release is
// called. held is closed once the step is blocked.
func holdStep(d *driver, nth int) (held <-chan struct{}, release func()) {
	h := make(chan struct{})
	r := make(chan struct{})
	d.onStep = func(n int) {
		if n == nth {
			close(h)
			<-r
		}
	}
	return h, func() { close(r) }
}

func TestStepInFlightAcrossStopAndReverse(t *testing.T) {
	h := newHarness(t, ramp.Constant{IntervalNs: 1_000_000})
	held, release := holdStep(h.drv, 4)

	require.NoError(t, h.ctl.MoveTo(10))
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.step(4)
	}()
	<-held

	// the 4th pulse is out but not yet accounted for
	assert.Equal(t, int32(3), h.ctl.Position())
	assert.Equal(t, uint64(0), h.ctl.Stop())
	require.NoError(t, h.ctl.MoveTo(-5))
	assert.Equal(t, 1, h.sched.Pending())

	release()
	<-done
	assert.LessOrEqual(t, h.sched.Pending(), 1)
	assert.Equal(t, h.drv.position(), h.ctl.Position())

	h.drain()
	assert.Equal(t, int32(-5), h.ctl.Position())
	assert.Equal(t, int32(-5), h.drv.physical)
	assert.Equal(t, 13, h.drv.steps)
	assert.Equal(t, []Direction{Positive, Negative}, h.drv.dirs)
	assert.False(t, h.ctl.IsMoving())
	assert.Len(t, h.drv.events, 1)
}

func TestStepInFlightAfterRepeatedStop(t *testing.T) {
	h := newHarness(t, ramp.Constant{IntervalNs: 1_000_000})
	held, release := holdStep(h.drv, 4)

	require.NoError(t, h.ctl.MoveTo(10))
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.step(4)
	}()
	<-held

	h.ctl.Stop()
	require.NoError(t, h.ctl.MoveTo(-5))
	h.ctl.Stop()
	assert.Equal(t, 0, h.sched.Pending())

	release()
	<-done
	assert.Equal(t, 0, h.drain())
	assert.Equal(t, int32(4), h.ctl.Position())
	assert.Equal(t, int32(4), h.drv.physical)
	assert.Equal(t, AbsoluteTarget(4), h.ctl.Target())
	assert.False(t, h.ctl.IsMoving())
}

func TestSetProfileWhileMoving(t *testing.T) {
	h := newHarness(t, testProfile)

	require.NoError(t, h.ctl.MoveBy(1000))
	h.step(50)

	faster := testProfile
	faster.CruiseIntervalNs = 1_000_000
	require.NoError(t, h.ctl.SetProfile(faster))
	assert.Error(t, h.ctl.SetProfile(ramp.Constant{}))

	h.drain()
	assert.Equal(t, int32(1000), h.ctl.Position())
}

func TestSetPosition(t *testing.T) {
	h := newHarness(t, testProfile)

	require.NoError(t, h.ctl.SetPosition(500))
	assert.Equal(t, int32(500), h.ctl.Position())
	assert.False(t, h.ctl.IsMoving())

	require.NoError(t, h.ctl.MoveBy(10))
	assert.ErrorIs(t, h.ctl.SetPosition(0), ErrBusy)

	h.drain()
	assert.Equal(t, int32(510), h.ctl.Position())
}

func TestMoveByOverflow(t *testing.T) {
	h := newHarness(t, testProfile)

	require.NoError(t, h.ctl.SetPosition(math.MaxInt32-5))
	assert.ErrorIs(t, h.ctl.MoveBy(10), ErrPositionOverflow)
	assert.False(t, h.ctl.IsMoving())

	require.NoError(t, h.ctl.SetPosition(math.MinInt32+5))
	assert.ErrorIs(t, h.ctl.MoveBy(-10), ErrPositionOverflow)
}

func TestEventHandlerMayIssueCommands(t *testing.T) {
	h := newHarness(t, testProfile)

	legs := 0
	next := []int32{0, 40}
	h.drv.onEvent = func(Event) {
		legs++
		if legs <= len(next) {
			require.NoError(t, h.ctl.MoveTo(next[legs-1]))
		}
	}

	require.NoError(t, h.ctl.MoveTo(40))
	h.drain()

	assert.Equal(t, 3, legs)
	assert.Equal(t, int32(40), h.ctl.Position())
}

// flakySource fails every Start after the first n
type flakySource struct {
	timing.Source
	n int
}

func (f *flakySource) Start(intervalNs uint64) error {
	if intervalNs != 0 {
		if f.n == 0 {
			return errors.New("counter busy")
		}
		f.n--
	}
	return f.Source.Start(intervalNs)
}

func TestTimingFailureStalls(t *testing.T) {
	clock := &timing.ManualClock{}
	sched := timing.NewScheduler(clock)
	src := &flakySource{Source: timing.NewSoftwareTimer(sched), n: 10}
	h := newHarnessWithSource(t, testProfile, clock, sched, src)

	require.NoError(t, h.ctl.MoveBy(100))
	h.drain()

	assert.Equal(t, int32(10), h.ctl.Position())
	assert.Equal(t, AbsoluteTarget(100), h.ctl.Target())
	assert.True(t, h.ctl.IsMoving())
	assert.Equal(t, Idle, h.ctl.State())
	assert.EqualError(t, h.ctl.LastError(), "counter busy")
	assert.Empty(t, h.drv.events)

	trace := h.ctl.Trace()
	require.NotEmpty(t, trace)
	assert.Equal(t, TraceStall, trace[len(trace)-1].Kind)

	// a fresh command restarts the ramp from rest
	src.n = 1000
	require.NoError(t, h.ctl.MoveTo(100))
	h.drain()
	assert.Equal(t, int32(100), h.ctl.Position())
	assert.Len(t, h.drv.events, 1)
}

// stopFailSource reports an error from every Stop
type stopFailSource struct {
	timing.Source
	stops int
}

func (f *stopFailSource) Stop() error {
	f.stops++
	if err := f.Source.Stop(); err != nil {
		return err
	}
	return errors.Errorf("counter stuck (%d)", f.stops)
}

func TestTimingStopFailureIsRecorded(t *testing.T) {
	clock := &timing.ManualClock{}
	sched := timing.NewScheduler(clock)
	src := &stopFailSource{Source: timing.NewSoftwareTimer(sched)}
	h := newHarnessWithSource(t, ramp.Constant{IntervalNs: 1000}, clock, sched, src)

	require.NoError(t, h.ctl.MoveBy(3))
	h.drain()

	assert.Equal(t, int32(3), h.ctl.Position())
	assert.Len(t, h.drv.events, 1)
	assert.EqualError(t, h.ctl.LastError(), "counter stuck (1)")

	require.NoError(t, h.ctl.MoveBy(10))
	h.step(2)
	assert.Equal(t, uint64(0), h.ctl.Stop())
	assert.EqualError(t, h.ctl.LastError(), "counter stuck (2)")
	assert.Equal(t, int32(5), h.ctl.Position())
	assert.False(t, h.ctl.IsMoving())
}

func TestTimingFailureOnArm(t *testing.T) {
	clock := &timing.ManualClock{}
	sched := timing.NewScheduler(clock)
	src := &flakySource{Source: timing.NewSoftwareTimer(sched)}
	h := newHarnessWithSource(t, testProfile, clock, sched, src)

	require.NoError(t, h.ctl.MoveBy(100))
	assert.Error(t, h.ctl.LastError())
	assert.Equal(t, Idle, h.ctl.State())
	assert.Equal(t, int32(0), h.ctl.Position())
}

func TestCounterSourceMove(t *testing.T) {
	clock := &timing.ManualClock{}
	sched := timing.NewScheduler(clock)
	src, err := timing.NewCounterSource(timing.NewSimCounter(sched, 1_000_000))
	require.NoError(t, err)
	h := newHarnessWithSource(t, testProfile, clock, sched, src)

	require.NoError(t, h.ctl.MoveBy(400))
	h.drain()

	assert.Equal(t, int32(400), h.ctl.Position())
	assert.Equal(t, 400, h.drv.steps)
	assert.Len(t, h.drv.events, 1)
}

func TestRealTimeMove(t *testing.T) {
	if testing.Short() {
		t.Skip("real-time scheduling")
	}

	sched := timing.NewScheduler(timing.NewMonotonicClock())
	drv := &driver{}
	done := make(chan struct{}, 1)
	drv.onEvent = func(Event) {
		select {
		case done <- struct{}{}:
		default:
		}
	}
	logger, _ := test.NewNullLogger()

	ctl, err := New(Config{
		Profile: ramp.Trapezoidal{
			CruiseIntervalNs: 20_000,
			AccelerationRate: 1_000_000,
			DecelerationRate: 1_000_000,
		},
		Timing:    timing.NewSoftwareTimer(sched),
		Callbacks: BackendCallbacks(drv, drv.event),
		Logger:    logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	require.NoError(t, ctl.MoveBy(2000))
	require.Eventually(t, func() bool { return ctl.Position() > 100 }, 5*time.Second, time.Millisecond)
	require.NoError(t, ctl.MoveTo(-500))

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("move did not complete")
	}

	assert.Equal(t, int32(-500), ctl.Position())
	assert.False(t, ctl.IsMoving())
	assert.Equal(t, 1, drv.eventCount())
	drv.mu.Lock()
	assert.Equal(t, int32(-500), drv.physical)
	drv.mu.Unlock()
}
