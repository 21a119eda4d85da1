package motion

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrIncompleteCallbacks = errors.New("stepper callback table is incomplete")
	ErrNoTimingSource      = errors.New("timing source is required")
	ErrPositionOverflow    = errors.New("target position out of range")
	ErrBusy                = errors.New("axis is moving")
	ErrInvalidDirection    = errors.New("invalid direction")
)

// Direction of travel
type Direction int8

const (
	Negative Direction = -1
	Positive Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return fmt.Sprintf("Direction(%d)", int8(d))
	}
}

func (d Direction) valid() bool {
	return d == Positive || d == Negative
}

// Event is reported through Callbacks.Event
type Event uint8

const (
	// EventStepsCompleted fires when a move reaches its target and the axis
	// is at rest, including the end of a stop deceleration.
	EventStepsCompleted Event = iota + 1
)

func (e Event) String() string {
	switch e {
	case EventStepsCompleted:
		return "steps_completed"
	default:
		return fmt.Sprintf("Event(%d)", uint8(e))
	}
}

// State is the controller's externally visible state
type State uint8

const (
	Idle State = iota
	Moving
	ReversingPending // decelerating before a move in the opposite direction
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Moving:
		return "moving"
	case ReversingPending:
		return "reversing"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Target is where the axis is headed: an absolute position, or continuous
// travel in one direction.
type Target struct {
	Position   int32
	Continuous bool
	Direction  Direction // meaningful when Continuous
}

// AbsoluteTarget returns a target at pos
func AbsoluteTarget(pos int32) Target {
	return Target{Position: pos}
}

// ContinuousTarget returns a target of unbounded travel in dir
func ContinuousTarget(dir Direction) Target {
	return Target{Continuous: true, Direction: dir}
}

func (t Target) String() string {
	if t.Continuous {
		return "continuous " + t.Direction.String()
	}
	return fmt.Sprintf("%d", t.Position)
}

// Callbacks into the physical driver. All three are required.
//
// Step must emit exactly one step edge and must not block; it is called from
// the timing callback, possibly in interrupt context. SetDirection is called
// before the first step of a move in a new direction. Event reports move
// completion.
type Callbacks struct {
	Step         func()
	SetDirection func(Direction)
	Event        func(Event)
}

func (c Callbacks) validate() error {
	if c.Step == nil || c.SetDirection == nil || c.Event == nil {
		return ErrIncompleteCallbacks
	}
	return nil
}

// Backend is a physical step/direction driver
type Backend interface {
	Step()
	SetDirection(dir Direction)
}

// BackendCallbacks builds a callback table from b, routing events to onEvent.
func BackendCallbacks(b Backend, onEvent func(Event)) Callbacks {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return Callbacks{
		Step:         b.Step,
		SetDirection: b.SetDirection,
		Event:        onEvent,
	}
}
