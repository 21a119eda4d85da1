// Package driver holds the physical step/dir backends a motion.Controller
// drives.
package driver

import "stepramp/motion"

// Backend is a step/dir driver that can be released.
type Backend interface {
	motion.Backend
	Info() Info
	Close() error
}

// Info describes what a backend can do
type Info struct {
	Name          string
	MaxStepRate   uint32 // steps/second per axis
	MinPulseNs    uint32 // step pulse width
	TypicalJitter uint32 // ns
}

// eventReporter is implemented by backends that forward motion events
type eventReporter interface {
	Event(ev motion.Event)
}

// Callbacks builds the controller callback table for b. Events go to b first
// when it reports them, then to onEvent.
func Callbacks(b Backend, onEvent func(motion.Event)) motion.Callbacks {
	er, ok := b.(eventReporter)
	if !ok {
		return motion.BackendCallbacks(b, onEvent)
	}
	return motion.BackendCallbacks(b, func(ev motion.Event) {
		er.Event(ev)
		if onEvent != nil {
			onEvent(ev)
		}
	})
}
