//go:build rp2040

package main

import (
	"machine"
	"time"

	"github.com/sirupsen/logrus"

	"stepramp/driver"
	"stepramp/motion"
	"stepramp/ramp"
	"stepramp/timing"
)

// Standalone demo move, in steps
const (
	demoTravel         = 3200
	demoStepsPerSecond = 4000
	demoAccel          = 16000
)

// runStandalone shuttles axis 0 between 0 and demoTravel. The scheduler is
// dispatched from the main loop, so step timing is bounded by the loop period.
func runStandalone(b driver.Backend) {
	log := logrus.New()
	log.Out = machine.Serial
	log.Formatter = &logrus.TextFormatter{DisableTimestamp: true}

	sched := timing.NewScheduler(hardwareClock{})
	src := timing.NewSoftwareTimer(sched)

	var ctl *motion.Controller
	next := int32(demoTravel)
	onEvent := func(ev motion.Event) {
		if ev != motion.EventStepsCompleted {
			return
		}
		led.Set(!led.Get())
		next = demoTravel - next
		if err := ctl.MoveTo(next); err != nil {
			log.WithError(err).Error("move")
		}
	}

	var err error
	ctl, err = motion.New(motion.Config{
		Name: "x",
		Profile: ramp.Trapezoidal{
			CruiseIntervalNs: ramp.CruiseInterval(demoStepsPerSecond),
			AccelerationRate: demoAccel,
			DecelerationRate: demoAccel,
		},
		Timing:    src,
		Callbacks: driver.Callbacks(b, onEvent),
		Logger:    log,
		TraceSize: 32,
	})
	if err != nil {
		log.WithError(err).Fatal("controller")
	}

	log.WithField("target", next).Info("standalone demo started")
	if err := ctl.MoveTo(next); err != nil {
		log.WithError(err).Fatal("move")
	}

	for {
		sched.Dispatch(sched.Now())
		if wake, ok := sched.NextWake(); ok && wake > sched.Now()+100_000 {
			time.Sleep(50 * time.Microsecond)
		}
	}
}
