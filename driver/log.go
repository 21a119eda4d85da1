package driver

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"stepramp/motion"
)

// LogBackend is a dry run driver. Steps are only counted; direction changes
// and events are logged.
type LogBackend struct {
	log      logrus.FieldLogger
	steps    atomic.Uint64
	position atomic.Int64
	dir      atomic.Int32
}

func NewLogBackend(log logrus.FieldLogger) *LogBackend {
	if log == nil {
		log = logrus.StandardLogger()
	}
	b := &LogBackend{log: log.WithField("driver", "log")}
	b.dir.Store(int32(motion.Positive))
	return b
}

func (b *LogBackend) Step() {
	b.steps.Add(1)
	b.position.Add(int64(b.dir.Load()))
}

func (b *LogBackend) SetDirection(dir motion.Direction) {
	b.dir.Store(int32(dir))
	b.log.WithField("position", b.position.Load()).Debugf("direction %s", dir)
}

func (b *LogBackend) Event(ev motion.Event) {
	b.log.WithFields(logrus.Fields{
		"steps":    b.steps.Load(),
		"position": b.position.Load(),
	}).Info(ev.String())
}

// Steps returns the number of step pulses seen
func (b *LogBackend) Steps() uint64 {
	return b.steps.Load()
}

// Position is the net step count, following direction changes
func (b *LogBackend) Position() int64 {
	return b.position.Load()
}

func (b *LogBackend) Info() Info {
	return Info{Name: "log"}
}

func (b *LogBackend) Close() error {
	return nil
}
