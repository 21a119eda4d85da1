package axis

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepramp/config"
	"stepramp/driver"
	"stepramp/host/serial"
	"stepramp/motion"
	"stepramp/protocol"
	"stepramp/timing"
)

const machineJSON = `{
  "timing": {"backend": "counter", "counter_frequency_hz": 1000000},
  "axes": {
    "x": {
      "profile": {"steps_per_second": 500, "acceleration_rate": 1000},
      "driver": {"kind": "serial", "device": "link0", "link_axis": 0}
    },
    "y": {
      "profile": {"steps_per_second": 500, "acceleration_rate": 1000},
      "driver": {"kind": "serial", "device": "link0", "link_axis": 1}
    },
    "z": {
      "profile": {"kind": "constant", "interval_ns": 1000000}
    }
  }
}`

type portOpener struct {
	ports map[string]*serial.MemPort
	fail  error
}

func (o *portOpener) open(cfg *serial.Config) (serial.Port, error) {
	if o.fail != nil {
		return nil, o.fail
	}
	p := serial.NewMemPort()
	if o.ports == nil {
		o.ports = make(map[string]*serial.MemPort)
	}
	o.ports[cfg.Device] = p
	return p, nil
}

func TestBuildAndMove(t *testing.T) {
	cfg, err := config.Load([]byte(machineJSON))
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	sched := timing.NewScheduler(&timing.ManualClock{})
	opener := &portOpener{}
	events := map[string]int{}

	m, err := Build(cfg, sched, Options{
		Logger:   logger,
		OpenPort: opener.open,
		OnEvent:  func(axis string, ev motion.Event) { events[axis]++ },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, m.Names())
	assert.Len(t, opener.ports, 1, "axes on one device share a link")

	x, err := m.Axis("x")
	require.NoError(t, err)
	y, err := m.Axis("y")
	require.NoError(t, err)
	z, err := m.Axis("z")
	require.NoError(t, err)
	assert.Equal(t, "serial", x.Backend.Info().Name)
	assert.Equal(t, "log", z.Backend.Info().Name)

	require.NoError(t, x.Controller.MoveBy(100))
	require.NoError(t, y.Controller.MoveTo(-20))
	require.NoError(t, z.Controller.MoveBy(5))
	sched.RunUntilIdle(10_000)

	assert.Equal(t, int32(100), x.Controller.Position())
	assert.Equal(t, int32(-20), y.Controller.Position())
	assert.Equal(t, int32(5), z.Controller.Position())
	assert.Equal(t, map[string]int{"x": 1, "y": 1, "z": 1}, events)
	assert.Equal(t, uint64(5), z.Backend.(*driver.LogBackend).Steps())

	require.NoError(t, m.Close())

	dir := map[uint8]int32{0: 1, 1: 1}
	pos := map[uint8]int32{}
	for _, msg := range protocol.NewDecoder().Feed(opener.ports["link0"].Written()) {
		switch msg.ID {
		case protocol.MsgSetDir:
			dir[msg.Axis] = msg.Value
		case protocol.MsgStep:
			pos[msg.Axis] += dir[msg.Axis]
		}
	}
	assert.Equal(t, map[uint8]int32{0: 100, 1: -20}, pos)
}

func TestStopAll(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sched := timing.NewScheduler(&timing.ManualClock{})

	m, err := Build(config.Default(), sched, Options{Logger: logger})
	require.NoError(t, err)
	defer m.Close()

	x, err := m.Axis("x")
	require.NoError(t, err)
	require.NoError(t, x.Controller.Run(motion.Positive))
	sched.RunUntilIdle(1000)

	m.StopAll()
	assert.Equal(t, motion.Stopping, x.Controller.State())
	sched.RunUntilIdle(100_000)
	assert.False(t, x.Controller.IsMoving())
}

func TestUnknownAxis(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m, err := Build(config.Default(), timing.NewScheduler(nil), Options{Logger: logger})
	require.NoError(t, err)

	_, err = m.Axis("w")
	assert.ErrorIs(t, err, ErrUnknownAxis)
	assert.NoError(t, m.Close())
}

func TestBuildPortFailure(t *testing.T) {
	cfg, err := config.Load([]byte(machineJSON))
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	opener := &portOpener{fail: errors.New("no such device")}
	_, err = Build(cfg, timing.NewScheduler(&timing.ManualClock{}), Options{
		Logger:   logger,
		OpenPort: opener.open,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "axis x")
	assert.Contains(t, err.Error(), "no such device")
}
