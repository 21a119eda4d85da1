//go:build rp2040

// Command rp2040 is the step link bridge firmware. In bridge mode it executes
// step and direction messages framed by the host; in standalone mode it runs
// a motion controller for axis 0 on the board.
package main

import (
	"machine"
	"time"

	"github.com/pkg/errors"

	"stepramp/driver"
	"stepramp/motion"
	"stepramp/protocol"
)

var errUSBStalled = errors.New("usb write stalled")

type axisPins struct {
	step machine.Pin
	dir  machine.Pin
	sm   uint8
}

var axisTable = [...]axisPins{
	{step: machine.GPIO2, dir: machine.GPIO3, sm: 0},
	{step: machine.GPIO6, dir: machine.GPIO7, sm: 1},
}

// axis 2 is a unipolar motor such as the 28BYJ-48 on a ULN2003 board
var fourWirePins = [4]machine.Pin{machine.GPIO10, machine.GPIO11, machine.GPIO12, machine.GPIO13}

var (
	led = machine.LED

	// Debug counters
	framesIn   uint32
	badAxis    uint32
	recoveries uint32
)

func main() {
	// clear watchdog state left over from a previous reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}
	if err := initUSB(); err != nil {
		return
	}
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})

	backends := openBackends()

	switch selectMode() {
	case ModeStandalone:
		runStandalone(backends[0])
	default:
		runBridge(backends)
	}
}

// openBackends claims a PIO state machine per step/dir axis, falling back to
// bit-banged GPIO when the PIO block is unavailable, then adds the 4-wire axis.
func openBackends() []driver.Backend {
	backends := make([]driver.Backend, len(axisTable))
	for i, p := range axisTable {
		b, err := driver.NewPIOBackend(driver.PIOConfig{
			PIO:          0,
			StateMachine: p.sm,
			StepPin:      p.step,
			DirPin:       p.dir,
		})
		if err != nil {
			backends[i] = driver.NewGPIOBackend(p.step, p.dir, false)
			continue
		}
		backends[i] = b
	}
	fw, err := driver.NewFourWireBackend(driver.FourWireConfig{
		Pins:      fourWirePins,
		StepCount: 2048,
	})
	if err == nil {
		backends = append(backends, fw)
	}
	return backends
}

func runBridge(backends []driver.Backend) {
	dec := protocol.NewDecoder()
	buf := make([]byte, protocol.FrameMax)

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					recoveries++
					dec.Reset()
				}
			}()

			n := usbRead(buf)
			if n == 0 {
				return
			}
			for _, m := range dec.Feed(buf[:n]) {
				dispatch(backends, m)
			}
			framesIn = uint32(dec.Stats().Frames)
		}()

		time.Sleep(20 * time.Microsecond)
	}
}

func dispatch(backends []driver.Backend, m protocol.Message) {
	if int(m.Axis) >= len(backends) {
		badAxis++
		return
	}
	b := backends[m.Axis]

	switch m.ID {
	case protocol.MsgStep:
		b.Step()
	case protocol.MsgSetDir:
		dir := motion.Positive
		if m.Value < 0 {
			dir = motion.Negative
		}
		b.SetDirection(dir)
	case protocol.MsgEvent:
		if motion.Event(m.Value) == motion.EventStepsCompleted {
			led.Set(!led.Get())
		}
	}
}
