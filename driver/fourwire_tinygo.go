//go:build tinygo

package driver

import (
	"machine"

	"github.com/pkg/errors"
	"tinygo.org/x/drivers/easystepper"

	"stepramp/motion"
)

// FourWireConfig configures a FourWireBackend
type FourWireConfig struct {
	Pins      [4]machine.Pin
	StepCount uint // steps per revolution
	HalfStep  bool
}

// FourWireBackend drives a unipolar 4-wire motor through easystepper. The
// coil sequence comes from easystepper; pacing comes from the controller, so
// the device is configured with an RPM that makes its own per-step delay
// about one microsecond.
type FourWireBackend struct {
	dev     *easystepper.Device
	dir     motion.Direction
	phase   int
	modulus int
}

func NewFourWireBackend(cfg FourWireConfig) (*FourWireBackend, error) {
	if cfg.StepCount == 0 {
		return nil, errors.New("step count must be > 0")
	}
	mode := easystepper.ModeFour
	if cfg.HalfStep {
		mode = easystepper.ModeEight
	}

	rpm := 60_000_000 / cfg.StepCount
	if rpm == 0 {
		rpm = 1
	}

	dev, err := easystepper.New(easystepper.DeviceConfig{
		Pin1:      cfg.Pins[0],
		Pin2:      cfg.Pins[1],
		Pin3:      cfg.Pins[2],
		Pin4:      cfg.Pins[3],
		StepCount: cfg.StepCount,
		RPM:       rpm,
		Mode:      mode,
	})
	if err != nil {
		return nil, errors.Wrap(err, "easystepper")
	}
	dev.Configure()

	modulus := 4
	if cfg.HalfStep {
		modulus = 8
	}
	return &FourWireBackend{dev: dev, dir: motion.Positive, modulus: modulus}, nil
}

// Step advances one coil phase in the current direction. A forward Move(k)
// leaves the device k-1 phases ahead, so a reverse step is a forward move of
// modulus-1 phases whose intermediate states last about a microsecond each.
func (b *FourWireBackend) Step() {
	k := 2
	if b.dir == motion.Negative {
		k = b.modulus
	}
	b.dev.Move(int32(k))
	b.phase = (b.phase + int(b.dir) + b.modulus) % b.modulus
}

// Phase returns the coil phase the device was last driven to
func (b *FourWireBackend) Phase() int {
	return b.phase
}

func (b *FourWireBackend) SetDirection(dir motion.Direction) {
	b.dir = dir
}

func (b *FourWireBackend) Info() Info {
	return Info{
		Name:        "fourwire",
		MaxStepRate: 1000,
	}
}

// Close de-energizes the coils
func (b *FourWireBackend) Close() error {
	b.dev.Off()
	return nil
}
