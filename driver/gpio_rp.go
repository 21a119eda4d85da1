//go:build rp2040 || rp2350

package driver

import (
	"device/arm"
	"device/rp"
	"machine"

	"stepramp/motion"
)

// GPIOBackend bit-bangs step and direction through the SIO registers.
type GPIOBackend struct {
	stepPin   machine.Pin
	dirPin    machine.Pin
	invertDir bool

	stepMask uint32
	dirMask  uint32
}

func NewGPIOBackend(stepPin, dirPin machine.Pin, invertDir bool) *GPIOBackend {
	stepPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	stepPin.Low()
	dirPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	dirPin.Set(invertDir)

	return &GPIOBackend{
		stepPin:   stepPin,
		dirPin:    dirPin,
		invertDir: invertDir,
		stepMask:  1 << uint32(stepPin),
		dirMask:   1 << uint32(dirPin),
	}
}

// Step emits one pulse of about 100ns, the minimum for Trinamic drivers.
func (b *GPIOBackend) Step() {
	rp.SIO.GPIO_OUT_SET.Set(b.stepMask)
	// 13 NOPs at 125 MHz
	arm.Asm("nop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop")
	rp.SIO.GPIO_OUT_CLR.Set(b.stepMask)
}

func (b *GPIOBackend) SetDirection(dir motion.Direction) {
	if (dir == motion.Negative) != b.invertDir {
		rp.SIO.GPIO_OUT_SET.Set(b.dirMask)
	} else {
		rp.SIO.GPIO_OUT_CLR.Set(b.dirMask)
	}
	// dir to step setup time, 20ns for TMC2209
	arm.Asm("nop\nnop\nnop")
}

func (b *GPIOBackend) Info() Info {
	return Info{
		Name:          "gpio",
		MaxStepRate:   200000,
		MinPulseNs:    100,
		TypicalJitter: 500,
	}
}

func (b *GPIOBackend) Close() error {
	rp.SIO.GPIO_OUT_CLR.Set(b.stepMask)
	return nil
}
