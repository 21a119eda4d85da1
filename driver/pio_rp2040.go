//go:build rp2040

package driver

import (
	"machine"

	"github.com/pkg/errors"
	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"stepramp/motion"
)

// Command word pushed to the state machine:
//
//	Bits 0-15:  pulse count
//	Bits 16-23: delay cycles between pulses
//	Bit 31:     direction level
//
// The direction pin is written by the same command that emits the pulses, so
// a direction change always precedes the next edge.
func stepperProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),          // 0: pull block
		asm.Out(rp2pio.OutDestX, 16).Encode(),   // 1: out x, 16
		asm.Out(rp2pio.OutDestY, 8).Encode(),    // 2: out y, 8
		asm.Out(rp2pio.OutDestPins, 1).Encode(), // 3: out pins, 1
		// step_loop:
		asm.Set(rp2pio.SetDestPins, 1).Delay(7).Encode(), // 4: set pins, 1 [7]
		asm.Set(rp2pio.SetDestPins, 0).Encode(),          // 5: set pins, 0
		// delay_loop:
		asm.Jmp(6, rp2pio.JmpYNZeroDec).Encode(), // 6: jmp y--, 6
		asm.Jmp(4, rp2pio.JmpXNZeroDec).Encode(), // 7: jmp x--, 4
		// .wrap
	}
}

// program jumps are absolute
const stepperProgramOrigin = 0

const cmdDirBit = 1 << 31

// PIOConfig selects the state machine and pins of a PIOBackend
type PIOConfig struct {
	PIO          uint8 // 0 or 1
	StateMachine uint8 // 0-3
	StepPin      machine.Pin
	DirPin       machine.Pin
	InvertDir    bool
}

// PIOBackend emits step pulses from an RP2040 PIO state machine. Pulse width
// is hardware timed; Step only pushes one command word.
type PIOBackend struct {
	pio      *rp2pio.PIO
	sm       rp2pio.StateMachine
	cfg      PIOConfig
	dirLevel bool
	offset   uint8
}

// NewPIOBackend claims the state machine and loads the step program.
func NewPIOBackend(cfg PIOConfig) (*PIOBackend, error) {
	if cfg.StateMachine > 3 {
		return nil, errors.Errorf("invalid state machine %d", cfg.StateMachine)
	}

	hw := rp2pio.PIO0
	if cfg.PIO == 1 {
		hw = rp2pio.PIO1
	} else if cfg.PIO != 0 {
		return nil, errors.Errorf("invalid PIO block %d", cfg.PIO)
	}

	b := &PIOBackend{
		pio: hw,
		sm:  hw.StateMachine(cfg.StateMachine),
		cfg: cfg,
	}
	if !b.sm.TryClaim() {
		return nil, errors.Errorf("PIO%d state machine %d is in use", cfg.PIO, cfg.StateMachine)
	}

	program := stepperProgram()
	offset, err := b.pio.AddProgram(program, stepperProgramOrigin)
	if err != nil {
		b.sm.Unclaim()
		return nil, errors.Wrap(err, "load step program")
	}
	b.offset = offset

	cfg.StepPin.Configure(machine.PinConfig{Mode: b.pio.PinMode()})
	cfg.DirPin.Configure(machine.PinConfig{Mode: b.pio.PinMode()})

	smCfg := rp2pio.DefaultStateMachineConfig()
	smCfg.SetSetPins(cfg.StepPin, 1)
	smCfg.SetOutPins(cfg.DirPin, 1)
	// shift right, explicit pull, 32 bit threshold
	smCfg.SetOutShift(true, false, 32)
	smCfg.SetWrap(offset+uint8(len(program))-1, offset)
	smCfg.SetClkDivIntFrac(1000, 0)

	// pin directions must be set after Init
	b.sm.Init(offset, smCfg)
	b.sm.SetPindirsConsecutive(cfg.StepPin, 1, true)
	b.sm.SetPindirsConsecutive(cfg.DirPin, 1, true)
	b.sm.SetPinsConsecutive(cfg.StepPin, 1, false)
	b.sm.SetPinsConsecutive(cfg.DirPin, 1, cfg.InvertDir)
	b.dirLevel = cfg.InvertDir

	b.sm.SetEnabled(true)
	return b, nil
}

// Step queues one pulse. The TX FIFO is 4 words deep and drains in a few
// microseconds, so the wait is bounded.
func (b *PIOBackend) Step() {
	cmd := uint32(1) | 1<<16
	if b.dirLevel {
		cmd |= cmdDirBit
	}
	for b.sm.IsTxFIFOFull() {
	}
	b.sm.TxPut(cmd)
}

func (b *PIOBackend) SetDirection(dir motion.Direction) {
	b.dirLevel = (dir == motion.Negative) != b.cfg.InvertDir
}

// Halt drops queued pulses
func (b *PIOBackend) Halt() {
	b.sm.SetEnabled(false)
	b.sm.ClearFIFOs()
	b.sm.Restart()
	b.sm.SetEnabled(true)
}

func (b *PIOBackend) Info() Info {
	return Info{
		Name:          "pio",
		MaxStepRate:   500000,
		MinPulseNs:    64, // 8 cycles at 125 MHz
		TypicalJitter: 10,
	}
}

func (b *PIOBackend) Close() error {
	b.sm.SetEnabled(false)
	b.sm.ClearFIFOs()
	b.sm.Unclaim()
	return nil
}
