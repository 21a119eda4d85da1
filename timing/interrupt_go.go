//go:build !tinygo

package timing

// irqState stands in for the interrupt mask on hosted Go
type irqState uintptr

// disableInterrupts is a no-op on hosted Go; counter devices serialize their
// own register updates.
func disableInterrupts() irqState {
	return 0
}

func restoreInterrupts(irqState) {}
