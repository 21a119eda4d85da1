//go:build tinygo

package timing

import "runtime/interrupt"

type irqState = interrupt.State

// disableInterrupts masks interrupts around multi-register counter updates
func disableInterrupts() irqState {
	return interrupt.Disable()
}

func restoreInterrupts(state irqState) {
	interrupt.Restore(state)
}
