//go:build tinygo

package internalflash

import "runtime/interrupt"

// Interrupts masks all interrupts for the duration of the section.
var Interrupts Critical = interruptCritical{}

type interruptCritical struct{}

func (interruptCritical) Enter() func() {
	state := interrupt.Disable()
	return func() { interrupt.Restore(state) }
}
