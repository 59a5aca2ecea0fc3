//go:build !tinygo

package internalflash

import "sync"

// Interrupts is the default critical section. Hosted builds have no interrupt
// controller to mask, so it serializes writers instead.
var Interrupts Critical = &mutexCritical{}

type mutexCritical struct{ mu sync.Mutex }

func (c *mutexCritical) Enter() func() {
	c.mu.Lock()
	return c.mu.Unlock
}
