package regspi

import "unsafe"

// addressOf returns the bus address of the first byte of b. The controller
// has a 32-bit address space.
func addressOf(b []byte) uint32 {
	return uint32(uintptr(unsafe.Pointer(unsafe.SliceData(b))))
}
