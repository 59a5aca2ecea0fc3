//go:build tinygo && baremetal

package boot

import "unsafe"

// Direct jumps to code at an absolute address.
type Direct struct{}

// Jump calls entry as a function taking no arguments.
func (Direct) Jump(entry uintptr) {
	fn := entryFunc(entry)
	(*(*func())(unsafe.Pointer(&fn)))()
}
