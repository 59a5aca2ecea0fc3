package boot

import "unsafe"

// funcValue is the TinyGo representation of a func value: a context word
// followed by the code address.
type funcValue struct {
	context unsafe.Pointer
	code    uintptr
}

// entryFunc returns a context-free func value calling entry.
func entryFunc(entry uintptr) funcValue {
	return funcValue{code: entry}
}
