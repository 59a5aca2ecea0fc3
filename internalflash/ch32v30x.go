//go:build tinygo && ch32v30x

package internalflash

import (
	"errors"
	"io"
	"runtime/volatile"
	"unsafe"
)

// Base is the address the internal flash is mapped at.
const Base = 0x08000000

const flashSize = 256 << 10

type flashRegs struct {
	ACTLR    volatile.Register32
	KEYR     volatile.Register32
	OBKEYR   volatile.Register32
	STATR    volatile.Register32
	CTLR     volatile.Register32
	ADDR     volatile.Register32
	_        volatile.Register32
	OBR      volatile.Register32
	WPR      volatile.Register32
	MODEKEYR volatile.Register32
}

var (
	flash  = (*flashRegs)(unsafe.Pointer(uintptr(0x40022000)))
	rccCFG = (*volatile.Register32)(unsafe.Pointer(uintptr(0x40021004)))
)

const (
	key1 = 0x45670123
	key2 = 0xCDEF89AB

	statrBSY     = 1 << 0
	statrWRBSY   = 1 << 1
	statrWRPRTER = 1 << 4
	statrEOP     = 1 << 5

	ctlrSTRT   = 1 << 6
	ctlrFLOCK  = 1 << 15
	ctlrPAGEPG = 1 << 16
	ctlrPAGEER = 1 << 17
	ctlrPGSTRT = 1 << 21

	rccHPREDiv2 = 0x80
)

var errWriteProtected = errors.New("write protected")

// CH32V307 is the fast page mode controller.
type CH32V307 struct{}

func (CH32V307) Unlock() {
	flash.KEYR.Set(key1)
	flash.KEYR.Set(key2)
	flash.MODEKEYR.Set(key1)
	flash.MODEKEYR.Set(key2)
}

func (CH32V307) Lock() {
	flash.CTLR.SetBits(ctlrFLOCK)
}

func (CH32V307) HalveClock(on bool) {
	if on {
		rccCFG.SetBits(rccHPREDiv2)
	} else {
		rccCFG.ClearBits(rccHPREDiv2)
	}
}

func waitIdle() error {
	for flash.STATR.HasBits(statrBSY) {
	}
	if flash.STATR.HasBits(statrWRPRTER) {
		flash.STATR.Set(statrWRPRTER)
		return errWriteProtected
	}
	flash.STATR.Set(statrEOP)
	return nil
}

func (CH32V307) ErasePage(addr uint32) error {
	flash.CTLR.SetBits(ctlrPAGEER)
	flash.ADDR.Set(Base + addr)
	flash.CTLR.SetBits(ctlrSTRT)
	err := waitIdle()
	flash.CTLR.ClearBits(ctlrPAGEER)
	return err
}

func (CH32V307) ProgramPage(addr uint32, data *[PageSize]byte) error {
	flash.CTLR.SetBits(ctlrPAGEPG)
	for flash.STATR.HasBits(statrBSY | statrWRBSY) {
	}
	dst := uintptr(Base + addr)
	for i := 0; i < PageSize; i += 4 {
		word := uint32(data[i]) | uint32(data[i+1])<<8 | uint32(data[i+2])<<16 | uint32(data[i+3])<<24
		(*volatile.Register32)(unsafe.Pointer(dst + uintptr(i))).Set(word)
		for flash.STATR.HasBits(statrWRBSY) {
		}
	}
	flash.CTLR.SetBits(ctlrPGSTRT)
	err := waitIdle()
	flash.CTLR.ClearBits(ctlrPAGEPG)
	return err
}

// Memory reads the memory-mapped internal flash.
type Memory struct{}

func (Memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= flashSize {
		return 0, io.EOF
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(Base))), flashSize)
	n := copy(p, src[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
