// Package internalflash programs the controller's own flash, one fast-mode
// page at a time.
//
// The erase and program sequence is timing sensitive and runs with interrupts
// disabled. Interrupts, the flash lock and the bus clock are restored on every
// return path, including errors.
package internalflash

import (
	"fmt"
	"io"
	"log/slog"
)

// PageSize is the fast erase/program granularity.
const PageSize = 256

// Controller is the internal flash controller in fast page mode.
type Controller interface {
	Unlock()
	Lock()
	ErasePage(addr uint32) error
	ProgramPage(addr uint32, data *[PageSize]byte) error
	// HalveClock divides the bus clock by two while programming.
	HalveClock(on bool)
}

// Critical is a scoped critical section.
type Critical interface {
	// Enter disables interrupts. The returned function restores them.
	Enter() (exit func())
}

// Writer erases and programs internal flash pages.
type Writer struct {
	ctrl Controller
	crit Critical
	mem  io.ReaderAt
	log  *slog.Logger
}

// NewWriter returns a writer using ctrl inside crit. mem maps the flash for
// reads. A nil crit uses Interrupts.
func NewWriter(ctrl Controller, crit Critical, mem io.ReaderAt, logger *slog.Logger) *Writer {
	if crit == nil {
		crit = Interrupts
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Writer{ctrl: ctrl, crit: crit, mem: mem, log: logger}
}

// WritePage erases the page at addr and programs data into it. Bytes past
// len(data) read back as 0xFF.
func (w *Writer) WritePage(addr uint32, data []byte) error {
	if addr%PageSize != 0 {
		return fmt.Errorf("internalflash: address %#x is not page aligned", addr)
	}
	if len(data) > PageSize {
		return fmt.Errorf("internalflash: %d bytes exceed the %d byte page", len(data), PageSize)
	}
	var page [PageSize]byte
	n := copy(page[:], data)
	for i := n; i < PageSize; i++ {
		page[i] = 0xFF
	}

	if err := w.program(addr, &page); err != nil {
		w.log.Error("internal flash write failed", slog.Uint64("addr", uint64(addr)), slog.Any("err", err))
		return err
	}
	return nil
}

func (w *Writer) program(addr uint32, page *[PageSize]byte) error {
	exit := w.crit.Enter()
	defer exit()

	w.ctrl.HalveClock(true)
	defer w.ctrl.HalveClock(false)

	w.ctrl.Unlock()
	defer w.ctrl.Lock()

	if err := w.ctrl.ErasePage(addr); err != nil {
		return fmt.Errorf("internalflash: erase %#x: %w", addr, err)
	}
	if err := w.ctrl.ProgramPage(addr, page); err != nil {
		return fmt.Errorf("internalflash: program %#x: %w", addr, err)
	}
	return nil
}

// ReadAt reads from the mapped flash.
func (w *Writer) ReadAt(p []byte, off int64) (int, error) {
	return w.mem.ReadAt(p, off)
}
