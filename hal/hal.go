// Package hal defines the chip-agnostic flash interface used by the
// programming logic. Backends (SPI NOR today) implement HAL and are selected
// once at startup.
package hal

import (
	"errors"
	"fmt"
)

// Status is the outcome of any status-bearing flash operation.
type Status uint8

const (
	Ready Status = iota
	Busy
	Timeout
	InvalidCommand
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	case Timeout:
		return "timeout"
	case InvalidCommand:
		return "invalid command"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// ChipID holds the raw identifier bytes returned by the read-ID command.
type ChipID struct {
	Maker  byte
	Device byte
	Third  byte
	Fourth byte
	Fifth  byte
	Sixth  byte
}

// Bytes returns the identifier in wire order.
func (id ChipID) Bytes() [6]byte {
	return [6]byte{id.Maker, id.Device, id.Third, id.Fourth, id.Fifth, id.Sixth}
}

// JEDEC returns the manufacturer, memory type and capacity bytes.
func (id ChipID) JEDEC() [3]byte {
	return [3]byte{id.Maker, id.Device, id.Third}
}

func (id ChipID) String() string {
	b := id.Bytes()
	return fmt.Sprintf("%X", b[:])
}

var (
	ErrNotInitialized = errors.New("flash: not initialized")
	ErrInitialized    = errors.New("flash: already initialized")
	ErrConfigSize     = errors.New("flash: configuration too small")
)

// ConfigSizeError is returned by Init when the configuration buffer is
// smaller than the backend's configuration record.
type ConfigSizeError struct {
	Got  int
	Want int
}

func (e *ConfigSizeError) Error() string {
	return fmt.Sprintf("flash: configuration is %d bytes, need at least %d", e.Got, e.Want)
}

func (e *ConfigSizeError) Unwrap() error { return ErrConfigSize }

// HAL is the capability set every flash backend provides.
//
// Sizes are taken from the buffer lengths. The error results report transport
// failures only; flash-level outcomes are reported as Status.
type HAL interface {
	// Init takes the backend's packed configuration record. It fails without
	// side effects when conf is smaller than the record.
	Init(conf []byte) error
	Uninit() error
	ReadID() (ChipID, error)
	EraseBlock(page uint32) (Status, error)
	ReadPage(buf []byte, page uint32) (Status, error)
	ReadSpareData(buf []byte, page, offset uint32) (Status, error)
	// WritePageAsync starts programming a page. Completion is observed
	// through ReadStatus, usually with WaitReady.
	WritePageAsync(buf []byte, page uint32) error
	ReadStatus() (Status, error)
	IsBadBlockSupported() bool
}
