package nor

import (
	"encoding/binary"
	"fmt"

	"periph.io/x/conn/v3/physic"

	"github.com/gentam/nando/hal"
)

// UndefinedCmd marks an opcode the chip family does not have. As WriteEnCmd
// it means program and erase need no write enable.
const UndefinedCmd = 0xFF

// ConfigSize is the size of the packed configuration record.
const ConfigSize = 13

// Config holds the per-family constants of a SPI NOR chip.
//
// The packed record is the fields in declaration order, one byte each, with
// Freq as a little-endian uint32.
type Config struct {
	// PageOffset is log2 of the page size.
	PageOffset uint8
	ReadCmd    uint8
	ReadIDCmd  uint8
	WriteCmd   uint8
	WriteEnCmd uint8
	EraseCmd   uint8
	StatusCmd  uint8
	// BusyBit is the status register bit reporting an operation in progress.
	BusyBit uint8
	// BusyState is the value of BusyBit while busy.
	BusyState bool
	// Freq is the SPI clock in Hz.
	Freq uint32
}

// PageSize returns 1 << PageOffset.
func (c *Config) PageSize() int { return 1 << c.PageOffset }

// Frequency returns Freq as a physic.Frequency.
func (c *Config) Frequency() physic.Frequency {
	return physic.Frequency(c.Freq) * physic.Hertz
}

// Address returns the linear address of offset within page.
func (c *Config) Address(page, offset uint32) uint32 {
	return page<<c.PageOffset + offset
}

// Busy decodes a status byte according to BusyBit and BusyState.
func (c *Config) Busy(sr byte) bool {
	set := sr&(1<<c.BusyBit) != 0
	return set == c.BusyState
}

// Status decodes a status byte into Ready or Busy.
func (c *Config) Status(sr byte) hal.Status {
	if c.Busy(sr) {
		return hal.Busy
	}
	return hal.Ready
}

// Validate reports field values no real chip has.
func (c *Config) Validate() error {
	if c.BusyBit > 7 {
		return fmt.Errorf("nor: busy bit %d out of range", c.BusyBit)
	}
	if c.PageOffset > 24 {
		return fmt.Errorf("nor: page offset %d exceeds the 24-bit address", c.PageOffset)
	}
	if c.Freq == 0 {
		return fmt.Errorf("nor: zero clock frequency")
	}
	return nil
}

func (c *Config) MarshalBinary() ([]byte, error) {
	b := make([]byte, ConfigSize)
	b[0] = c.PageOffset
	b[1] = c.ReadCmd
	b[2] = c.ReadIDCmd
	b[3] = c.WriteCmd
	b[4] = c.WriteEnCmd
	b[5] = c.EraseCmd
	b[6] = c.StatusCmd
	b[7] = c.BusyBit
	if c.BusyState {
		b[8] = 1
	}
	binary.LittleEndian.PutUint32(b[9:], c.Freq)
	return b, nil
}

// UnmarshalBinary decodes a packed record. Bytes past ConfigSize are ignored.
// c is left untouched on error.
func (c *Config) UnmarshalBinary(b []byte) error {
	if len(b) < ConfigSize {
		return &hal.ConfigSizeError{Got: len(b), Want: ConfigSize}
	}
	*c = Config{
		PageOffset: b[0],
		ReadCmd:    b[1],
		ReadIDCmd:  b[2],
		WriteCmd:   b[3],
		WriteEnCmd: b[4],
		EraseCmd:   b[5],
		StatusCmd:  b[6],
		BusyBit:    b[7],
		BusyState:  b[8] != 0,
		Freq:       binary.LittleEndian.Uint32(b[9:]),
	}
	return nil
}
