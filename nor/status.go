package nor

import (
	"fmt"
	"strings"
)

// StatusRegister is a raw status byte together with the busy layout of the
// chip it was read from.
//
//	Bits| [N25Q32|Table 9]                     | [W25Q128|7.1 Status Registers]
//	----+--------------------------------------+-------------------------------
//	7   | Status register write enable/disable | SRP: Status Register Protect
//	6   | Reserved                             | SEC: Sector protect
//	5   | Top/bottom                           | TB: Top/Bottom protect
//	4:2 | Block protect 2-0                    | BP2-0: Block Protect bit 2-0
//	1   | Write enable latch                   | WEL: Write Enable Latch
//	0   | Write in progress                    | BUSY: Erase/Write in progress
//
// The protection fields only exist in the JEDEC layout above. Other families
// (e.g. [AT45DB] RDY/BUSY in bit 7, set when ready) only get their busy bit
// decoded.
type StatusRegister struct {
	Raw byte

	busyBit   uint8
	busyState bool
}

// StatusRegister pairs sr with the busy layout of c.
func (c *Config) StatusRegister(sr byte) StatusRegister {
	return StatusRegister{Raw: sr, busyBit: c.BusyBit, busyState: c.BusyState}
}

// JEDEC reports whether the register follows the write-in-progress layout.
func (sr StatusRegister) JEDEC() bool { return sr.busyBit == 0 && sr.busyState }

func (sr StatusRegister) Busy() bool {
	return (sr.Raw&(1<<sr.busyBit) != 0) == sr.busyState
}

func (sr StatusRegister) bit(n uint) bool { return sr.JEDEC() && sr.Raw&(1<<n) != 0 }

func (sr StatusRegister) StatusRegisterProtect() bool { return sr.bit(7) }
func (sr StatusRegister) SectorProtect() bool         { return sr.bit(6) }
func (sr StatusRegister) TopBottom() bool             { return sr.bit(5) }
func (sr StatusRegister) WriteEnabled() bool          { return sr.bit(1) }

func (sr StatusRegister) BlockProtect() uint8 {
	if !sr.JEDEC() {
		return 0
	}
	return (sr.Raw >> 2) & 0b111
}

func (sr StatusRegister) String() string {
	var s []string
	if sr.JEDEC() {
		for _, f := range []struct {
			set  bool
			name string
		}{
			{sr.StatusRegisterProtect(), "SRP"},
			{sr.SectorProtect(), "SEC"},
			{sr.TopBottom(), "TB"},
			{sr.BlockProtect() != 0, fmt.Sprintf("BP=%d", sr.BlockProtect())},
			{sr.WriteEnabled(), "WEL"},
			{sr.Busy(), "BUSY"},
		} {
			if f.set {
				s = append(s, f.name)
			}
		}
	} else if sr.Busy() {
		s = append(s, fmt.Sprintf("BUSY(bit %d)", sr.busyBit))
	} else {
		s = append(s, fmt.Sprintf("READY(bit %d)", sr.busyBit))
	}
	b := fmt.Sprintf("%08b", sr.Raw)
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}
