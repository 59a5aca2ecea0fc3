// Package flashtest simulates an SPI NOR flash chip at the byte level so the
// transports and drivers can be exercised without hardware.
package flashtest

import "slices"

// Opcodes is the command set the simulated chip answers to. A WriteEnable of
// 0xFF means the chip accepts program and erase without a write enable.
type Opcodes struct {
	Read        byte
	ReadID      byte
	Write       byte
	WriteEnable byte
	Erase       byte
	Status      byte
}

// W25Q is the command set of the Winbond W25Q family.
var W25Q = Opcodes{Read: 0x0B, ReadID: 0x9F, Write: 0x02, WriteEnable: 0x06, Erase: 0x20, Status: 0x05}

const noWriteEnable = 0xFF

// Chip is a simulated SPI NOR chip. The zero value is not usable, see NewChip.
type Chip struct {
	Ops Opcodes
	Mem []byte
	ID  [6]byte

	// EraseSize is the erase granularity, a power of two.
	EraseSize int
	// DummyBytes follow the read address before data is returned.
	DummyBytes int

	// BusyBit is the status bit reporting an operation in progress. With
	// BusyHigh the bit is set while busy, otherwise it is clear while busy.
	BusyBit  uint8
	BusyHigh bool
	// BusyReads is the number of status reads reporting busy after a program
	// or erase. A negative value keeps the chip busy forever.
	BusyReads int

	// Frames holds the bytes the host sent, one entry per chip select.
	Frames [][]byte

	selected  bool
	frame     []byte
	addr      int
	wel       bool
	busyLeft  int
	ignored   int
	lastWrite []byte
}

// NewChip returns a blank (erased) chip of size bytes speaking ops.
func NewChip(ops Opcodes, size int) *Chip {
	c := &Chip{
		Ops:        ops,
		Mem:        make([]byte, size),
		ID:         [6]byte{0xEF, 0x70, 0x18, 0x00, 0x00, 0x00},
		EraseSize:  4096,
		DummyBytes: 1,
		BusyBit:    0,
		BusyHigh:   true,
	}
	for i := range c.Mem {
		c.Mem[i] = 0xFF
	}
	return c
}

// Select asserts chip select.
func (c *Chip) Select() {
	c.selected = true
	c.frame = c.frame[:0]
}

// Deselect releases chip select and commits the command in progress.
func (c *Chip) Deselect() {
	if !c.selected {
		return
	}
	c.selected = false
	c.Frames = append(c.Frames, slices.Clone(c.frame))
	if len(c.frame) == 0 {
		return
	}

	op := c.frame[0]
	switch {
	case op == c.Ops.WriteEnable && c.Ops.WriteEnable != noWriteEnable:
		c.wel = true
	case op == c.Ops.Write && len(c.frame) >= 4:
		if !c.writable() {
			return
		}
		addr := c.address()
		for i, b := range c.frame[4:] {
			c.Mem[(addr+i)%len(c.Mem)] &= b
		}
		c.lastWrite = slices.Clone(c.frame[4:])
		c.startBusy()
	case op == c.Ops.Erase && len(c.frame) >= 4:
		if !c.writable() {
			return
		}
		start := c.address() &^ (c.EraseSize - 1)
		for i := start; i < start+c.EraseSize && i < len(c.Mem); i++ {
			c.Mem[i] = 0xFF
		}
		c.startBusy()
	}
}

func (c *Chip) writable() bool {
	if c.Ops.WriteEnable == noWriteEnable {
		return true
	}
	if !c.wel {
		c.ignored++
		return false
	}
	return true
}

func (c *Chip) startBusy() {
	c.wel = false
	c.busyLeft = c.BusyReads
}

func (c *Chip) address() int {
	return int(c.frame[1])<<16 | int(c.frame[2])<<8 | int(c.frame[3])
}

// Exchange clocks one byte in each direction.
func (c *Chip) Exchange(b byte) byte {
	if !c.selected {
		return 0xFF
	}
	c.frame = append(c.frame, b)
	pos := len(c.frame) - 1
	if pos == 0 {
		return 0xFF
	}

	switch op := c.frame[0]; op {
	case c.Ops.ReadID:
		if pos <= len(c.ID) {
			return c.ID[pos-1]
		}
	case c.Ops.Status:
		return c.status()
	case c.Ops.Read:
		data := pos - 4 - c.DummyBytes
		if data >= 0 {
			return c.Mem[(c.address()+data)%len(c.Mem)]
		}
	}
	return 0xFF
}

func (c *Chip) status() byte {
	busy := c.busyLeft != 0
	if c.busyLeft > 0 {
		c.busyLeft--
	}
	var sr byte
	if c.wel && c.BusyBit != 1 {
		sr |= 1 << 1
	}
	if busy == c.BusyHigh {
		sr |= 1 << c.BusyBit
	} else {
		sr &^= 1 << c.BusyBit
	}
	return sr
}

// Busy reports whether a program or erase is still in progress.
func (c *Chip) Busy() bool { return c.busyLeft != 0 }

// Ignored counts program and erase commands dropped for lack of a write enable.
func (c *Chip) Ignored() int { return c.ignored }

// LastWrite returns the payload of the last accepted program command.
func (c *Chip) LastWrite() []byte { return c.lastWrite }

// Opcodes returns the first byte of every recorded frame.
func (c *Chip) Opcodes() []byte {
	ops := make([]byte, 0, len(c.Frames))
	for _, f := range c.Frames {
		if len(f) > 0 {
			ops = append(ops, f[0])
		}
	}
	return ops
}

// Reset clears the recorded frames.
func (c *Chip) Reset() {
	c.Frames = nil
}
