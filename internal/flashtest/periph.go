package flashtest

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Port is a periph.io spi.Port wired to a simulated chip.
type Port struct {
	Chip *Chip
	// MaxTx limits the size of a single transaction, 0 means unlimited.
	MaxTx int

	Freq physic.Frequency
	Mode spi.Mode
	// Txs counts the transactions issued on the connection.
	Txs int
}

func (p *Port) String() string { return "flashtest" }

func (p *Port) LimitSpeed(f physic.Frequency) error { return nil }

func (p *Port) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	if bits != 8 {
		return nil, fmt.Errorf("flashtest: %d bits per word", bits)
	}
	p.Freq, p.Mode = f, mode
	return &portConn{p}, nil
}

type portConn struct{ p *Port }

func (c *portConn) String() string { return c.p.String() }
func (c *portConn) Duplex() conn.Duplex { return conn.Full }
func (c *portConn) MaxTxSize() int { return c.p.MaxTx }

func (c *portConn) Tx(w, r []byte) error {
	if c.p.MaxTx > 0 && len(w) > c.p.MaxTx {
		return fmt.Errorf("flashtest: transaction of %d bytes exceeds %d", len(w), c.p.MaxTx)
	}
	if r != nil && len(r) != len(w) {
		return errors.New("flashtest: w and r lengths differ")
	}
	c.p.Txs++
	for i, b := range w {
		in := c.p.Chip.Exchange(b)
		if r != nil {
			r[i] = in
		}
	}
	return nil
}

func (c *portConn) TxPackets(p []spi.Packet) error {
	return errors.New("flashtest: packets not supported")
}

// CS is a chip select pin driving a simulated chip.
type CS struct {
	*gpiotest.Pin
	Chip *Chip
}

// NewCS returns an active-low chip select for chip.
func NewCS(chip *Chip) *CS {
	return &CS{Pin: &gpiotest.Pin{N: "CS", Num: 4}, Chip: chip}
}

func (p *CS) Out(l gpio.Level) error {
	if l == gpio.Low {
		p.Chip.Select()
	} else {
		p.Chip.Deselect()
	}
	return p.Pin.Out(l)
}
