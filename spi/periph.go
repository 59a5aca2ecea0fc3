package spi

import (
	"errors"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// PeriphBus is a Bus on a periph.io SPI port with a GPIO chip select, e.g. the
// MPSSE engine of an FTDI bridge.
type PeriphBus struct {
	port spi.Port
	cs   gpio.PinOut
	mode spi.Mode
	log  *slog.Logger

	conn  spi.Conn
	maxTx int
}

// NewPeriphBus returns a bus on port. The connection is opened by Configure.
//
// [FTDI-AN_114|1.2] MPSSE supports mode 0 and mode 2 only, NOR flash accepts
// mode 0 and mode 3.
func NewPeriphBus(port spi.Port, cs gpio.PinOut, mode spi.Mode, logger *slog.Logger) *PeriphBus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PeriphBus{port: port, cs: cs, mode: mode, log: logger}
}

func (b *PeriphBus) String() string {
	return fmt.Sprintf("%s/%s", b.port, b.cs)
}

func (b *PeriphBus) Configure(freq physic.Frequency) (err error) {
	if err = b.cs.Out(gpio.High); err != nil {
		return err
	}
	b.conn, err = b.port.Connect(freq, b.mode, 8)
	if err != nil {
		return fmt.Errorf("spi: connect %s at %s: %w", b.port, freq, err)
	}

	b.maxTx = 65536 // [FTDI-AN_108]
	if l, ok := b.conn.(conn.Limits); ok && l.MaxTxSize() > 0 {
		b.maxTx = l.MaxTxSize()
	}
	b.log.Debug("spi configured", slog.String("port", b.port.String()), slog.String("freq", freq.String()), slog.Int("maxTx", b.maxTx))
	return nil
}

func (b *PeriphBus) Release() error {
	b.conn = nil
	return b.cs.Out(gpio.High)
}

func (b *PeriphBus) Select() error   { return b.cs.Out(gpio.Low) }
func (b *PeriphBus) Deselect() error { return b.cs.Out(gpio.High) }

var errNotConfigured = errors.New("spi: bus not configured")

func (b *PeriphBus) Exchange(v byte) (byte, error) {
	if b.conn == nil {
		return 0, errNotConfigured
	}
	var r [1]byte
	if err := b.conn.Tx([]byte{v}, r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}

// Send streams buf out and sinks the inbound bytes into a scratch buffer.
func (b *PeriphBus) Send(buf []byte) error {
	if b.conn == nil {
		return errNotConfigured
	}
	sink := make([]byte, min(len(buf), b.maxTx))
	for len(buf) > 0 {
		n := min(len(buf), b.maxTx)
		if err := b.conn.Tx(buf[:n], sink[:n]); err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// Receive clocks Filler out while the inbound bytes stream into buf.
func (b *PeriphBus) Receive(buf []byte) error {
	if b.conn == nil {
		return errNotConfigured
	}
	filler := make([]byte, min(len(buf), b.maxTx))
	for i := range filler {
		filler[i] = Filler
	}
	for len(buf) > 0 {
		n := min(len(buf), b.maxTx)
		if err := b.conn.Tx(filler[:n], buf[:n]); err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
