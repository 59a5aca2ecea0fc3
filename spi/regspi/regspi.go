// Package regspi drives an SPI peripheral and its DMA controller directly
// through their registers, as found on the CH32V30x (and STM32F1) families.
//
// Registers are reached through the Register interface, which
// runtime/volatile.Register32 satisfies on TinyGo.
package regspi

import (
	"log/slog"

	"periph.io/x/conn/v3/physic"
)

// Register is a memory-mapped 32-bit register.
type Register interface {
	Get() uint32
	Set(v uint32)
}

// SPIRegs is the SPI peripheral register block.
type SPIRegs struct {
	CTLR1 Register
	CTLR2 Register
	STATR Register
	DATAR Register
}

// DMAChannel is one channel of the DMA controller.
type DMAChannel struct {
	CFGR  Register
	CNTR  Register
	PADDR Register
	MADDR Register
}

// DMARegs holds the DMA controller flags and the two channels serving the SPI
// peripheral.
type DMARegs struct {
	INTFR  Register
	INTFCR Register
	RX     *DMAChannel
	TX     *DMAChannel
}

// SPI register bits.
const (
	ctlr1CPHA  = 1 << 0
	ctlr1CPOL  = 1 << 1
	ctlr1MSTR  = 1 << 2
	ctlr1BRPos = 3
	ctlr1SPE   = 1 << 6
	ctlr1SSI   = 1 << 8
	ctlr1SSM   = 1 << 9

	ctlr2RXDMAEN = 1 << 0
	ctlr2TXDMAEN = 1 << 1

	statrRXNE = 1 << 0
	statrTXE  = 1 << 1
)

// DMA register bits. RX is channel 1, TX is channel 2.
const (
	cfgrEN   = 1 << 0
	cfgrDIR  = 1 << 4 // memory to peripheral
	cfgrMINC = 1 << 7

	flagTC1 = 1 << 1
	flagTC2 = 1 << 5
)

// maxCount is the width of the DMA transfer counter.
const maxCount = 0xFFFF

// maxFreq is the fastest SPI clock the CH32V307 supports.
const maxFreq = 36 * physic.MegaHertz

// Controller is a spi.Bus on a register-level SPI peripheral.
type Controller struct {
	spi *SPIRegs
	dma *DMARegs
	cs  func(level bool)

	coreClock physic.Frequency
	dataAddr  uint32
	log       *slog.Logger

	// addr maps a buffer to the bus address loaded into MADDR.
	addr func(b []byte) uint32

	garbage [1]byte
	filler  [1]byte
}

// Config describes how the controller is wired.
type Config struct {
	SPI *SPIRegs
	DMA *DMARegs
	// CS drives the chip select line, active low.
	CS func(level bool)
	// CoreClock feeds the SPI prescaler.
	CoreClock physic.Frequency
	// DataAddr is the bus address of the SPI data register.
	DataAddr uint32
	Logger   *slog.Logger
}

func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		spi:       cfg.SPI,
		dma:       cfg.DMA,
		cs:        cfg.CS,
		coreClock: cfg.CoreClock,
		dataAddr:  cfg.DataAddr,
		log:       cfg.Logger,
		addr:      addressOf,
		filler:    [1]byte{0xFF},
	}
}

// Prescaler returns the baud rate divider field for freq: the smallest
// divider in 2, 4, ... 256 that keeps the clock at or below freq.
func Prescaler(coreClock, freq physic.Frequency) uint32 {
	freq = min(freq, maxFreq)
	for br := uint32(0); br < 7; br++ {
		if freq >= coreClock/physic.Frequency(2<<br) {
			return br
		}
	}
	return 7
}

// Configure sets up a full-duplex 8-bit master in mode 3, MSB first, with
// software chip select, and points both DMA channels at the data register.
func (c *Controller) Configure(freq physic.Frequency) error {
	c.cs(true)

	br := Prescaler(c.coreClock, freq)
	c.spi.CTLR1.Set(ctlr1MSTR | ctlr1CPOL | ctlr1CPHA | ctlr1SSM | ctlr1SSI | br<<ctlr1BRPos)
	c.dma.TX.PADDR.Set(c.dataAddr)
	c.dma.RX.PADDR.Set(c.dataAddr)
	c.spi.CTLR1.Set(c.spi.CTLR1.Get() | ctlr1SPE)

	// Drop any stale byte.
	c.spi.DATAR.Get()

	c.log.Debug("spi configured", slog.Uint64("prescaler", uint64(2<<br)), slog.String("freq", (c.coreClock/physic.Frequency(2<<br)).String()))
	return nil
}

func (c *Controller) Release() error {
	c.spi.CTLR1.Set(c.spi.CTLR1.Get() &^ ctlr1SPE)
	c.cs(true)
	return nil
}

func (c *Controller) Select() error {
	c.cs(false)
	return nil
}

func (c *Controller) Deselect() error {
	c.cs(true)
	return nil
}

// Exchange runs one byte through the data register with DMA requests off.
func (c *Controller) Exchange(b byte) (byte, error) {
	c.spi.CTLR2.Set(0)
	for c.spi.STATR.Get()&statrTXE == 0 {
	}
	c.spi.DATAR.Set(uint32(b))
	for c.spi.STATR.Get()&statrRXNE == 0 {
	}
	return byte(c.spi.DATAR.Get()), nil
}

// Send streams buf out on the TX channel while the RX channel sinks every
// inbound byte into a single scratch byte.
func (c *Controller) Send(buf []byte) error {
	for len(buf) > 0 {
		n := min(len(buf), maxCount)
		c.transfer(c.garbage[:], 0, buf[:n], cfgrMINC, n)
		buf = buf[n:]
	}
	return nil
}

// Receive fills buf from the RX channel while the TX channel repeats the
// filler byte.
func (c *Controller) Receive(buf []byte) error {
	for len(buf) > 0 {
		n := min(len(buf), maxCount)
		c.transfer(buf[:n], cfgrMINC, c.filler[:], 0, n)
		buf = buf[n:]
	}
	return nil
}

// transfer arms both channels for n bytes, starts the peripheral requests and
// waits for the RX channel to complete.
func (c *Controller) transfer(rx []byte, rxFlags uint32, tx []byte, txFlags uint32, n int) {
	c.dma.RX.CNTR.Set(uint32(n))
	c.dma.RX.MADDR.Set(c.addr(rx))
	c.dma.RX.CFGR.Set(cfgrEN | rxFlags)

	c.dma.TX.CNTR.Set(uint32(n))
	c.dma.TX.MADDR.Set(c.addr(tx))
	c.dma.TX.CFGR.Set(cfgrEN | cfgrDIR | txFlags)

	c.spi.CTLR2.Set(ctlr2TXDMAEN | ctlr2RXDMAEN)

	for c.dma.INTFR.Get()&flagTC1 == 0 {
	}
	c.dma.TX.CFGR.Set(0)
	c.dma.RX.CFGR.Set(0)
	c.dma.INTFCR.Set(flagTC1 | flagTC2)
}
