//go:build tinygo && ch32v30x

package regspi

import (
	"runtime/volatile"
	"unsafe"

	"periph.io/x/conn/v3/physic"
)

// CH32V307 peripheral addresses.
const (
	spi3Base  = 0x40003C00
	dma2Base  = 0x40020400
	gpioaBase = 0x40010800

	// Flash chip select on PA15.
	csPin = 15
)

func reg(addr uintptr) Register {
	return (*volatile.Register32)(unsafe.Pointer(addr))
}

func dmaChannel(n uintptr) *DMAChannel {
	base := dma2Base + 0x08 + 20*(n-1)
	return &DMAChannel{
		CFGR:  reg(base + 0x00),
		CNTR:  reg(base + 0x04),
		PADDR: reg(base + 0x08),
		MADDR: reg(base + 0x0C),
	}
}

var (
	SPI3 = &SPIRegs{
		CTLR1: reg(spi3Base + 0x00),
		CTLR2: reg(spi3Base + 0x04),
		STATR: reg(spi3Base + 0x08),
		DATAR: reg(spi3Base + 0x0C),
	}
	DMA2 = &DMARegs{
		INTFR:  reg(dma2Base + 0x00),
		INTFCR: reg(dma2Base + 0x04),
		RX:     dmaChannel(1),
		TX:     dmaChannel(2),
	}

	gpioaBSHR = reg(gpioaBase + 0x10)
	gpioaBCR  = reg(gpioaBase + 0x14)
)

// FlashCS drives the flash chip select line.
func FlashCS(level bool) {
	if level {
		gpioaBSHR.Set(1 << csPin)
	} else {
		gpioaBCR.Set(1 << csPin)
	}
}

// NewCH32V307 returns the controller for the flash on SPI3 served by DMA2
// channels 1 (RX) and 2 (TX). Pin remapping and peripheral clocks are set up by
// the board support code.
func NewCH32V307(coreClock physic.Frequency) *Controller {
	return New(Config{
		SPI:       SPI3,
		DMA:       DMA2,
		CS:        FlashCS,
		CoreClock: coreClock,
		DataAddr:  spi3Base + 0x0C,
	})
}
