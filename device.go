package nando

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"

	"github.com/gentam/nando/chipdb"
	"github.com/gentam/nando/hal"
	"github.com/gentam/nando/nor"
	nspi "github.com/gentam/nando/spi"
)

// Device is a flash chip attached to the host, through an FT2232H or any SPI
// port periph.io knows about.
type Device struct {
	FTDI  *ftdi.FT232H // nil unless attached through an FT2232H
	Flash *nor.Driver

	open  func() (spi.PortCloser, error)
	port  spi.PortCloser
	cs    gpio.PinOut
	mode  spi.Mode
	reset gpio.PinOut // nil if the board has none
	log   *slog.Logger
}

type options struct {
	port  string
	cs    string
	reset string
	mode  spi.Mode
	log   *slog.Logger
}

type Option func(*options)

// WithPort uses the periph.io SPI port name with chip select on the GPIO
// named cs instead of an FT2232H.
func WithPort(name, cs string) Option {
	return func(o *options) {
		o.port = name
		o.cs = cs
	}
}

// WithReset names the GPIO holding the flash's other bus master in reset.
func WithReset(name string) Option {
	return func(o *options) { o.reset = name }
}

func WithMode(m spi.Mode) Option {
	return func(o *options) { o.mode = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

var hostInitialized atomic.Bool

// NewDevice opens the SPI port and returns an uninitialized flash driver
// bound to it. Without WithPort it finds an FT2232H.
func NewDevice(opts ...Option) (*Device, error) {
	// [FTDI-AN_114 1.2] MPSSE supports mode 0 and mode 2; the flash chips
	// support mode 0 and mode 3.
	o := options{mode: spi.Mode0}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.New(slog.DiscardHandler)
	}

	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("host initialization failed: %w", err)
		}
	}

	d := &Device{mode: o.mode, log: o.log}
	if o.port == "" {
		if err := d.openFT2232H(); err != nil {
			return nil, err
		}
		// [Lattice-EB82 Appendix A. Sheet 2 of 5 (USB to SPI/RS232)] / [iCEBreaker]
		// ADBUS0 | iCE_SCK
		// ADBUS1 | iCE_MOSI / FLASH_MOSI
		// ADBUS2 | iCE_MISO / FLASH_MISO
		// ADBUS4 | iCE_SS_B
		// ADBUS6 | iCE_CDONE
		// ADBUS7 | iCE_CRESET / iCE_RESET
		d.cs = d.FTDI.D4
		d.reset = d.FTDI.D7
		d.open = func() (spi.PortCloser, error) {
			port, err := d.FTDI.SPI()
			if err != nil {
				return nil, fmt.Errorf("failed to get SPI port: %w", err)
			}
			return port, nil
		}
	} else {
		if d.cs = gpioreg.ByName(o.cs); d.cs == nil {
			return nil, fmt.Errorf("unknown chip select pin %q", o.cs)
		}
		d.open = func() (spi.PortCloser, error) {
			port, err := spireg.Open(o.port)
			if err != nil {
				return nil, fmt.Errorf("failed to open SPI port %q: %w", o.port, err)
			}
			return port, nil
		}
	}
	if o.reset != "" {
		if d.reset = gpioreg.ByName(o.reset); d.reset == nil {
			return nil, fmt.Errorf("unknown reset pin %q", o.reset)
		}
	}

	if err := d.connect(); err != nil {
		return nil, err
	}
	o.log.Debug("device opened", slog.String("port", d.port.String()), slog.String("mode", o.mode.String()))
	return d, nil
}

// connect opens a fresh port and binds a new flash driver to it. periph.io
// ports take a single Connect, and the FTDI engine never raises a clock once
// set, so every configuration gets a port of its own.
func (d *Device) connect() error {
	port, err := d.open()
	if err != nil {
		return err
	}
	d.port = port
	d.Flash = nor.New(nspi.NewPeriphBus(port, d.cs, d.mode, d.log), nor.WithLogger(d.log))
	return nil
}

// reconnect closes the port of a driver that has been configured once.
func (d *Device) reconnect() error {
	if err := d.port.Close(); err != nil {
		return err
	}
	return d.connect()
}

func (d *Device) openFT2232H() error {
	const (
		vendorID  = 0x0403 // FTDI
		productID = 0x6010 // FT2232H
	)

	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		dev.Info(&info)
		if info.VenID != vendorID || info.DevID != productID {
			continue
		}
		if ft, ok := dev.(*ftdi.FT232H); ok {
			d.FTDI = ft
			return nil
		}
	}
	return errors.New("FT2232H device not found")
}

// HoldReset keeps the other bus master (the FPGA on iCE boards) in reset so it
// does not drive the flash.
func (d *Device) HoldReset() error {
	if d.reset == nil {
		return nil
	}
	return d.reset.Out(gpio.Low)
}

func (d *Device) ReleaseReset() error {
	if d.reset == nil {
		return nil
	}
	return d.reset.Out(gpio.High)
}

// Close shuts the flash driver down and closes the port.
func (d *Device) Close() error {
	var err error
	if _, ok := d.Flash.Config(); ok {
		err = d.Flash.Uninit()
	}
	return errors.Join(err, d.port.Close())
}

// Open initializes the flash driver for chip.
func (d *Device) Open(chip *chipdb.Chip) error {
	conf := chip.Config()
	b, err := conf.MarshalBinary()
	if err != nil {
		return err
	}
	if err := d.Flash.Init(b); err != nil {
		return fmt.Errorf("init %s: %w", chip, err)
	}
	d.log.Info("flash ready", slog.String("chip", chip.String()), slog.String("freq", conf.Frequency().String()))
	return nil
}

// identifyConfig is a configuration any supported family answers JEDEC ID
// reads with.
var identifyConfig = nor.Config{
	PageOffset: 8,
	ReadCmd:    0x0B,
	ReadIDCmd:  0x9F,
	WriteCmd:   nor.UndefinedCmd,
	WriteEnCmd: nor.UndefinedCmd,
	EraseCmd:   nor.UndefinedCmd,
	StatusCmd:  0x05,
	Freq:       1_000_000,
}

// Identify reads the JEDEC ID with a slow identification configuration and looks the
// chip up in db. The port is reopened afterwards, leaving a fresh
// uninitialized driver for Open. The chip is nil if db does not know the ID.
func (d *Device) Identify(db *chipdb.DB) (*chipdb.Chip, hal.ChipID, error) {
	b, err := identifyConfig.MarshalBinary()
	if err != nil {
		return nil, hal.ChipID{}, err
	}
	if err := d.Flash.Init(b); err != nil {
		return nil, hal.ChipID{}, fmt.Errorf("identify: %w", err)
	}
	if err := d.Flash.PowerUp(); err != nil {
		return nil, hal.ChipID{}, errors.Join(fmt.Errorf("flash power up failed: %w", err), d.Flash.Uninit(), d.reconnect())
	}
	id, err := d.Flash.ReadID()
	err = errors.Join(err, d.Flash.Uninit(), d.reconnect())
	if err != nil {
		return nil, id, fmt.Errorf("read flash ID failed: %w", err)
	}
	chip, ok := db.ByID(id.JEDEC())
	if !ok {
		d.log.Warn("unknown flash ID", slog.String("id", id.String()))
		return nil, id, nil
	}
	return chip, id, nil
}
