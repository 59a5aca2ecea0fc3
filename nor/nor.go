// Package nor implements the flash HAL for SPI NOR chips.
//
// Every command is framed the same way: select, opcode, optional 24-bit
// address (MSB first), optional dummy byte, data phase, deselect. Program and
// erase are preceded by a separate write enable frame unless the family has
// none.
package nor

import (
	"fmt"
	"log/slog"

	"github.com/gentam/nando/hal"
	"github.com/gentam/nando/spi"
)

// DummyByte is clocked after a read address and while reading single bytes.
const DummyByte = 0xA5

// Driver is a SPI NOR backend. It owns its configuration, which is set by Init
// and cleared by Uninit.
type Driver struct {
	bus    spi.Bus
	conf   Config
	ready  bool
	budget uint32
	log    *slog.Logger
}

var _ hal.HAL = (*Driver)(nil)

type Option func(*Driver)

// WithLogger sets the logger for command tracing at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// WithPollBudget sets the number of status reads an erase waits for.
func WithPollBudget(n uint32) Option {
	return func(d *Driver) { d.budget = n }
}

// PollBudget is the number of status reads an erase waits for.
func (d *Driver) PollBudget() uint32 { return d.budget }

func New(bus spi.Bus, opts ...Option) *Driver {
	d := &Driver{
		bus:    bus,
		budget: hal.DefaultPollBudget,
		log:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config returns the active configuration.
func (d *Driver) Config() (Config, bool) {
	return d.conf, d.ready
}

// Init decodes the packed Config record in conf and configures the bus at the
// chip's frequency. The driver must be uninitialized. Field values are taken
// as given, Validate is left to whoever builds the record. On failure the
// driver state is unchanged.
func (d *Driver) Init(conf []byte) error {
	var c Config
	if err := c.UnmarshalBinary(conf); err != nil {
		return err
	}
	if d.ready {
		return hal.ErrInitialized
	}
	if err := d.bus.Configure(c.Frequency()); err != nil {
		return fmt.Errorf("nor: configure bus: %w", err)
	}
	d.conf = c
	d.ready = true
	d.log.Debug("nor init", slog.Int("pageSize", c.PageSize()), slog.Uint64("freq", uint64(c.Freq)))
	return nil
}

func (d *Driver) Uninit() error {
	if !d.ready {
		return hal.ErrNotInitialized
	}
	d.ready = false
	d.conf = Config{}
	return d.bus.Release()
}

// frame wraps a command sequence with chip select.
func (d *Driver) frame(seq func() error) (err error) {
	if err = d.bus.Select(); err != nil {
		return err
	}
	defer func() {
		if csErr := d.bus.Deselect(); csErr != nil && err == nil {
			err = csErr
		}
	}()
	return seq()
}

func (d *Driver) send(b ...byte) error {
	for _, v := range b {
		if _, err := d.bus.Exchange(v); err != nil {
			return err
		}
	}
	return nil
}

// sendAddr sends the low three bytes of addr, most significant first.
func (d *Driver) sendAddr(addr uint32) error {
	return d.send(byte(addr>>16), byte(addr>>8), byte(addr))
}

func (d *Driver) readStatusRegister() (sr byte, err error) {
	err = d.frame(func() error {
		if err := d.send(d.conf.StatusCmd); err != nil {
			return err
		}
		sr, err = d.bus.Exchange(DummyByte)
		return err
	})
	return sr, err
}

// ReadStatus reads the status register once and decodes the busy bit.
func (d *Driver) ReadStatus() (hal.Status, error) {
	if !d.ready {
		return hal.InvalidCommand, hal.ErrNotInitialized
	}
	sr, err := d.readStatusRegister()
	if err != nil {
		return hal.InvalidCommand, err
	}
	return d.conf.Status(sr), nil
}

// ReadStatusRegister returns the raw status register.
func (d *Driver) ReadStatusRegister() (StatusRegister, error) {
	if !d.ready {
		return 0, hal.ErrNotInitialized
	}
	sr, err := d.readStatusRegister()
	return d.conf.StatusRegister(sr), err
}

func (d *Driver) ReadID() (id hal.ChipID, err error) {
	if !d.ready {
		return id, hal.ErrNotInitialized
	}
	var raw [6]byte
	err = d.frame(func() error {
		if err := d.send(d.conf.ReadIDCmd); err != nil {
			return err
		}
		for i := range raw {
			if raw[i], err = d.bus.Exchange(DummyByte); err != nil {
				return err
			}
		}
		return nil
	})
	id = hal.ChipID{
		Maker:  raw[0],
		Device: raw[1],
		Third:  raw[2],
		Fourth: raw[3],
		Fifth:  raw[4],
		Sixth:  raw[5],
	}
	return id, err
}

func (d *Driver) writeEnable() error {
	if d.conf.WriteEnCmd == UndefinedCmd {
		return nil
	}
	return d.frame(func() error {
		return d.send(d.conf.WriteEnCmd)
	})
}

// WritePageAsync starts programming buf at the start of page. It returns once
// the data is on the wire; the chip reports completion through ReadStatus.
func (d *Driver) WritePageAsync(buf []byte, page uint32) error {
	if !d.ready {
		return hal.ErrNotInitialized
	}
	if err := d.writeEnable(); err != nil {
		return err
	}
	addr := d.conf.Address(page, 0)
	d.log.Debug("nor write", slog.Uint64("page", uint64(page)), slog.Int("len", len(buf)))
	return d.frame(func() error {
		if err := d.send(d.conf.WriteCmd); err != nil {
			return err
		}
		if err := d.sendAddr(addr); err != nil {
			return err
		}
		return d.bus.Send(buf)
	})
}

func (d *Driver) readData(buf []byte, page, offset uint32) (hal.Status, error) {
	if !d.ready {
		return hal.InvalidCommand, hal.ErrNotInitialized
	}
	addr := d.conf.Address(page, offset)
	err := d.frame(func() error {
		if err := d.send(d.conf.ReadCmd); err != nil {
			return err
		}
		if err := d.sendAddr(addr); err != nil {
			return err
		}
		if err := d.send(DummyByte); err != nil {
			return err
		}
		return d.bus.Receive(buf)
	})
	if err != nil {
		return hal.InvalidCommand, err
	}
	return hal.Ready, nil
}

// ReadPage reads len(buf) bytes from the start of page.
func (d *Driver) ReadPage(buf []byte, page uint32) (hal.Status, error) {
	return d.readData(buf, page, 0)
}

// ReadData reads len(buf) bytes at offset within page. Reads may run past the
// end of the page.
func (d *Driver) ReadData(buf []byte, page, offset uint32) (hal.Status, error) {
	return d.readData(buf, page, offset)
}

// ReadSpareData always returns InvalidCommand: NOR chips have no spare area.
func (d *Driver) ReadSpareData(buf []byte, page, offset uint32) (hal.Status, error) {
	return hal.InvalidCommand, nil
}

// EraseBlock erases the block containing page and waits for the chip.
func (d *Driver) EraseBlock(page uint32) (hal.Status, error) {
	if !d.ready {
		return hal.InvalidCommand, hal.ErrNotInitialized
	}
	if err := d.writeEnable(); err != nil {
		return hal.InvalidCommand, err
	}
	addr := d.conf.Address(page, 0)
	err := d.frame(func() error {
		if err := d.send(d.conf.EraseCmd); err != nil {
			return err
		}
		return d.sendAddr(addr)
	})
	if err != nil {
		return hal.InvalidCommand, err
	}
	st, err := hal.Poll(d.ReadStatus, d.budget)
	d.log.Debug("nor erase", slog.Uint64("page", uint64(page)), slog.String("status", st.String()))
	return st, err
}

// IsBadBlockSupported is false: NOR chips have no bad block markers.
func (d *Driver) IsBadBlockSupported() bool { return false }
