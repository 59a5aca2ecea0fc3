package main

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/spi"

	"github.com/gentam/nando"
	"github.com/gentam/nando/chipdb"
	"github.com/gentam/nando/programmer"
)

func loadDB() (*chipdb.DB, error) {
	db, err := chipdb.Default()
	if err != nil {
		return nil, err
	}
	if flags.db != "" {
		extra, err := chipdb.LoadFile(flags.db)
		if err != nil {
			return nil, err
		}
		db.Merge(extra)
	}
	return db, nil
}

func openDevice() (*nando.Device, error) {
	opts := []nando.Option{
		nando.WithMode(spi.Mode(flags.mode)),
		nando.WithLogger(log),
	}
	if flags.port != "" {
		opts = append(opts, nando.WithPort(flags.port, flags.cs))
	}
	if flags.reset != "" {
		opts = append(opts, nando.WithReset(flags.reset))
	}
	return nando.NewDevice(opts...)
}

// session is an open device with its flash initialized.
type session struct {
	dev  *nando.Device
	chip chipdb.Chip
}

// openFlash opens the device, holds the other bus master in reset and
// initializes the flash driver for the chip named by --chip or detected by
// its ID.
func openFlash() (*session, error) {
	db, err := loadDB()
	if err != nil {
		return nil, err
	}
	var chip *chipdb.Chip
	if flags.chip != "" {
		var ok bool
		if chip, ok = db.ByName(flags.chip); !ok {
			return nil, usagef("unknown chip %q, see nando chips", flags.chip)
		}
	}

	d, err := openDevice()
	if err != nil {
		return nil, err
	}
	if err := d.HoldReset(); err != nil {
		d.Close()
		return nil, fmt.Errorf("hold reset: %w", err)
	}
	s := &session{dev: d}

	if chip == nil {
		c, id, err := d.Identify(db)
		if err != nil {
			s.close()
			return nil, err
		}
		if c == nil {
			s.close()
			return nil, fmt.Errorf("unknown flash ID (%s), select one with --chip", id)
		}
		chip = c
	}
	s.chip = *chip
	if flags.freq != 0 {
		s.chip.Freq = flags.freq
	}
	if err := d.Open(&s.chip); err != nil {
		s.close()
		return nil, err
	}
	if err := d.Flash.PowerUp(); err != nil {
		s.close()
		return nil, fmt.Errorf("flash power up failed: %w", err)
	}
	return s, nil
}

func (s *session) close() error {
	var errs []error
	if _, ok := s.dev.Flash.Config(); ok {
		errs = append(errs, s.dev.Flash.PowerDown())
	}
	errs = append(errs, s.dev.ReleaseReset(), s.dev.Close())
	return errors.Join(errs...)
}

func (s *session) geometry() programmer.Geometry {
	return programmer.Geometry{
		PageSize:   1 << s.chip.PageOffset,
		BlockPages: uint32(s.chip.PagesPerBlock()),
		Pages:      uint32(s.chip.Size >> s.chip.PageOffset),
	}
}

func (s *session) programmer(opts ...programmer.Option) (*programmer.Programmer, error) {
	opts = append(opts, programmer.WithLogger(log))
	return programmer.New(s.dev.Flash, s.geometry(), opts...)
}

// page converts a byte offset to a page number, requiring alignment to unit.
func (s *session) page(off int64, unit int) (uint32, error) {
	if off < 0 || off%int64(unit) != 0 {
		return 0, usagef("offset %#x is not a multiple of %#x", off, unit)
	}
	if off >= int64(s.chip.Size) {
		return 0, usagef("offset %#x beyond the %d byte chip", off, s.chip.Size)
	}
	return uint32(off >> s.chip.PageOffset), nil
}
