// Package boot selects and starts one of the two application images stored in
// the controller's internal flash.
//
// Flash layout, offsets from the flash base:
//
//	0x00000 +-----------------+
//	        | bootloader 14K  |
//	0x03800 +-----------------+
//	        | config 2K       |
//	0x04000 +-----------------+
//	        | image 1 120K    |
//	0x22000 +-----------------+
//	        | image 2 120K    |
//	0x40000 +-----------------+
package boot

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

const (
	BootloaderOffset = 0x00000
	BootloaderSize   = 14 << 10
	ConfigOffset     = 0x03800
	ConfigSize       = 2 << 10
	Image1Offset     = 0x04000
	Image2Offset     = 0x22000
	ImageSize        = 120 << 10
	End              = 0x40000
)

// The regions are contiguous. Resizing one without moving the others fails to
// compile.
var (
	_ = [1]struct{}{}[BootloaderOffset+BootloaderSize-ConfigOffset]
	_ = [1]struct{}{}[ConfigOffset+ConfigSize-Image1Offset]
	_ = [1]struct{}{}[Image1Offset+ImageSize-Image2Offset]
	_ = [1]struct{}{}[Image2Offset+ImageSize-End]
)

// Version is reported when the bootloader starts.
var Version = "1.0.0"

// Image identifies an application slot.
type Image uint8

const (
	Image1 Image = iota
	Image2
)

// Offset returns the entry point offset of the image from the flash base.
func (i Image) Offset() uint32 {
	if i == Image1 {
		return Image1Offset
	}
	return Image2Offset
}

func (i Image) String() string {
	return fmt.Sprintf("image%d", uint8(i)+1)
}

// Config is the boot configuration record at ConfigOffset.
type Config struct {
	ActiveImage byte
}

// Image returns the image the record selects: zero is image 1, anything else
// image 2.
func (c Config) Image() Image {
	if c.ActiveImage == 0 {
		return Image1
	}
	return Image2
}

// ReadConfig reads the boot configuration record from flash.
func ReadConfig(flash io.ReaderAt) (Config, error) {
	var b [1]byte
	if _, err := flash.ReadAt(b[:], ConfigOffset); err != nil {
		return Config{}, fmt.Errorf("boot: read config: %w", err)
	}
	return Config{ActiveImage: b[0]}, nil
}

// Select reads the boot configuration and returns the chosen image.
func Select(flash io.ReaderAt) (Image, error) {
	c, err := ReadConfig(flash)
	if err != nil {
		return Image1, err
	}
	return c.Image(), nil
}

// Jumper transfers control to the code at entry. Jump does not return.
type Jumper interface {
	Jump(entry uintptr)
}

var ErrReturned = errors.New("boot: application returned")

// Boot selects the active image and jumps to its entry point, base being the
// address the flash is mapped at. It only returns on failure.
func Boot(flash io.ReaderAt, base uintptr, j Jumper, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger.Info("bootloader", slog.String("version", Version))

	img, err := Select(flash)
	if err != nil {
		return err
	}
	entry := base + uintptr(img.Offset())
	logger.Info("start application", slog.String("image", img.String()), slog.Uint64("entry", uint64(entry)))
	j.Jump(entry)
	return ErrReturned
}
