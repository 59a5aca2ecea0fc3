package boot

import (
	"fmt"

	"github.com/gentam/nando/internalflash"
)

// PageWriter programs one internal flash page. *internalflash.Writer
// implements it.
type PageWriter interface {
	WritePage(addr uint32, data []byte) error
	ReadAt(p []byte, off int64) (int, error)
}

var _ PageWriter = (*internalflash.Writer)(nil)

// SetActive rewrites the boot configuration record to select img and reads it
// back.
func SetActive(w PageWriter, img Image) error {
	c := Config{}
	if img != Image1 {
		c.ActiveImage = 1
	}
	if err := w.WritePage(ConfigOffset, []byte{c.ActiveImage}); err != nil {
		return fmt.Errorf("boot: set %s: %w", img, err)
	}
	got, err := Select(w)
	if err != nil {
		return err
	}
	if got != img {
		return fmt.Errorf("boot: config reads back %s after selecting %s", got, img)
	}
	return nil
}
