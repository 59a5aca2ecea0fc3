package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gentam/nando/boot"
	"github.com/gentam/nando/internalflash"
)

// dumpFile is an internal flash dump that pages are programmed into.
type dumpFile struct {
	*os.File
}

func (f dumpFile) WritePage(addr uint32, data []byte) error {
	if addr%internalflash.PageSize != 0 || len(data) > internalflash.PageSize {
		return fmt.Errorf("bad page write of %d bytes at %#x", len(data), addr)
	}
	page := bytes.Repeat([]byte{0xFF}, internalflash.PageSize)
	copy(page, data)
	_, err := f.WriteAt(page, int64(addr))
	return err
}

func parseImage(s string) (boot.Image, error) {
	for _, img := range []boot.Image{boot.Image1, boot.Image2} {
		if s == img.String() {
			return img, nil
		}
	}
	return 0, usagef("unknown image %q, want image1 or image2", s)
}

func newBootselCmd() *cobra.Command {
	var set string
	cmd := &cobra.Command{
		Use:   "bootsel <flash dump>",
		Short: "show or change the image a bootloader flash dump starts",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := os.O_RDONLY
			var img boot.Image
			if set != "" {
				var err error
				if img, err = parseImage(set); err != nil {
					return err
				}
				mode = os.O_RDWR
			}
			f, err := os.OpenFile(args[0], mode, 0)
			if err != nil {
				return err
			}
			defer f.Close()

			if set != "" {
				if err := boot.SetActive(dumpFile{f}, img); err != nil {
					return err
				}
			}
			conf, err := boot.ReadConfig(f)
			if err != nil {
				return err
			}
			img = conf.Image()
			fmt.Fprintf(cmd.OutOrStdout(), "%s\toffset %#05x\tconfig %#02x\n", img, img.Offset(), conf.ActiveImage)
			return nil
		},
	}
	cmd.Flags().StringVar(&set, "set", "", "select image1 or image2")
	return cmd
}
