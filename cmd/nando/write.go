package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gentam/nando/programmer"
)

func newWriteCmd() *cobra.Command {
	var (
		filename string
		offset   int64
		verify   bool
	)
	cmd := &cobra.Command{
		Use:   "write",
		Short: "write a file to flash memory",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if filename == "" {
				return usagef("input file is required")
			}
			input, err := os.Open(filename)
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer input.Close()
			fi, err := input.Stat()
			if err != nil {
				return err
			}

			s, err := openFlash()
			if err != nil {
				return err
			}
			defer s.close()

			page, err := s.page(offset, s.chip.EraseSize)
			if err != nil {
				return err
			}
			if offset+fi.Size() > int64(s.chip.Size) {
				return usagef("%s (%d bytes) does not fit at %#x", filename, fi.Size(), offset)
			}
			total := fi.Size()
			p, err := s.programmer(
				programmer.WithVerify(verify),
				programmer.WithProgress(func(done, _ uint32) {
					log.Debug("write", slog.Uint64("done", uint64(done)), slog.Int64("total", total))
				}),
			)
			if err != nil {
				return err
			}
			n, err := p.Program(input, page)
			if err != nil {
				return fmt.Errorf("write flash failed: %w", err)
			}
			log.Info("written", slog.Int("bytes", n), slog.String("chip", s.chip.String()))
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&filename, "file", "f", "", "input file")
	fs.Int64Var(&offset, "offset", 0, "start offset in bytes, erase block aligned")
	fs.BoolVar(&verify, "verify", true, "read every page back after writing")
	return cmd
}

func newEraseCmd() *cobra.Command {
	var (
		offset int64
		size   int64
		chip   bool
	)
	cmd := &cobra.Command{
		Use:   "erase",
		Short: "erase flash blocks",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openFlash()
			if err != nil {
				return err
			}
			defer s.close()

			if chip {
				offset, size = 0, int64(s.chip.Size)
			}
			page, err := s.page(offset, s.chip.EraseSize)
			if err != nil {
				return err
			}
			if size <= 0 || size%int64(s.chip.EraseSize) != 0 || offset+size > int64(s.chip.Size) {
				return usagef("size %#x is not a positive multiple of %#x within the chip", size, s.chip.EraseSize)
			}
			p, err := s.programmer()
			if err != nil {
				return err
			}
			if err := p.Erase(page, uint32(size>>s.chip.PageOffset)); err != nil {
				return fmt.Errorf("erase flash failed: %w", err)
			}
			log.Info("erased", slog.Int64("offset", offset), slog.Int64("size", size))
			return nil
		},
	}
	fs := cmd.Flags()
	fs.Int64Var(&offset, "offset", 0, "start offset in bytes, erase block aligned")
	fs.Int64Var(&size, "size", 0, "number of bytes, a multiple of the erase size")
	fs.BoolVarP(&chip, "all", "a", false, "erase the entire chip")
	return cmd
}
