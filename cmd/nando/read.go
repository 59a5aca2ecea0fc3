package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "print the flash JEDEC ID",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := loadDB()
			if err != nil {
				return err
			}
			d, err := openDevice()
			if err != nil {
				return err
			}
			defer d.Close()

			d.HoldReset()
			defer d.ReleaseReset()

			chip, id, err := d.Identify(db)
			if err != nil {
				return err
			}
			name := "unknown"
			if chip != nil {
				name = chip.String()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, name)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print the flash status register",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openFlash()
			if err != nil {
				return err
			}
			defer s.close()

			sr, err := s.dev.Flash.ReadStatusRegister()
			if err != nil {
				return fmt.Errorf("read flash status register failed: %w", err)
			}
			st, err := s.dev.Flash.ReadStatus()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", sr, st)
			return nil
		},
	}
}

func newReadCmd() *cobra.Command {
	var (
		offset  int64
		nread   int
		all     bool
		outFile string
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "read flash memory",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openFlash()
			if err != nil {
				return err
			}
			defer s.close()

			page, err := s.page(offset, 1<<s.chip.PageOffset)
			if err != nil {
				return err
			}
			if all {
				nread = s.chip.Size - int(offset)
			}
			if nread <= 0 || offset+int64(nread) > int64(s.chip.Size) {
				return usagef("cannot read %d bytes at %#x", nread, offset)
			}
			p, err := s.programmer()
			if err != nil {
				return err
			}
			data := make([]byte, nread)
			if err := p.Read(data, page); err != nil {
				return fmt.Errorf("read flash failed: %w", err)
			}

			if outFile == "" {
				fmt.Fprintln(cmd.OutOrStdout(), hex.Dump(data))
				return nil
			}
			return os.WriteFile(outFile, data, 0644)
		},
	}
	fs := cmd.Flags()
	fs.Int64Var(&offset, "offset", 0, "start offset in bytes, page aligned")
	fs.IntVarP(&nread, "count", "n", 256, "number of bytes to read")
	fs.BoolVarP(&all, "all", "a", false, "read to the end of the chip")
	fs.StringVarP(&outFile, "output", "o", "", "output file (default: hexdump)")
	return cmd
}
