package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"periph.io/x/host/v3/ftdi"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "print FT2232H adapter information",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice()
			if err != nil {
				return err
			}
			defer d.Close()
			ft := d.FTDI
			if ft == nil {
				return errors.New("info needs an FT2232H adapter")
			}
			w := cmd.OutOrStdout()

			// Reference: https://github.com/periph/cmd/tree/main/ftdi-list
			i := ftdi.Info{}
			ft.Info(&i)
			fmt.Fprintf(w, "Type:            %s\n", i.Type)
			fmt.Fprintf(w, "Vendor ID:       %#04x\n", i.VenID)
			fmt.Fprintf(w, "Device ID:       %#04x\n", i.DevID)

			ee := ftdi.EEPROM{}
			if err := ft.EEPROM(&ee); err != nil {
				return fmt.Errorf("failed to read EEPROM: %w", err)
			}
			fmt.Fprintf(w, "Manufacturer:    %s\n", ee.Manufacturer)
			fmt.Fprintf(w, "ManufacturerID:  %s\n", ee.ManufacturerID)
			fmt.Fprintf(w, "Desc:            %s\n", ee.Desc)
			fmt.Fprintf(w, "Serial:          %s\n", ee.Serial)

			h := ee.AsHeader()
			fmt.Fprintf(w, "MaxPower:        %dmA\n", h.MaxPower)
			fmt.Fprintf(w, "SelfPowered:     %x\n", h.SelfPowered)
			fmt.Fprintf(w, "RemoteWakeup:    %x\n", h.RemoteWakeup)
			fmt.Fprintf(w, "PullDownEnable:  %x\n", h.PullDownEnable)

			for _, p := range ft.Header() {
				fmt.Fprintf(w, "%s: %s\n", p, p.Function())
			}
			return nil
		},
	}
}

func newChipsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chips",
		Short: "list known flash chips",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := loadDB()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tVENDOR\tID\tSIZE\tERASE\tPAGE")
			for _, c := range db.Chips {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n", c.Name, c.Vendor, c.ID, c.Size, c.EraseSize, 1<<c.PageOffset)
			}
			return tw.Flush()
		},
	}
}
