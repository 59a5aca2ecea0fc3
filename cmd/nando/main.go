// Command nando reads, writes and erases SPI NOR flash chips.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
)

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func fatalUsage(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(2)
}

// usageError is a command line mistake rather than a device failure.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }

func usagef(format string, a ...any) error {
	return usageError{fmt.Errorf(format, a...)}
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usagef("%s: want %d argument(s), got %d", cmd.Name(), n, len(args))
		}
		return nil
	}
}

type globalFlags struct {
	verbose bool
	chip    string
	db      string
	freq    uint32
	mode    int
	port    string
	cs      string
	reset   string
}

var (
	flags globalFlags
	log   = slog.New(slog.DiscardHandler)
	zlog  = zap.NewNop()
)

func (f *globalFlags) register(fs *pflag.FlagSet) {
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	fs.StringVarP(&f.chip, "chip", "c", "", "chip name (default: detect by JEDEC ID)")
	fs.StringVar(&f.db, "db", "", "YAML file with additional chip definitions")
	fs.Uint32Var(&f.freq, "freq", 0, "SPI clock in Hz (default: the chip's)")
	fs.IntVar(&f.mode, "mode", 0, "SPI mode (0-3)")
	fs.StringVar(&f.port, "port", "", "periph.io SPI port name (default: first FT2232H)")
	fs.StringVar(&f.cs, "cs", "", "chip select GPIO name, with --port")
	fs.StringVar(&f.reset, "reset", "", "GPIO holding the other bus master in reset")
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nando",
		Short:         "SPI NOR flash programmer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flags.mode < 0 || flags.mode > 3 {
				return usagef("invalid SPI mode %d", flags.mode)
			}
			if flags.port != "" && flags.cs == "" {
				return usagef("--port needs --cs")
			}
			l, err := newLogger(flags.verbose)
			if err != nil {
				return err
			}
			zlog = l
			log = slog.New(zapslog.NewHandler(l.Core()))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			zlog.Sync()
		},
	}
	flags.register(root.PersistentFlags())
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})
	root.AddCommand(
		newIDCmd(),
		newStatusCmd(),
		newInfoCmd(),
		newReadCmd(),
		newWriteCmd(),
		newEraseCmd(),
		newChipsCmd(),
		newBootselCmd(),
	)
	return root
}

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	if ue := (usageError{}); errors.As(err, &ue) {
		fatalUsage("%v", err)
	}
	fatalf("%v", err)
}
