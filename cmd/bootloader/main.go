//go:build tinygo && ch32v30x

// Command bootloader starts the application image selected by the boot
// configuration record.
package main

import (
	"log/slog"
	"os"

	"github.com/gentam/nando/boot"
	"github.com/gentam/nando/internalflash"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	// Booting from flash aliases it at address 0.
	err := boot.Boot(internalflash.Memory{}, 0, boot.Direct{}, logger)
	logger.Error("boot failed", slog.String("err", err.Error()))
	for {
	}
}
