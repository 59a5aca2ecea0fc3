//go:build tinygo && ch32v30x

// Command firmware brings up the external flash on the programmer board and
// reports its ID and status. The host protocol runs on top of the HAL it
// initializes.
package main

import (
	"log/slog"
	"os"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/gentam/nando/hal"
	"github.com/gentam/nando/nor"
	"github.com/gentam/nando/spi/regspi"
)

const coreClock = 144 * physic.MegaHertz

// w25q is the power-on configuration until the host sends one.
var w25q = nor.Config{
	PageOffset: 8,
	ReadCmd:    0x0B,
	ReadIDCmd:  0x9F,
	WriteCmd:   0x02,
	WriteEnCmd: 0x06,
	EraseCmd:   0x20,
	StatusCmd:  0x05,
	BusyBit:    0,
	BusyState:  true,
	Freq:       36_000_000,
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var h hal.HAL = nor.New(regspi.NewCH32V307(coreClock), nor.WithLogger(logger))
	conf, err := w25q.MarshalBinary()
	if err != nil {
		logger.Error("config", slog.String("err", err.Error()))
		return
	}
	if err := h.Init(conf); err != nil {
		logger.Error("flash init", slog.String("err", err.Error()))
		return
	}
	id, err := h.ReadID()
	if err != nil {
		logger.Error("read id", slog.String("err", err.Error()))
		return
	}
	st, err := hal.WaitReady(h)
	logger.Info("flash", slog.String("id", id.String()), slog.String("status", st.String()), slog.Any("err", err))
	for {
		time.Sleep(time.Second)
	}
}
