package regspi

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/physic"

	"github.com/gentam/nando/internal/flashtest"
)

type simReg struct {
	v   uint32
	get func() uint32
	set func(v uint32)
}

func (r *simReg) Get() uint32 {
	if r.get != nil {
		return r.get()
	}
	return r.v
}

func (r *simReg) Set(v uint32) {
	r.v = v
	if r.set != nil {
		r.set(v)
	}
}

// sim is an SPI peripheral with a DMA controller, wired to a simulated chip.
type sim struct {
	chip *flashtest.Chip

	ctlr1, ctlr2, statr, datar simReg
	intfr, intfcr              simReg
	rx, tx                     [4]simReg // CFGR, CNTR, PADDR, MADDR

	rxne     bool
	rxByte   byte
	txeWaits int // STATR reads reporting TXE clear before each exchange

	mem      map[uint32][]byte
	nextAddr uint32
	dmaRuns  int
}

func newSim(chip *flashtest.Chip) (*sim, *Controller) {
	s := &sim{chip: chip, mem: make(map[uint32][]byte), nextAddr: 0x20000000}

	pending := 0
	s.statr.get = func() uint32 {
		var v uint32
		if pending > 0 {
			pending--
		} else {
			v |= statrTXE
		}
		if s.rxne {
			v |= statrRXNE
		}
		return v
	}
	s.datar.set = func(v uint32) {
		if s.ctlr2.v != 0 {
			panic("byte exchange with DMA requests enabled")
		}
		s.rxByte = s.chip.Exchange(byte(v))
		s.rxne = true
		pending = s.txeWaits
	}
	s.datar.get = func() uint32 {
		s.rxne = false
		return uint32(s.rxByte)
	}
	s.ctlr2.set = func(v uint32) {
		if v == ctlr2TXDMAEN|ctlr2RXDMAEN {
			s.runDMA()
		}
	}
	s.intfcr.set = func(v uint32) { s.intfr.v &^= v }

	c := New(Config{
		SPI: &SPIRegs{CTLR1: &s.ctlr1, CTLR2: &s.ctlr2, STATR: &s.statr, DATAR: &s.datar},
		DMA: &DMARegs{
			INTFR:  &s.intfr,
			INTFCR: &s.intfcr,
			RX:     &DMAChannel{CFGR: &s.rx[0], CNTR: &s.rx[1], PADDR: &s.rx[2], MADDR: &s.rx[3]},
			TX:     &DMAChannel{CFGR: &s.tx[0], CNTR: &s.tx[1], PADDR: &s.tx[2], MADDR: &s.tx[3]},
		},
		CS: func(level bool) {
			if level {
				chip.Deselect()
			} else {
				chip.Select()
			}
		},
		CoreClock: 144 * physic.MegaHertz,
		DataAddr:  0x40003C0C,
	})
	c.addr = s.addressOf
	return s, c
}

func (s *sim) addressOf(b []byte) uint32 {
	a := s.nextAddr
	s.mem[a] = b
	s.nextAddr += 0x1000
	return a
}

func (s *sim) runDMA() {
	rxCfg, txCfg := s.rx[0].v, s.tx[0].v
	if rxCfg&cfgrEN == 0 || txCfg&cfgrEN == 0 {
		panic("DMA requested with a channel disabled")
	}
	if s.rx[1].v != s.tx[1].v {
		panic("DMA channel counts differ")
	}
	rxBuf, txBuf := s.mem[s.rx[3].v], s.mem[s.tx[3].v]
	for i := 0; i < int(s.rx[1].v); i++ {
		ti, ri := 0, 0
		if txCfg&cfgrMINC != 0 {
			ti = i
		}
		if rxCfg&cfgrMINC != 0 {
			ri = i
		}
		rxBuf[ri] = s.chip.Exchange(txBuf[ti])
	}
	s.dmaRuns++
	s.intfr.v |= flagTC1 | flagTC2
}

func TestPrescaler(t *testing.T) {
	const core = 144 * physic.MegaHertz
	tests := []struct {
		freq physic.Frequency
		want uint32
	}{
		{100 * physic.MegaHertz, 1}, // clamped to 36MHz: 144/4
		{72 * physic.MegaHertz, 1},
		{36 * physic.MegaHertz, 1},
		{20 * physic.MegaHertz, 2},
		{18 * physic.MegaHertz, 2},
		{1 * physic.MegaHertz, 7},
		{600 * physic.KiloHertz, 7},
	}
	for _, tt := range tests {
		if got := Prescaler(core, tt.freq); got != tt.want {
			t.Errorf("Prescaler(%s, %s) = %d, want %d", core, tt.freq, got, tt.want)
		}
	}
	if got := Prescaler(24*physic.MegaHertz, 12*physic.MegaHertz); got != 0 {
		t.Errorf("Prescaler(24MHz, 12MHz) = %d, want 0", got)
	}
}

func TestConfigure(t *testing.T) {
	s, c := newSim(flashtest.NewChip(flashtest.W25Q, 256))
	if err := c.Configure(18 * physic.MegaHertz); err != nil {
		t.Fatal(err)
	}
	want := uint32(ctlr1MSTR | ctlr1CPOL | ctlr1CPHA | ctlr1SSM | ctlr1SSI | ctlr1SPE | 2<<ctlr1BRPos)
	if s.ctlr1.v != want {
		t.Errorf("CTLR1 = %#x, want %#x", s.ctlr1.v, want)
	}
	if s.rx[2].v != 0x40003C0C || s.tx[2].v != 0x40003C0C {
		t.Errorf("PADDR = %#x/%#x, want the data register", s.rx[2].v, s.tx[2].v)
	}
	c.Release()
	if s.ctlr1.v&ctlr1SPE != 0 {
		t.Error("Release left the peripheral enabled")
	}
}

func TestExchange(t *testing.T) {
	chip := flashtest.NewChip(flashtest.W25Q, 256)
	s, c := newSim(chip)
	s.txeWaits = 3
	c.Configure(36 * physic.MegaHertz)

	c.Select()
	var got []byte
	for _, b := range []byte{0x9F, 0, 0, 0} {
		r, err := c.Exchange(b)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, r)
	}
	c.Deselect()

	if diff := cmp.Diff([]byte{0xFF, 0xEF, 0x70, 0x18}, got); diff != "" {
		t.Errorf("Exchange mismatch (-want +got):\n%s", diff)
	}
	if s.dmaRuns != 0 {
		t.Errorf("byte exchange started %d DMA transfers", s.dmaRuns)
	}
}

func TestSend(t *testing.T) {
	chip := flashtest.NewChip(flashtest.W25Q, 1<<16)
	s, c := newSim(chip)
	c.Configure(36 * physic.MegaHertz)

	payload := []byte("flash page payload")
	c.Select()
	for _, b := range []byte{flashtest.W25Q.Write, 0x00, 0x02, 0x00} {
		c.Exchange(b)
	}
	if err := c.Send(payload); err != nil {
		t.Fatal(err)
	}
	c.Deselect()

	if got := chip.Frames[0][4:]; !bytes.Equal(got, payload) {
		t.Errorf("chip received %q, want %q", got, payload)
	}
	if s.dmaRuns != 1 {
		t.Errorf("Send ran %d DMA transfers, want 1", s.dmaRuns)
	}
	if s.rx[0].v != 0 || s.tx[0].v != 0 {
		t.Errorf("channels left enabled: CFGR rx=%#x tx=%#x", s.rx[0].v, s.tx[0].v)
	}
	if s.intfr.v&(flagTC1|flagTC2) != 0 {
		t.Errorf("completion flags not cleared: INTFR=%#x", s.intfr.v)
	}
	// The RX channel sank everything into the scratch byte.
	if s.mem[s.rx[3].v] == nil || len(s.mem[s.rx[3].v]) != 1 {
		t.Errorf("RX sink is %d bytes, want 1", len(s.mem[s.rx[3].v]))
	}
}

func TestReceive(t *testing.T) {
	chip := flashtest.NewChip(flashtest.W25Q, 1<<16)
	copy(chip.Mem[0x300:], "stored data")
	s, c := newSim(chip)
	c.Configure(36 * physic.MegaHertz)

	c.Select()
	for _, b := range []byte{flashtest.W25Q.Read, 0x00, 0x03, 0x00, 0xA5} {
		c.Exchange(b)
	}
	buf := make([]byte, len("stored data"))
	if err := c.Receive(buf); err != nil {
		t.Fatal(err)
	}
	c.Deselect()

	if string(buf) != "stored data" {
		t.Errorf("Receive = %q, want %q", buf, "stored data")
	}
	if got := chip.Frames[0][5:]; !bytes.Equal(got, bytes.Repeat([]byte{0xFF}, len(buf))) {
		t.Errorf("TX channel sent % X, want filler", got)
	}
	if s.dmaRuns != 1 {
		t.Errorf("Receive ran %d DMA transfers, want 1", s.dmaRuns)
	}
}

func TestSendSplitsAtCounterWidth(t *testing.T) {
	chip := flashtest.NewChip(flashtest.W25Q, 1<<17)
	s, c := newSim(chip)
	c.Configure(36 * physic.MegaHertz)

	c.Select()
	c.Send(make([]byte, maxCount+10))
	c.Deselect()
	if s.dmaRuns != 2 {
		t.Errorf("Send ran %d DMA transfers, want 2", s.dmaRuns)
	}
}
