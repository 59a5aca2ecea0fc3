package programmer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	periphspi "periph.io/x/conn/v3/spi"

	"github.com/gentam/nando/hal"
	"github.com/gentam/nando/internal/flashtest"
	"github.com/gentam/nando/nor"
	"github.com/gentam/nando/spi"
)

const chipSize = 64 << 10

var geo = Geometry{PageSize: 256, BlockPages: 16, Pages: chipSize / 256}

func newTestHAL(t *testing.T) (*nor.Driver, *flashtest.Chip) {
	t.Helper()
	chip := flashtest.NewChip(flashtest.W25Q, chipSize)
	chip.BusyReads = 2
	bus := spi.NewPeriphBus(&flashtest.Port{Chip: chip}, flashtest.NewCS(chip), periphspi.Mode0, nil)
	d := nor.New(bus)
	conf := nor.Config{
		PageOffset: 8,
		ReadCmd:    0x0B,
		ReadIDCmd:  0x9F,
		WriteCmd:   0x02,
		WriteEnCmd: 0x06,
		EraseCmd:   0x20,
		StatusCmd:  0x05,
		BusyState:  true,
		Freq:       30_000_000,
	}
	b, err := conf.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Init(b); err != nil {
		t.Fatal(err)
	}
	return d, chip
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i>>8)
	}
	return b
}

func TestProgramAndRead(t *testing.T) {
	d, chip := newTestHAL(t)
	// Stale data in the target block must be erased first.
	chip.Mem[16*256+10] = 0x00

	var calls int
	p, err := New(d, geo, WithVerify(true), WithProgress(func(done, total uint32) { calls++ }))
	if err != nil {
		t.Fatal(err)
	}

	data := pattern(5*256 + 17)
	n, err := p.Program(bytes.NewReader(data), 16)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(data) {
		t.Errorf("Program wrote %d bytes, want %d", n, len(data))
	}
	if calls != 6 {
		t.Errorf("progress called %d times, want 6", calls)
	}
	if chip.Busy() {
		t.Error("chip still busy after Program")
	}

	got := make([]byte, len(data))
	if err := p.Read(got, 16); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("read back differs from programmed data")
	}
	if !bytes.Equal(chip.Mem[:16*256], bytes.Repeat([]byte{0xFF}, 16*256)) {
		t.Error("Program touched the block before startPage")
	}
}

func TestProgramErasesEachBlock(t *testing.T) {
	d, chip := newTestHAL(t)
	p, err := New(d, geo)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Program(bytes.NewReader(pattern(17*256)), 0); err != nil {
		t.Fatal(err)
	}
	erases := 0
	for _, op := range chip.Opcodes() {
		if op == flashtest.W25Q.Erase {
			erases++
		}
	}
	if erases != 2 {
		t.Errorf("%d erase commands for 17 pages, want 2", erases)
	}
}

func TestProgramAlignment(t *testing.T) {
	d, _ := newTestHAL(t)
	p, err := New(d, geo)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Program(bytes.NewReader([]byte{1}), 3); err == nil {
		t.Error("Program at an unaligned page succeeded")
	}
	if err := p.Erase(0, 3); err == nil {
		t.Error("Erase of a partial block succeeded")
	}
	if err := p.Erase(geo.Pages, 16); err == nil {
		t.Error("Erase beyond the chip succeeded")
	}
}

func TestErase(t *testing.T) {
	d, chip := newTestHAL(t)
	for i := range chip.Mem {
		chip.Mem[i] = 0
	}
	p, err := New(d, geo)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Erase(16, 32); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(chip.Mem[16*256:48*256], bytes.Repeat([]byte{0xFF}, 32*256)) {
		t.Error("erased range is not blank")
	}
	if chip.Mem[16*256-1] != 0 || chip.Mem[48*256] != 0 {
		t.Error("Erase touched neighbouring blocks")
	}
}

// stuckHAL reports Busy forever. Erases fail unless eraseOK.
type stuckHAL struct {
	hal.HAL
	eraseOK bool
	budget  uint32
	reads   int
}

func (s *stuckHAL) EraseBlock(page uint32) (hal.Status, error) {
	if s.eraseOK {
		return hal.Ready, nil
	}
	return hal.Timeout, nil
}

func (s *stuckHAL) PollBudget() uint32 { return s.budget }

func (s *stuckHAL) WritePageAsync(buf []byte, page uint32) error { return nil }

func (s *stuckHAL) ReadStatus() (hal.Status, error) {
	s.reads++
	return hal.Busy, nil
}

func TestStatusError(t *testing.T) {
	p, err := New(&stuckHAL{}, geo)
	if err != nil {
		t.Fatal(err)
	}
	err = p.Erase(0, 16)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Erase() = %v, want a StatusError", err)
	}
	if diff := cmp.Diff(&StatusError{Op: "erase", Page: 0, Status: hal.Timeout}, se); diff != "" {
		t.Errorf("StatusError mismatch (-want +got):\n%s", diff)
	}
}

func TestProgramPollBudget(t *testing.T) {
	data := bytes.Repeat([]byte{0x5A}, 256)

	h := &stuckHAL{eraseOK: true}
	p, err := New(h, geo, WithPollBudget(3))
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Program(bytes.NewReader(data), 0)
	var se *StatusError
	if !errors.As(err, &se) || se.Op != "write" || se.Status != hal.Timeout {
		t.Fatalf("Program() = %v, want a write timeout", err)
	}
	if h.reads != 4 {
		t.Errorf("%d status reads, want 4", h.reads)
	}

	h = &stuckHAL{eraseOK: true, budget: 5}
	if p, err = New(h, geo); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Program(bytes.NewReader(data), 0); err == nil {
		t.Fatal("Program() on a stuck chip succeeded")
	}
	if h.reads != 6 {
		t.Errorf("%d status reads with the HAL's budget of 5, want 6", h.reads)
	}
}

func TestVerifyError(t *testing.T) {
	d, chip := newTestHAL(t)
	p, err := New(d, geo, WithVerify(true))
	if err != nil {
		t.Fatal(err)
	}
	// Programming cannot set bits, so a stuck-at-zero cell shows on verify.
	chip.EraseSize = 1
	chip.Mem[3] = 0x00
	_, err = p.Program(bytes.NewReader(bytes.Repeat([]byte{0xAA}, 256)), 0)
	if !errors.Is(err, ErrVerify) {
		t.Fatalf("Program() = %v, want ErrVerify", err)
	}
	var ve *VerifyError
	if errors.As(err, &ve) && (ve.Page != 0 || ve.Off != 3 || ve.Want != 0xAA) {
		t.Errorf("VerifyError = %+v", ve)
	}
}

func TestInvalidGeometry(t *testing.T) {
	if _, err := New(&stuckHAL{}, Geometry{PageSize: 256}); err == nil {
		t.Error("New accepted zero block pages")
	}
}
