package internalflash

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeFlash records the controller calls and keeps the flash contents.
type fakeFlash struct {
	mem    []byte
	calls  []string
	crit   *fakeCritical
	failOn string
	locked bool
	halved bool
	inCrit []bool // critical section state at each erase/program
}

func newFakeFlash(size int) *fakeFlash {
	return &fakeFlash{mem: bytes.Repeat([]byte{0xFF}, size), locked: true, crit: &fakeCritical{}}
}

func (f *fakeFlash) Unlock() {
	f.calls = append(f.calls, "unlock")
	f.locked = false
}

func (f *fakeFlash) Lock() {
	f.calls = append(f.calls, "lock")
	f.locked = true
}

func (f *fakeFlash) HalveClock(on bool) {
	f.halved = on
	if on {
		f.calls = append(f.calls, "clock/2")
	} else {
		f.calls = append(f.calls, "clock")
	}
}

func (f *fakeFlash) ErasePage(addr uint32) error {
	f.calls = append(f.calls, "erase")
	f.inCrit = append(f.inCrit, f.crit.depth > 0)
	if f.failOn == "erase" {
		return errors.New("write protected")
	}
	for i := range PageSize {
		f.mem[int(addr)+i] = 0xFF
	}
	return nil
}

func (f *fakeFlash) ProgramPage(addr uint32, data *[PageSize]byte) error {
	f.calls = append(f.calls, "program")
	f.inCrit = append(f.inCrit, f.crit.depth > 0)
	if f.failOn == "program" {
		return errors.New("write protected")
	}
	copy(f.mem[addr:], data[:])
	return nil
}

func (f *fakeFlash) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(f.mem).ReadAt(p, off)
}

type fakeCritical struct {
	depth   int
	entries int
}

func (c *fakeCritical) Enter() func() {
	c.depth++
	c.entries++
	return func() { c.depth-- }
}

func TestWritePage(t *testing.T) {
	f := newFakeFlash(4 * PageSize)
	w := NewWriter(f, f.crit, f, nil)

	if err := w.WritePage(2*PageSize, []byte{0, 1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	want := []string{"clock/2", "unlock", "erase", "program", "lock", "clock"}
	if diff := cmp.Diff(want, f.calls); diff != "" {
		t.Errorf("controller calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{true, true}, f.inCrit); diff != "" {
		t.Errorf("erase/program outside the critical section (-want +got):\n%s", diff)
	}
	if f.crit.depth != 0 {
		t.Errorf("critical section depth %d after WritePage", f.crit.depth)
	}

	got := make([]byte, PageSize)
	if _, err := w.ReadAt(got, 2*PageSize); err != nil {
		t.Fatal(err)
	}
	wantPage := append([]byte{0, 1, 2, 3}, bytes.Repeat([]byte{0xFF}, PageSize-4)...)
	if !bytes.Equal(got, wantPage) {
		t.Errorf("page = % X, want % X", got[:8], wantPage[:8])
	}
}

func TestWritePageFailureRestores(t *testing.T) {
	for _, step := range []string{"erase", "program"} {
		t.Run(step, func(t *testing.T) {
			f := newFakeFlash(PageSize)
			f.failOn = step
			w := NewWriter(f, f.crit, f, nil)

			if err := w.WritePage(0, []byte{1}); err == nil {
				t.Fatal("WritePage() succeeded")
			}
			if f.crit.depth != 0 {
				t.Errorf("interrupts left disabled (depth %d)", f.crit.depth)
			}
			if !f.locked {
				t.Error("flash left unlocked")
			}
			if f.halved {
				t.Error("bus clock left halved")
			}
		})
	}
}

func TestWritePageArguments(t *testing.T) {
	f := newFakeFlash(PageSize)
	w := NewWriter(f, f.crit, f, nil)

	if err := w.WritePage(PageSize/2, nil); err == nil {
		t.Error("WritePage accepted an unaligned address")
	}
	if err := w.WritePage(0, make([]byte, PageSize+1)); err == nil {
		t.Error("WritePage accepted an oversized page")
	}
	if f.crit.entries != 0 || len(f.calls) != 0 {
		t.Errorf("rejected writes touched the controller: %v", f.calls)
	}
}

func TestDefaultCritical(t *testing.T) {
	f := newFakeFlash(PageSize)
	w := NewWriter(f, nil, f, nil)
	if err := w.WritePage(0, []byte{0x42}); err != nil {
		t.Fatal(err)
	}
	// The section was released: a second write does not deadlock.
	if err := w.WritePage(0, []byte{0x43}); err != nil {
		t.Fatal(err)
	}
	if f.mem[0] != 0x43 {
		t.Errorf("mem[0] = %#x, want 0x43", f.mem[0])
	}
}
