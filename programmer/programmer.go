// Package programmer reads, erases and programs whole flash images through
// any hal.HAL backend.
package programmer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/exp/constraints"

	"github.com/gentam/nando/hal"
)

// Geometry is the page and erase block layout of a chip.
type Geometry struct {
	PageSize   uint32 // bytes per page
	BlockPages uint32 // pages per erase block
	Pages      uint32 // total pages, 0 if unknown
}

func (g Geometry) validate() error {
	if g.PageSize == 0 || g.BlockPages == 0 {
		return fmt.Errorf("programmer: invalid geometry %+v", g)
	}
	return nil
}

// StatusError reports a HAL operation that finished with a status other than
// Ready.
type StatusError struct {
	Op     string
	Page   uint32
	Status hal.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("programmer: %s page %d: %s", e.Op, e.Page, e.Status)
}

var ErrVerify = errors.New("programmer: verify failed")

// VerifyError reports the first mismatching page after programming.
type VerifyError struct {
	Page uint32
	Off  int
	Got  byte
	Want byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("programmer: verify page %d offset %d: got %#02x, want %#02x", e.Page, e.Off, e.Got, e.Want)
}

func (e *VerifyError) Unwrap() error { return ErrVerify }

// Progress is called after each page or block with the amount done so far.
type Progress func(done, total uint32)

type Option func(*Programmer)

func WithProgress(fn Progress) Option {
	return func(p *Programmer) { p.progress = fn }
}

// WithVerify reads every programmed page back and compares it.
func WithVerify(on bool) Option {
	return func(p *Programmer) { p.verify = on }
}

// WithPollBudget sets the number of status reads a page program waits for.
// The default is the HAL's own budget if it reports one, else
// hal.DefaultPollBudget.
func WithPollBudget(n uint32) Option {
	return func(p *Programmer) { p.budget = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Programmer) {
		if l != nil {
			p.log = l
		}
	}
}

// Programmer drives an initialized HAL.
type Programmer struct {
	h        hal.HAL
	geo      Geometry
	progress Progress
	verify   bool
	budget   uint32
	log      *slog.Logger
}

func New(h hal.HAL, geo Geometry, opts ...Option) (*Programmer, error) {
	if err := geo.validate(); err != nil {
		return nil, err
	}
	p := &Programmer{
		h:        h,
		geo:      geo,
		progress: func(uint32, uint32) {},
		budget:   hal.DefaultPollBudget,
		log:      slog.New(slog.DiscardHandler),
	}
	if b, ok := h.(interface{ PollBudget() uint32 }); ok {
		p.budget = b.PollBudget()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func check(op string, page uint32, st hal.Status, err error) error {
	if err != nil {
		return fmt.Errorf("programmer: %s page %d: %w", op, page, err)
	}
	if st != hal.Ready {
		return &StatusError{Op: op, Page: page, Status: st}
	}
	return nil
}

func (p *Programmer) inRange(page, count uint32) error {
	if p.geo.Pages != 0 && (page > p.geo.Pages || count > p.geo.Pages-page) {
		return fmt.Errorf("programmer: pages %d+%d beyond chip end %d", page, count, p.geo.Pages)
	}
	return nil
}

// Read fills buf starting at page, one page per HAL call.
func (p *Programmer) Read(buf []byte, page uint32) error {
	if err := p.inRange(page, divUp(uint32(len(buf)), p.geo.PageSize)); err != nil {
		return err
	}
	total := uint32(len(buf))
	for done := uint32(0); done < total; page++ {
		n := min(p.geo.PageSize, total-done)
		st, err := p.h.ReadPage(buf[done:done+n], page)
		if err := check("read", page, st, err); err != nil {
			return err
		}
		done += n
		p.progress(done, total)
	}
	return nil
}

// Erase erases count pages from page, which must both be block aligned.
func (p *Programmer) Erase(page, count uint32) error {
	bp := p.geo.BlockPages
	if !aligned(page, bp) || !aligned(count, bp) {
		return fmt.Errorf("programmer: erase %d+%d not aligned to %d page blocks", page, count, bp)
	}
	if err := p.inRange(page, count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i += bp {
		st, err := p.h.EraseBlock(page + i)
		if err := check("erase", page+i, st, err); err != nil {
			return err
		}
		p.progress(i+bp, count)
	}
	p.log.Debug("erased", slog.Uint64("page", uint64(page)), slog.Uint64("count", uint64(count)))
	return nil
}

// Program writes the contents of r from startPage, which must be block
// aligned. Each block is erased before its first page is written, and each
// page is waited on before the next. It returns the number of bytes written.
func (p *Programmer) Program(r io.Reader, startPage uint32) (int, error) {
	if !aligned(startPage, p.geo.BlockPages) {
		return 0, fmt.Errorf("programmer: start page %d not aligned to %d page blocks", startPage, p.geo.BlockPages)
	}

	buf := make([]byte, p.geo.PageSize)
	var back []byte
	if p.verify {
		back = make([]byte, p.geo.PageSize)
	}
	written := 0
	for page := startPage; ; page++ {
		n, err := io.ReadFull(r, buf)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return written, fmt.Errorf("programmer: read input: %w", err)
		}
		if err := p.inRange(page, 1); err != nil {
			return written, err
		}

		if aligned(page, p.geo.BlockPages) {
			st, err := p.h.EraseBlock(page)
			if err := check("erase", page, st, err); err != nil {
				return written, err
			}
		}
		if err := p.h.WritePageAsync(buf[:n], page); err != nil {
			return written, fmt.Errorf("programmer: write page %d: %w", page, err)
		}
		st, err := hal.Poll(p.h.ReadStatus, p.budget)
		if err := check("write", page, st, err); err != nil {
			return written, err
		}
		if p.verify {
			if err := p.verifyPage(buf[:n], back[:n], page); err != nil {
				return written, err
			}
		}
		written += n
		p.progress(uint32(written), 0)
	}
	p.log.Debug("programmed", slog.Uint64("page", uint64(startPage)), slog.Int("bytes", written))
	return written, nil
}

func (p *Programmer) verifyPage(want, got []byte, page uint32) error {
	st, err := p.h.ReadPage(got, page)
	if err := check("verify", page, st, err); err != nil {
		return err
	}
	if bytes.Equal(got, want) {
		return nil
	}
	for i := range want {
		if got[i] != want[i] {
			return &VerifyError{Page: page, Off: i, Got: got[i], Want: want[i]}
		}
	}
	return nil
}

func aligned[T constraints.Unsigned](v, n T) bool {
	return v%n == 0
}

func divUp[T constraints.Unsigned](v, n T) T {
	return (v + n - 1) / n
}
