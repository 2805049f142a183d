// Package assembler collects the blocks of a single piece and verifies the result.
package assembler

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"

	"github.com/google/btree"
)

var (
	// ErrOutOfRange is returned from Assembler.AcceptBlock when the block does not fit in the piece.
	ErrOutOfRange = errors.New("block is out of piece range")
	// ErrDuplicateBlock is returned from Assembler.AcceptBlock when the block overlaps with received data.
	ErrDuplicateBlock = errors.New("received duplicate block")
	// ErrIncomplete is returned from Assembler.Finalize when there are missing ranges.
	ErrIncomplete = errors.New("piece is not complete")
	// ErrHashMismatch is returned from Assembler.Finalize when the piece data does not match the expected hash.
	ErrHashMismatch = errors.New("piece hash mismatch")
	// ErrFinalized is returned when the Assembler is used after Finalize has returned a result.
	ErrFinalized = errors.New("piece is already finalized")
)

// span is a received byte range [begin, end) of the piece.
type span struct {
	begin, end uint32
}

func lessSpan(a, b span) bool { return a.begin < b.begin }

// Assembler accumulates blocks of a piece in arbitrary order.
// It is not safe for concurrent use. Each download attempt owns its own Assembler.
type Assembler struct {
	length   uint32
	received uint32
	buf      []byte
	spans    *btree.BTreeG[span] // non-overlapping, adjacent spans are merged
}

// New returns a new Assembler for a piece of length bytes.
func New(length uint32) *Assembler {
	return &Assembler{
		length: length,
		buf:    make([]byte, length),
		spans:  btree.NewG(2, lessSpan),
	}
}

// Length returns the expected length of the piece.
func (a *Assembler) Length() uint32 { return a.length }

// Received returns the number of bytes received so far.
func (a *Assembler) Received() uint32 { return a.received }

// AcceptBlock copies data into the piece buffer at offset.
// Rejected blocks leave the Assembler unchanged.
func (a *Assembler) AcceptBlock(offset uint32, data []byte) error {
	if a.buf == nil {
		return ErrFinalized
	}
	end := uint64(offset) + uint64(len(data))
	if len(data) == 0 || end > uint64(a.length) {
		return fmt.Errorf("%w: [%d, %d) length %d", ErrOutOfRange, offset, end, a.length)
	}
	s := span{begin: offset, end: uint32(end)}

	prev, hasPrev := a.before(s.begin)
	if hasPrev && prev.end > s.begin {
		return fmt.Errorf("%w: [%d, %d)", ErrDuplicateBlock, s.begin, s.end)
	}
	next, hasNext := a.after(s.begin)
	if hasNext && next.begin < s.end {
		return fmt.Errorf("%w: [%d, %d)", ErrDuplicateBlock, s.begin, s.end)
	}

	copy(a.buf[s.begin:s.end], data)
	a.received += s.end - s.begin

	merged := s
	if hasPrev && prev.end == s.begin {
		a.spans.Delete(prev)
		merged.begin = prev.begin
	}
	if hasNext && next.begin == s.end {
		a.spans.Delete(next)
		merged.end = next.end
	}
	a.spans.ReplaceOrInsert(merged)
	return nil
}

// before returns the span with the greatest begin offset <= offset.
func (a *Assembler) before(offset uint32) (s span, ok bool) {
	a.spans.DescendLessOrEqual(span{begin: offset}, func(item span) bool {
		s, ok = item, true
		return false
	})
	return
}

// after returns the span with the smallest begin offset >= offset.
func (a *Assembler) after(offset uint32) (s span, ok bool) {
	a.spans.AscendGreaterOrEqual(span{begin: offset}, func(item span) bool {
		s, ok = item, true
		return false
	})
	return
}

// Complete returns true when received ranges cover the whole piece.
func (a *Assembler) Complete() bool {
	return a.received == a.length
}

// Finalize verifies the assembled piece against expectedHash and returns the data.
// After a hash check, successful or not, the Assembler cannot be used anymore.
func (a *Assembler) Finalize(expectedHash [20]byte) ([]byte, error) {
	if a.buf == nil {
		return nil, ErrFinalized
	}
	if !a.Complete() {
		return nil, fmt.Errorf("%w: %d of %d bytes", ErrIncomplete, a.received, a.length)
	}
	buf := a.buf
	a.buf = nil
	a.spans.Clear(false)
	sum := sha1.Sum(buf) // nolint: gosec
	if sum != expectedHash {
		return nil, fmt.Errorf("%w: got %x, want %x", ErrHashMismatch, sum, expectedHash)
	}
	return buf, nil
}
