// Package bitfield implements the piece availability map peers exchange in bitfield messages.
package bitfield

import (
	"encoding/hex"
	"errors"
)

var (
	// ErrInvalidLength is returned from FromBytes when the byte count does not match the bit count.
	ErrInvalidLength = errors.New("invalid bitfield length")
	// ErrSpareBitsSet is returned from FromBytes when padding bits in the last byte are set.
	ErrSpareBitsSet = errors.New("spare bits in bitfield are set")
)

// Bitfield is a fixed length bit array. Bit 0 is the most significant bit of the first byte.
type Bitfield struct {
	b      []byte
	length uint32
}

// New creates a new Bitfield of length bits.
func New(length uint32) *Bitfield {
	return &Bitfield{b: make([]byte, NumBytes(length)), length: length}
}

// FromBytes returns a new Bitfield from b, which is received from a remote peer.
// Bytes in b are copied. Unlike New, it validates the input instead of panicking.
func FromBytes(b []byte, length uint32) (*Bitfield, error) {
	if uint32(len(b)) != NumBytes(length) {
		return nil, ErrInvalidLength
	}
	if mod := length % 8; mod != 0 && b[len(b)-1]&(0xff>>mod) != 0 {
		return nil, ErrSpareBitsSet
	}
	bf := New(length)
	copy(bf.b, b)
	return bf, nil
}

// NumBytes returns the number of bytes needed to hold length bits.
func NumBytes(length uint32) uint32 {
	return (length + 7) / 8
}

// Bytes returns bytes in b. If you modify the returned slice the bits in b are modified too.
func (b *Bitfield) Bytes() []byte { return b.b }

// Len returns the number of bits as given to New.
func (b *Bitfield) Len() uint32 { return b.length }

// Hex returns bytes as string.
func (b *Bitfield) Hex() string { return hex.EncodeToString(b.b) }

// Set bit i. Panics if i >= b.Len().
func (b *Bitfield) Set(i uint32) {
	b.checkIndex(i)
	div, mod := divMod32(i, 8)
	b.b[div] |= 1 << (7 - mod)
}

// Clear bit i. Panics if i >= b.Len().
func (b *Bitfield) Clear(i uint32) {
	b.checkIndex(i)
	div, mod := divMod32(i, 8)
	b.b[div] &= ^(1 << (7 - mod))
}

// Test bit i. Returns false if i is out of range.
func (b *Bitfield) Test(i uint32) bool {
	if i >= b.length {
		return false
	}
	div, mod := divMod32(i, 8)
	return (b.b[div] & (1 << (7 - mod))) > 0
}

// Count returns the count of set bits.
func (b *Bitfield) Count() uint32 {
	var total uint32
	for _, v := range b.b {
		for ; v != 0; v &= v - 1 {
			total++
		}
	}
	return total
}

// All returns true if all bits are set, false otherwise.
func (b *Bitfield) All() bool {
	return b.Count() == b.length
}

func (b *Bitfield) checkIndex(i uint32) {
	if i >= b.Len() {
		panic("index out of bound")
	}
}

func divMod32(a, b uint32) (uint32, uint32) { return a / b, a % b }
