package downloader

import (
	"errors"

	"github.com/cenkalti/rainfetch/internal/piece"
)

var (
	errInvalidPieceLength = errors.New("piece length must be positive")
	errInvalidTotalLength = errors.New("total length must be positive")
	errInvalidPieceHashes = errors.New("number of piece hashes does not match total length")
)

// Meta is the information needed to download and verify the pieces of a torrent.
type Meta struct {
	PieceLength uint32
	TotalLength int64
	PieceHashes [][20]byte
	InfoHash    [20]byte
}

// Validate returns an error if piece hashes do not cover the total length.
func (m Meta) Validate() error {
	if m.PieceLength == 0 {
		return errInvalidPieceLength
	}
	if m.TotalLength <= 0 {
		return errInvalidTotalLength
	}
	if int64(len(m.PieceHashes)) != piece.NumPieces(m.PieceLength, m.TotalLength) {
		return errInvalidPieceHashes
	}
	return nil
}

// NumPieces returns the number of pieces in the torrent.
func (m Meta) NumPieces() int {
	return len(m.PieceHashes)
}

// PieceLengthOf returns the length of the piece at index i.
// The last piece may be shorter than PieceLength.
func (m Meta) PieceLengthOf(i uint32) uint32 {
	if int(i) == len(m.PieceHashes)-1 {
		return uint32(m.TotalLength - int64(m.PieceLength)*int64(i))
	}
	return m.PieceLength
}
