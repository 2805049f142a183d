// Package piece calculates piece and block boundaries of a torrent.
package piece

import (
	"errors"
)

// BlockSize is the size of the data requested from peers in a single request message.
const BlockSize = 16 * 1024

var errInvalidPieceData = errors.New("number of piece hashes does not match total length")

// Piece of a torrent.
type Piece struct {
	Index  uint32   // index in torrent
	Length uint32   // always equal to piece length except last piece.
	Hash   [20]byte // correct hash value
}

// NewPieces returns the pieces of a torrent with given total length.
// Every piece has pieceLength bytes except the last one, which has the remainder.
func NewPieces(pieceLength uint32, totalLength int64, hashes [][20]byte) ([]Piece, error) {
	if pieceLength == 0 || totalLength <= 0 {
		return nil, errInvalidPieceData
	}
	numPieces := NumPieces(pieceLength, totalLength)
	if int64(len(hashes)) != numPieces {
		return nil, errInvalidPieceData
	}
	pieces := make([]Piece, numPieces)
	for i := range pieces {
		length := pieceLength
		if i == len(pieces)-1 {
			length = uint32(totalLength - int64(pieceLength)*(numPieces-1))
		}
		pieces[i] = Piece{
			Index:  uint32(i),
			Length: length,
			Hash:   hashes[i],
		}
	}
	return pieces, nil
}

// NumPieces returns ceil(totalLength / pieceLength).
func NumPieces(pieceLength uint32, totalLength int64) int64 {
	div, mod := totalLength/int64(pieceLength), totalLength%int64(pieceLength)
	if mod != 0 {
		div++
	}
	return div
}

// NumBlocks returns the number of blocks in the piece.
func (p *Piece) NumBlocks() int {
	return NumBlocks(p.Length)
}

// CalculateBlocks returns the blocks of the piece in order.
func (p *Piece) CalculateBlocks() []Block {
	return Blocks(p.Length)
}

// GetBlock returns the block at index i.
func (p *Piece) GetBlock(i uint32) (Block, bool) {
	div, mod := divMod32(p.Length, BlockSize)
	numBlocks := div
	if mod != 0 {
		numBlocks++
	}
	if i >= numBlocks {
		return Block{}, false
	}
	var blen uint32
	if mod != 0 && i == numBlocks-1 {
		blen = mod
	} else {
		blen = BlockSize
	}
	return Block{
		Index:  i,
		Begin:  i * BlockSize,
		Length: blen,
	}, true
}

// FindBlock returns the block at offset `begin` and length `length`.
func (p *Piece) FindBlock(begin, length uint32) (Block, bool) {
	idx, mod := divMod32(begin, BlockSize)
	if mod != 0 {
		return Block{}, false
	}
	b, ok := p.GetBlock(idx)
	if !ok {
		return Block{}, false
	}
	if b.Length != length {
		return Block{}, false
	}
	return b, true
}

func divMod32(a, b uint32) (uint32, uint32) { return a / b, a % b }
