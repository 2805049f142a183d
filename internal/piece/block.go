package piece

// Block is part of a Piece that is specified in peerprotocol.RequestMessage.
type Block struct {
	Index  uint32 // index in piece
	Begin  uint32 // offset in piece
	Length uint32 // always equal to BlockSize except the last block of a piece.
}

// NumBlocks returns the number of blocks in a piece of given length.
func NumBlocks(pieceLength uint32) int {
	div, mod := divMod32(pieceLength, BlockSize)
	if mod != 0 {
		div++
	}
	return int(div)
}

// Blocks splits a piece of given length into blocks of BlockSize.
// The last block is sized to the remainder.
func Blocks(pieceLength uint32) []Block {
	div, mod := divMod32(pieceLength, BlockSize)
	numBlocks := div
	if mod != 0 {
		numBlocks++
	}
	blocks := make([]Block, numBlocks)
	for j := uint32(0); j < div; j++ {
		blocks[j] = Block{
			Index:  j,
			Begin:  j * BlockSize,
			Length: BlockSize,
		}
	}
	if mod != 0 {
		blocks[numBlocks-1] = Block{
			Index:  numBlocks - 1,
			Begin:  (numBlocks - 1) * BlockSize,
			Length: mod,
		}
	}
	return blocks
}
