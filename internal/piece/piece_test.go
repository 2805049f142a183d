package piece

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumBlocks(t *testing.T) {
	p := Piece{Length: 2 * 16 * 1024}
	assert.Equal(t, 2, p.NumBlocks())

	p = Piece{Length: 2*16*1024 + 42}
	assert.Equal(t, 3, p.NumBlocks())

	p = Piece{Length: 2}
	assert.Equal(t, 1, p.NumBlocks())
}

func TestCalculateBlocks(t *testing.T) {
	p := Piece{Length: 2*BlockSize + 42}
	assert.Equal(t, []Block{
		{Index: 0, Begin: 0, Length: BlockSize},
		{Index: 1, Begin: BlockSize, Length: BlockSize},
		{Index: 2, Begin: 2 * BlockSize, Length: 42},
	}, p.CalculateBlocks())

	assert.Equal(t, []Block{{Index: 0, Begin: 0, Length: 4}}, Blocks(4))
}

func TestGetBlock(t *testing.T) {
	p := Piece{
		Index:  1,
		Length: 2*16*1024 + 42,
	}

	_, ok := p.GetBlock(3)
	assert.False(t, ok)

	b, ok := p.GetBlock(0)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 0, Begin: 0, Length: 16 * 1024}, b)

	b, ok = p.GetBlock(2)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 2, Begin: 2 * 16 * 1024, Length: 42}, b)
}

func TestFindBlock(t *testing.T) {
	p := Piece{
		Index:  1,
		Length: 2*BlockSize + 42,
	}

	_, ok := p.FindBlock(55, BlockSize)
	assert.False(t, ok)

	_, ok = p.FindBlock(3*BlockSize, BlockSize)
	assert.False(t, ok)

	_, ok = p.FindBlock(0, 1234)
	assert.False(t, ok)

	b, ok := p.FindBlock(BlockSize, BlockSize)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 1, Begin: BlockSize, Length: BlockSize}, b)

	b, ok = p.FindBlock(2*BlockSize, 42)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 2, Begin: 2 * BlockSize, Length: 42}, b)
}

func TestNewPieces(t *testing.T) {
	hashes := make([][20]byte, 3)
	pieces, err := NewPieces(4, 10, hashes)
	require.NoError(t, err)
	require.Len(t, pieces, 3)
	assert.Equal(t, uint32(4), pieces[0].Length)
	assert.Equal(t, uint32(4), pieces[1].Length)
	assert.Equal(t, uint32(2), pieces[2].Length)
	assert.Equal(t, uint32(2), pieces[2].Index)

	pieces, err = NewPieces(5, 10, hashes[:2])
	require.NoError(t, err)
	assert.Equal(t, uint32(5), pieces[1].Length)

	_, err = NewPieces(4, 10, hashes[:2])
	assert.Error(t, err)

	_, err = NewPieces(0, 10, hashes)
	assert.Error(t, err)
}
