package filestorage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cenkalti/rainfetch/internal/storage"
)

func TestWritePieces(t *testing.T) {
	dir := t.TempDir()
	sto, err := New(dir)
	require.NoError(t, err)

	files, err := storage.Open(sto, []storage.FileSpec{
		{Path: "a.txt", Length: 3},
		{Path: filepath.Join("sub", "empty"), Length: 0},
		{Path: filepath.Join("sub", "b.txt"), Length: 7},
	})
	require.NoError(t, err)

	// Piece length 4, written out of order.
	require.NoError(t, files.WritePiece(2, 4, []byte("89")))
	require.NoError(t, files.WritePiece(0, 4, []byte("0123")))
	require.NoError(t, files.WritePiece(1, 4, []byte("4567")))
	assert.Error(t, files.WritePiece(3, 4, []byte("x")))

	b, err := files.ReadPiece(1, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, "4567", string(b))
	require.NoError(t, files.Close())

	a, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "012", string(a))
	b, err = os.ReadFile(filepath.Join(dir, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "3456789", string(b))
	fi, err := os.Stat(filepath.Join(dir, "sub", "empty"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), fi.Size())
}

func TestOpenTruncates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("too long"), 0600))
	sto, err := New(dir)
	require.NoError(t, err)

	f, exists, err := sto.Open("f", 3)
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, f.Close())
	fi, err := os.Stat(filepath.Join(dir, "f"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), fi.Size())
}

func TestOpenOutsideDest(t *testing.T) {
	sto, err := New(t.TempDir())
	require.NoError(t, err)
	_, _, err = sto.Open(filepath.Join("..", "x"), 1)
	assert.Error(t, err)
}
