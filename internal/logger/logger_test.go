package logger

import (
	"io"
	"os"
	"testing"

	"github.com/cenkalti/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDebug(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	SetHandler(log.NewFileHandler(w))
	defer SetHandler(log.NewFileHandler(os.Stderr))
	defer SetDebug(false)

	l := New("test")
	SetDebug(true)
	l.Debug("visible")
	SetDebug(false)
	l.Debug("hidden")
	l.Info("shown")
	require.NoError(t, w.Close())

	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), "visible")
	assert.Contains(t, string(b), "shown")
	assert.NotContains(t, string(b), "hidden")
	assert.Contains(t, string(b), "[test]")
}
