package torrent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissing(t *testing.T) {
	c, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig, *c)
}

func TestLoadConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("port: 6000\nread-timeout: 5s\nmax-piece-retries: 2\nspeed-limit-download: 1024\n")
	require.NoError(t, os.WriteFile(filename, data, 0600))

	c, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, 6000, c.Port)
	assert.Equal(t, 5*time.Second, c.ReadTimeout)
	assert.Equal(t, 2, c.MaxPieceRetries)
	assert.Equal(t, int64(1024), c.SpeedLimitDownload)
	// Not in file
	assert.Equal(t, DefaultConfig.RequestQueueLength, c.RequestQueueLength)
	assert.Equal(t, DefaultConfig.PeerIDPrefix, c.PeerIDPrefix)
}

func TestLoadConfigInvalid(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("port: [1, 2"), 0600))
	_, err := LoadConfig(filename)
	assert.Error(t, err)
}
