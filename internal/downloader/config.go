package downloader

import (
	"time"

	"github.com/cenkalti/rainfetch/internal/peersession"
)

// Config for a Downloader.
type Config struct {
	// Settings for each peer connection.
	Session peersession.Config
	// Max number of piece downloads running at the same time.
	// Zero means one download per peer.
	ParallelPieceDownloads int
	// A piece is given up after it fails MaxPieceRetries+1 times.
	MaxPieceRetries int
	// Delay before the first retry of a failed piece. Following delays grow exponentially.
	RetryInitialInterval time.Duration
	// Delay between retries does not grow beyond this value.
	RetryMaxInterval time.Duration
}

// DefaultConfig for a Downloader.
var DefaultConfig = Config{
	Session:                peersession.DefaultConfig,
	ParallelPieceDownloads: 10,
	MaxPieceRetries:        5,
	RetryInitialInterval:   time.Second,
	RetryMaxInterval:       30 * time.Second,
}
