package peersession

import (
	"time"

	"github.com/juju/ratelimit"
)

// Config for a Session.
type Config struct {
	// Time to wait for TCP connection to open.
	ConnectTimeout time.Duration
	// Time to wait for BitTorrent handshake to complete.
	HandshakeTimeout time.Duration
	// Time to wait for the next message from the peer.
	// Bitfield and unchoke must also arrive within this duration after the handshake.
	ReadTimeout time.Duration
	// Max time to spend downloading a single piece. Zero means no limit.
	PieceTimeout time.Duration
	// Max number of blocks requested from the peer but not received yet.
	RequestQueueLength int
	// If not nil, reads from the peer are throttled by this bucket.
	Bucket *ratelimit.Bucket
}

// DefaultConfig for a Session.
var DefaultConfig = Config{
	ConnectTimeout:     5 * time.Second,
	HandshakeTimeout:   10 * time.Second,
	ReadTimeout:        30 * time.Second,
	PieceTimeout:       2 * time.Minute,
	RequestQueueLength: 5,
}
