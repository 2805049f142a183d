package torrent

import (
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// Config for a Client. Zero values are not valid; start from DefaultConfig.
type Config struct {
	// Prefix of the peer id sent in handshakes. The rest of the 20 bytes are random.
	PeerIDPrefix string `yaml:"peer-id-prefix"`
	// Port reported to trackers. Incoming connections are not accepted.
	Port int `yaml:"port"`
	// Downloaded files are put here.
	DataDir string `yaml:"data-dir"`

	// Time to wait for TCP connection to open.
	ConnectTimeout time.Duration `yaml:"connect-timeout"`
	// Time to wait for BitTorrent handshake to complete.
	HandshakeTimeout time.Duration `yaml:"handshake-timeout"`
	// Time to wait for the next message from a peer.
	ReadTimeout time.Duration `yaml:"read-timeout"`
	// Max time to spend downloading a single piece from a peer.
	PieceTimeout time.Duration `yaml:"piece-timeout"`
	// Max number of blocks requested from a peer but not received yet.
	RequestQueueLength int `yaml:"request-queue-length"`
	// Number of pieces downloaded at the same time. Zero means one per peer.
	ParallelPieceDownloads int `yaml:"parallel-piece-downloads"`
	// A piece is given up after it fails on MaxPieceRetries+1 attempts.
	MaxPieceRetries int `yaml:"max-piece-retries"`
	// Delays between attempts of a piece grow exponentially between these values.
	RetryInitialInterval time.Duration `yaml:"retry-initial-interval"`
	RetryMaxInterval     time.Duration `yaml:"retry-max-interval"`
	// Download speed limit in bytes per second shared by all peers. Zero means unlimited.
	SpeedLimitDownload int64 `yaml:"speed-limit-download"`

	// Total time to wait for a tracker response.
	TrackerTimeout time.Duration `yaml:"tracker-timeout"`
	// Tracker responses larger than this are rejected.
	TrackerMaxResponseLength int64 `yaml:"tracker-max-response-length"`
	// Number of peer addresses to request in announce request.
	NumWant int `yaml:"num-want"`
	// User agent sent to HTTP trackers.
	UserAgent string `yaml:"user-agent"`
}

// DefaultConfig for a Client.
var DefaultConfig = Config{
	PeerIDPrefix: "-RF0001-",
	Port:         6881,
	DataDir:      ".",

	ConnectTimeout:         5 * time.Second,
	HandshakeTimeout:       10 * time.Second,
	ReadTimeout:            30 * time.Second,
	PieceTimeout:           2 * time.Minute,
	RequestQueueLength:     5,
	ParallelPieceDownloads: 10,
	MaxPieceRetries:        5,
	RetryInitialInterval:   time.Second,
	RetryMaxInterval:       30 * time.Second,

	TrackerTimeout:           30 * time.Second,
	TrackerMaxResponseLength: 2 << 20,
	NumWant:                  50,
	UserAgent:                "rainfetch",
}

// LoadConfig reads the YAML file at filename on top of DefaultConfig.
// "~" in filename is expanded to the home directory of the user.
// DefaultConfig is returned if the file does not exist.
func LoadConfig(filename string) (*Config, error) {
	c := DefaultConfig
	filename, err := homedir.Expand(filename)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
