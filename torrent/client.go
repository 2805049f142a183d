// Package torrent downloads torrents from a list of peers or from the peers returned by trackers.
package torrent

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/juju/ratelimit"

	"github.com/cenkalti/rainfetch/internal/downloader"
	"github.com/cenkalti/rainfetch/internal/logger"
	"github.com/cenkalti/rainfetch/internal/metainfo"
	"github.com/cenkalti/rainfetch/internal/peersession"
	"github.com/cenkalti/rainfetch/internal/storage"
	"github.com/cenkalti/rainfetch/internal/storage/filestorage"
	"github.com/cenkalti/rainfetch/internal/tracker"
	"github.com/cenkalti/rainfetch/internal/tracker/httptracker"
)

// Meta is the information needed to download and verify the pieces of a torrent.
type Meta = downloader.Meta

// Outcome is the terminal result of a piece.
type Outcome = downloader.Outcome

var (
	// ErrNoTrackers is returned when the torrent has no supported tracker.
	ErrNoTrackers = errors.New("torrent has no http tracker")
	// ErrNoPeers is returned when trackers do not return any peer.
	ErrNoPeers = errors.New("no peers found")
	// ErrDownloadFailed is returned from Client.DownloadFile when some of the pieces could not be downloaded.
	ErrDownloadFailed = errors.New("download failed")
	// ErrInvalidPieceIndex is returned when the requested piece is not in the torrent.
	ErrInvalidPieceIndex = errors.New("invalid piece index")
)

// Client downloads torrents.
type Client struct {
	config Config
	peerID [20]byte
	bucket *ratelimit.Bucket
	log    logger.Logger
}

// New returns a new Client. A random peer id is generated for the Client.
func New(cfg Config) (*Client, error) {
	if len(cfg.PeerIDPrefix) > 20 {
		return nil, fmt.Errorf("peer id prefix is too long: %q", cfg.PeerIDPrefix)
	}
	peerID, err := generatePeerID(cfg.PeerIDPrefix)
	if err != nil {
		return nil, err
	}
	c := &Client{
		config: cfg,
		peerID: peerID,
		log:    logger.New("client"),
	}
	if cfg.SpeedLimitDownload > 0 {
		c.bucket = ratelimit.NewBucketWithRate(float64(cfg.SpeedLimitDownload), cfg.SpeedLimitDownload)
	}
	return c, nil
}

func generatePeerID(prefix string) ([20]byte, error) {
	var id [20]byte
	copy(id[:], prefix)
	_, err := rand.Read(id[len(prefix):])
	return id, err
}

// PeerID is sent to peers in handshakes and to trackers in announces.
func (c *Client) PeerID() [20]byte { return c.peerID }

func (c *Client) sessionConfig() peersession.Config {
	return peersession.Config{
		ConnectTimeout:     c.config.ConnectTimeout,
		HandshakeTimeout:   c.config.HandshakeTimeout,
		ReadTimeout:        c.config.ReadTimeout,
		PieceTimeout:       c.config.PieceTimeout,
		RequestQueueLength: c.config.RequestQueueLength,
		Bucket:             c.bucket,
	}
}

func (c *Client) downloaderConfig() downloader.Config {
	return downloader.Config{
		Session:                c.sessionConfig(),
		ParallelPieceDownloads: c.config.ParallelPieceDownloads,
		MaxPieceRetries:        c.config.MaxPieceRetries,
		RetryInitialInterval:   c.config.RetryInitialInterval,
		RetryMaxInterval:       c.config.RetryMaxInterval,
	}
}

// MetaOf returns the download information of the torrent in mi.
func MetaOf(mi *metainfo.MetaInfo) Meta {
	return Meta{
		PieceLength: mi.Info.PieceLength,
		TotalLength: mi.Info.TotalLength,
		PieceHashes: mi.Info.PieceHashes(),
		InfoHash:    mi.Info.Hash,
	}
}

// Download all pieces of the torrent from peers.
// onPiece, if not nil, is called for each piece as soon as its Outcome is known.
// Returned outcomes are ordered by piece index.
func (c *Client) Download(ctx context.Context, meta Meta, peers []string, onPiece func(Outcome)) ([]Outcome, error) {
	d, err := downloader.New(meta, peers, c.downloaderConfig(), c.peerID)
	if err != nil {
		return nil, err
	}
	d.OnPiece = onPiece
	return d.Run(ctx), nil
}

// Announce the torrent to its trackers and return the peer addresses.
// Trackers are tried in order until one of them returns a response.
func (c *Client) Announce(ctx context.Context, mi *metainfo.MetaInfo) ([]string, error) {
	trackers := mi.Trackers()
	if len(trackers) == 0 {
		return nil, ErrNoTrackers
	}
	req := tracker.AnnounceRequest{
		Torrent: tracker.Torrent{
			BytesLeft: mi.Info.TotalLength,
			InfoHash:  mi.Info.Hash,
			PeerID:    c.peerID,
			Port:      c.config.Port,
		},
		Event:   tracker.EventStarted,
		NumWant: c.config.NumWant,
	}
	var lastErr error
	for _, rawURL := range trackers {
		u, err := url.Parse(rawURL)
		if err != nil {
			lastErr = err
			continue
		}
		trk := httptracker.New(u, c.config.TrackerTimeout, nil, c.config.UserAgent, c.config.TrackerMaxResponseLength)
		resp, err := trk.Announce(ctx, req)
		_ = trk.Close()
		if err != nil {
			c.log.Warningf("announce to %s failed: %s", rawURL, err)
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		peers := make([]string, 0, len(resp.Peers))
		for _, addr := range resp.Peers {
			peers = append(peers, addr.String())
		}
		c.log.Infof("tracker %s returned %d peers", rawURL, len(peers))
		return peers, nil
	}
	return nil, lastErr
}

// Handshake connects to the peer at addr and returns the peer id sent in its handshake.
func (c *Client) Handshake(ctx context.Context, mi *metainfo.MetaInfo, addr string) ([20]byte, error) {
	s, err := peersession.Dial(ctx, addr, c.sessionConfig(), mi.Info.Hash, c.peerID, mi.Info.NumPieces)
	if err != nil {
		return [20]byte{}, err
	}
	defer s.Close()
	return s.PeerID(), nil
}

// DownloadPiece downloads a single piece from the peer at addr and verifies it.
func (c *Client) DownloadPiece(ctx context.Context, mi *metainfo.MetaInfo, addr string, index uint32) ([]byte, error) {
	if index >= mi.Info.NumPieces {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPieceIndex, index)
	}
	s, err := peersession.Dial(ctx, addr, c.sessionConfig(), mi.Info.Hash, c.peerID, mi.Info.NumPieces)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if err = s.Start(ctx); err != nil {
		return nil, err
	}
	return s.DownloadPiece(ctx, index, mi.Info.PieceLengthOf(index), mi.Info.HashOf(index))
}

// DownloadFile downloads the torrent into dir.
// If peers is empty, peers are fetched from the trackers of the torrent.
// Verified pieces are written to files as they arrive.
func (c *Client) DownloadFile(ctx context.Context, mi *metainfo.MetaInfo, dir string, peers []string) error {
	if len(peers) == 0 {
		var err error
		peers, err = c.Announce(ctx, mi)
		if err != nil {
			return err
		}
		if len(peers) == 0 {
			return ErrNoPeers
		}
	}
	dest := dir
	if mi.Info.MultiFile() {
		dest = filepath.Join(dir, mi.Info.Name)
	}
	sto, err := filestorage.New(dest)
	if err != nil {
		return err
	}
	var specs []storage.FileSpec
	for _, f := range mi.Info.GetFiles() {
		specs = append(specs, storage.FileSpec{Path: filepath.Join(f.Path...), Length: f.Length})
	}
	files, err := storage.Open(sto, specs)
	if err != nil {
		return err
	}
	defer files.Close()

	var writeErr error
	onPiece := func(o Outcome) {
		if o.Err != nil || writeErr != nil {
			return
		}
		writeErr = files.WritePiece(o.Index, mi.Info.PieceLength, o.Data)
	}
	outcomes, err := c.Download(ctx, MetaOf(mi), peers, onPiece)
	if err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}
	var failed int
	var lastErr error
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			lastErr = o.Err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d pieces: %w", ErrDownloadFailed, failed, len(outcomes), lastErr)
	}
	return files.Close()
}
