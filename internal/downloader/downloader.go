// Package downloader downloads all pieces of a torrent from a fixed list of peers.
package downloader

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/gofrs/uuid"
	"github.com/rcrowley/go-metrics"

	"github.com/cenkalti/rainfetch/internal/logger"
	"github.com/cenkalti/rainfetch/internal/peersession"
	"github.com/cenkalti/rainfetch/internal/piece"
)

// ErrRetriesExhausted is recorded for a piece that has failed on every attempt.
// The error of the last attempt is wrapped.
var ErrRetriesExhausted = errors.New("retries exhausted")

var errNoPeers = errors.New("no peers to download from")

const speedTickPeriod = 5 * time.Second

// Outcome is the terminal result of a piece.
type Outcome struct {
	Index uint32
	// Verified piece data. Nil if Err is not nil.
	Data []byte
	Err  error
	// Number of attempts made for the piece.
	Attempts int
	// Address of the peer that served the piece or the peer of the last failed attempt.
	Peer string
}

// Downloader assigns piece downloads to peers and retries failed pieces on other peers.
type Downloader struct {
	// OnPiece is called from Run for each piece as soon as its Outcome is recorded.
	OnPiece func(Outcome)
	// OnProgress is called from Run periodically while pieces are downloading.
	OnProgress func(Stats)

	id     string
	meta   Meta
	peers  []string
	pieces []piece.Piece
	config Config
	peerID [20]byte
	log    logger.Logger
	// how often speed is updated and progress is reported
	tickPeriod time.Duration

	attemptsStarted metrics.Counter
	piecesCompleted metrics.Counter
	piecesFailed    metrics.Counter
	bytesDownloaded metrics.Counter
	downloadSpeed   metrics.EWMA
}

// New returns a Downloader for the torrent described by meta.
// Pieces are requested from peers with peer id ourID.
func New(meta Meta, peers []string, cfg Config, ourID [20]byte) (*Downloader, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		return nil, errNoPeers
	}
	pieces, err := piece.NewPieces(meta.PieceLength, meta.TotalLength, meta.PieceHashes)
	if err != nil {
		return nil, err
	}
	u1, err := uuid.NewV1()
	if err != nil {
		return nil, err
	}
	id := base64.RawURLEncoding.EncodeToString(u1[:])
	return &Downloader{
		id:              id,
		meta:            meta,
		peers:           append([]string(nil), peers...),
		pieces:          pieces,
		config:          cfg,
		peerID:          ourID,
		log:             logger.New("download " + id),
		tickPeriod:      speedTickPeriod,
		attemptsStarted: metrics.NewCounter(),
		piecesCompleted: metrics.NewCounter(),
		piecesFailed:    metrics.NewCounter(),
		bytesDownloaded: metrics.NewCounter(),
		downloadSpeed:   metrics.NewEWMA1(),
	}, nil
}

// ID is a unique identifier of the Downloader. It appears in log messages.
func (d *Downloader) ID() string {
	return d.id
}

// attempt is a single try to download a piece from a peer.
type attempt struct {
	index uint32
	peer  string
}

type attemptResult struct {
	attempt
	data []byte
	err  error
}

// run holds the state of a single call to Run. It is accessed only from the Run goroutine.
type run struct {
	outcomes []Outcome
	done     []bool
	failures []int
	backoffs []*backoff.ExponentialBackOff
	timers   map[uint32]*time.Timer
	queue    []uint32
	running  int
}

// Run downloads all pieces and returns an Outcome for each of them, ordered by piece index.
// Pieces that are not finished when ctx is cancelled get ctx.Err() as their error.
// Run returns after all started attempts have returned.
func (d *Downloader) Run(ctx context.Context) []Outcome {
	n := len(d.pieces)
	r := &run{
		outcomes: make([]Outcome, n),
		done:     make([]bool, n),
		failures: make([]int, n),
		backoffs: make([]*backoff.ExponentialBackOff, n),
		timers:   make(map[uint32]*time.Timer),
		queue:    make([]uint32, n),
	}
	for i := range r.queue {
		r.queue[i] = uint32(i)
	}
	parallel := d.config.ParallelPieceDownloads
	if parallel <= 0 {
		parallel = len(d.peers)
	}
	resultC := make(chan attemptResult)
	// Each piece has at most one pending retry, so timers never block on send.
	retryC := make(chan uint32, n)

	speedTicker := time.NewTicker(d.tickPeriod)
	defer speedTicker.Stop()

	d.log.Infof("Downloading %d pieces from %d peers", n, len(d.peers))
	remaining := n
loop:
	for remaining > 0 {
		for ctx.Err() == nil && r.running < parallel && len(r.queue) > 0 {
			i := r.queue[0]
			r.queue = r.queue[1:]
			a := attempt{index: i, peer: d.peers[(int(i)+r.failures[i])%len(d.peers)]}
			d.log.Debugf("Downloading piece #%d from %s (attempt %d)", i, a.peer, r.failures[i]+1)
			r.running++
			d.attemptsStarted.Inc(1)
			go func() {
				data, err := d.download(ctx, a)
				resultC <- attemptResult{attempt: a, data: data, err: err}
			}()
		}
		select {
		case res := <-resultC:
			r.running--
			if res.err != nil && ctx.Err() != nil {
				break loop
			}
			if d.handleResult(r, res, retryC) {
				remaining--
			}
		case i := <-retryC:
			delete(r.timers, i)
			r.queue = append(r.queue, i)
		case <-speedTicker.C:
			d.downloadSpeed.Tick()
			d.reportProgress()
		case <-ctx.Done():
			break loop
		}
	}
	for _, t := range r.timers {
		t.Stop()
	}
	for r.running > 0 {
		res := <-resultC
		r.running--
		if res.err == nil {
			d.handleResult(r, res, retryC)
		}
	}
	for i := range r.outcomes {
		if !r.done[i] {
			d.record(r, Outcome{Index: uint32(i), Err: ctx.Err(), Attempts: r.failures[i]})
		}
	}
	d.log.Infof("Finished: %d pieces downloaded, %d failed", d.piecesCompleted.Count(), d.piecesFailed.Count())
	return r.outcomes
}

// handleResult records the outcome of a piece or schedules a retry.
// Returns true if the piece has reached a terminal outcome.
func (d *Downloader) handleResult(r *run, res attemptResult, retryC chan uint32) bool {
	i := res.index
	if r.done[i] {
		return false
	}
	if res.err == nil {
		d.bytesDownloaded.Inc(int64(len(res.data)))
		d.downloadSpeed.Update(int64(len(res.data)))
		d.piecesCompleted.Inc(1)
		d.record(r, Outcome{Index: i, Data: res.data, Attempts: r.failures[i] + 1, Peer: res.peer})
		return true
	}
	r.failures[i]++
	if r.failures[i] > d.config.MaxPieceRetries {
		d.log.Errorf("Giving up piece #%d after %d attempts: %s", i, r.failures[i], res.err)
		d.piecesFailed.Inc(1)
		d.record(r, Outcome{
			Index:    i,
			Err:      fmt.Errorf("%w: %w", ErrRetriesExhausted, res.err),
			Attempts: r.failures[i],
			Peer:     res.peer,
		})
		return true
	}
	delay := d.nextBackOff(r, i)
	d.log.Warningf("Piece #%d failed on %s, retrying in %s: %s", i, res.peer, delay, res.err)
	r.timers[i] = time.AfterFunc(delay, func() { retryC <- i })
	return false
}

func (d *Downloader) nextBackOff(r *run, i uint32) time.Duration {
	b := r.backoffs[i]
	if b == nil {
		b = &backoff.ExponentialBackOff{
			InitialInterval:     d.config.RetryInitialInterval,
			RandomizationFactor: 0.5,
			Multiplier:          2,
			MaxInterval:         d.config.RetryMaxInterval,
			MaxElapsedTime:      0, // never stop
			Clock:               backoff.SystemClock,
		}
		b.Reset()
		r.backoffs[i] = b
	}
	return b.NextBackOff()
}

func (d *Downloader) record(r *run, o Outcome) {
	r.outcomes[o.Index] = o
	r.done[o.Index] = true
	if d.OnPiece != nil {
		d.OnPiece(o)
	}
}

// download opens a new connection to the peer, downloads a single piece and closes the connection.
func (d *Downloader) download(ctx context.Context, a attempt) ([]byte, error) {
	s, err := peersession.Dial(ctx, a.peer, d.config.Session, d.meta.InfoHash, d.peerID, uint32(len(d.pieces)))
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if err = s.Start(ctx); err != nil {
		return nil, err
	}
	p := d.pieces[a.index]
	return s.DownloadPiece(ctx, p.Index, p.Length, p.Hash)
}

func (d *Downloader) reportProgress() {
	st := d.Stats()
	d.log.Infof("Progress: %d/%d pieces, %d failed, %d bytes downloaded, %d B/s",
		st.Pieces.Completed, st.Pieces.Total, st.Pieces.Failed, st.BytesDownloaded, st.Speed)
	if d.OnProgress != nil {
		d.OnProgress(st)
	}
}

// Stats about a Downloader.
type Stats struct {
	Pieces struct {
		Total     int
		Completed int64
		Failed    int64
	}
	// Number of piece downloads started, including retries.
	Attempts        int64
	BytesDownloaded int64
	// Bytes per second.
	Speed int
}

// Stats returns statistics about the Downloader. It is safe to call from any goroutine.
func (d *Downloader) Stats() Stats {
	var s Stats
	s.Pieces.Total = len(d.pieces)
	s.Pieces.Completed = d.piecesCompleted.Count()
	s.Pieces.Failed = d.piecesFailed.Count()
	s.Attempts = d.attemptsStarted.Count()
	s.BytesDownloaded = d.bytesDownloaded.Count()
	s.Speed = int(d.downloadSpeed.Rate())
	return s
}
