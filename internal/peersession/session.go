// Package peersession implements a single connection to a peer that downloads pieces.
package peersession

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"time"

	"github.com/juju/ratelimit"

	"github.com/cenkalti/rainfetch/internal/assembler"
	"github.com/cenkalti/rainfetch/internal/bitfield"
	"github.com/cenkalti/rainfetch/internal/btconn"
	"github.com/cenkalti/rainfetch/internal/logger"
	"github.com/cenkalti/rainfetch/internal/peerprotocol"
	"github.com/cenkalti/rainfetch/internal/piece"
	"github.com/cenkalti/rainfetch/internal/stringutil"
)

var (
	// ErrTimeout is returned when the peer does not send anything in the configured duration.
	ErrTimeout = errors.New("peer timed out")
	// ErrProtocol is returned when the peer violates the peer wire protocol.
	ErrProtocol = errors.New("protocol violation")
	// ErrPieceNotAvailable is returned from Session.DownloadPiece when the peer does not have the piece.
	ErrPieceNotAvailable = errors.New("peer does not have the piece")
	// ErrNotUnchoked is returned from Session.DownloadPiece when the session is not ready for requests.
	ErrNotUnchoked = errors.New("session is not unchoked")
)

// length + msgid + piece header + block
const readBufferSize = 4 + 1 + 8 + piece.BlockSize

// Session is a connection to a single peer. It is not safe for concurrent use.
// The Session owns the connection and closes it in Close.
type Session struct {
	conn      net.Conn
	r         io.Reader
	log       logger.Logger
	config    Config
	peerID    [20]byte
	numPieces uint32
	state     State

	// pieces the peer has
	bitfield *bitfield.Bitfield
	// true after bitfield or first have message is received
	availabilityKnown bool
	// peer is choking us
	peerChoking bool
}

// Dial connects to the peer at addr and completes the BitTorrent handshake.
// numPieces is used to validate the bitfield sent by the peer.
func Dial(ctx context.Context, addr string, cfg Config, infoHash, ourID [20]byte, numPieces uint32) (*Session, error) {
	conn, hs, err := btconn.Dial(ctx, addr, cfg.ConnectTimeout, cfg.HandshakeTimeout, infoHash, ourID)
	if err != nil {
		return nil, err
	}
	s := New(conn, cfg, numPieces, hs.PeerID)
	s.log.Debugf("Connected to peer %q", stringutil.Printable(string(hs.PeerID[:8])))
	return s, nil
}

// New returns a Session on a connection that has completed the handshake.
// A RequestQueueLength below 1 is treated as 1.
func New(conn net.Conn, cfg Config, numPieces uint32, peerID [20]byte) *Session {
	if cfg.RequestQueueLength < 1 {
		cfg.RequestQueueLength = 1
	}
	var r io.Reader = conn
	if cfg.Bucket != nil {
		r = ratelimit.Reader(conn, cfg.Bucket)
	}
	return &Session{
		conn:        conn,
		r:           bufio.NewReaderSize(r, readBufferSize),
		log:         logger.New("peer -> " + conn.RemoteAddr().String()),
		config:      cfg,
		peerID:      peerID,
		numPieces:   numPieces,
		state:       AwaitingBitfield,
		bitfield:    bitfield.New(numPieces),
		peerChoking: true,
	}
}

// Addr returns the remote address of the peer.
func (s *Session) Addr() string {
	return s.conn.RemoteAddr().String()
}

// PeerID returns the id sent by the peer in handshake.
func (s *Session) PeerID() [20]byte {
	return s.peerID
}

// State returns the current state of the Session.
func (s *Session) State() State {
	return s.state
}

// HasPiece returns true if the peer has advertised the piece.
func (s *Session) HasPiece(index uint32) bool {
	return s.bitfield.Test(index)
}

// Close the underlying connection.
func (s *Session) Close() error {
	s.state = Closed
	return s.conn.Close()
}

// Start waits for the availability information of the peer, declares interest and waits until the peer unchokes us.
// All of this must happen within ReadTimeout.
func (s *Session) Start(ctx context.Context) (err error) {
	if s.state != AwaitingBitfield {
		return fmt.Errorf("cannot start session in %q state", s.state)
	}
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()
	defer func() { err = s.wrapError(ctx, err) }()

	deadline := time.Now().Add(s.config.ReadTimeout)
	for !s.availabilityKnown {
		msg, err := s.readMessage(deadline)
		if err != nil {
			return err
		}
		switch msg := msg.(type) {
		case peerprotocol.BitfieldMessage:
			if err = s.handleBitfield(msg); err != nil {
				return err
			}
		case peerprotocol.HaveMessage:
			if err = s.handleHave(msg); err != nil {
				return err
			}
		case peerprotocol.ChokeMessage:
			s.log.Debug("Received choke before bitfield")
			s.peerChoking = true
		case peerprotocol.UnchokeMessage:
			s.log.Debug("Received unchoke before bitfield")
			s.peerChoking = false
		default:
			s.log.Debugf("Ignoring %q message before bitfield", msg.ID())
		}
	}
	s.state = Idle

	if err = s.writeMessage(peerprotocol.InterestedMessage{}); err != nil {
		return err
	}
	s.state = Interested

	for s.peerChoking {
		msg, err := s.readMessage(deadline)
		if err != nil {
			return err
		}
		if err = s.handleMessage(msg); err != nil {
			return err
		}
	}
	s.state = Unchoked
	if s.bitfield.All() {
		s.log.Debug("Unchoked. Peer is a seeder.")
	} else {
		s.log.Debugf("Unchoked. Peer has %d of %d pieces.", s.bitfield.Count(), s.numPieces)
	}
	return nil
}

// DownloadPiece requests all blocks of the piece, assembles them and verifies the piece against hash.
// The Session must be in Unchoked state.
// Choke messages received while downloading pause the download until the peer unchokes again.
func (s *Session) DownloadPiece(ctx context.Context, index, length uint32, hash [20]byte) (data []byte, err error) {
	if s.state != Unchoked {
		return nil, fmt.Errorf("%w: %s", ErrNotUnchoked, s.state)
	}
	if !s.bitfield.Test(index) {
		return nil, fmt.Errorf("%w: #%d", ErrPieceNotAvailable, index)
	}
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()
	defer func() { err = s.wrapError(ctx, err) }()

	d := newPieceDownload(piece.Piece{Index: index, Length: length, Hash: hash})
	s.log.Debugf("Downloading piece #%d in %d blocks", index, d.piece.NumBlocks())
	var deadline time.Time
	if s.config.PieceTimeout > 0 {
		deadline = time.Now().Add(s.config.PieceTimeout)
	}
	s.state = Requesting
	for !d.assembler.Complete() {
		if !s.peerChoking {
			for _, b := range d.nextRequests(s.config.RequestQueueLength) {
				err = s.writeMessage(peerprotocol.RequestMessage{Index: index, Begin: b.Begin, Length: b.Length})
				if err != nil {
					return nil, err
				}
			}
		}
		msg, err := s.readMessage(deadline)
		if err != nil {
			return nil, err
		}
		switch msg := msg.(type) {
		case peerprotocol.PieceMessage:
			if err = s.handlePiece(d, msg); err != nil {
				return nil, err
			}
		case peerprotocol.ChokeMessage:
			if !s.peerChoking {
				s.log.Debugf("Choked while downloading piece #%d, %d requests will be sent again", index, len(d.pending))
				d.choked()
			}
			s.peerChoking = true
			s.state = Interested
		case peerprotocol.UnchokeMessage:
			s.peerChoking = false
			s.state = Requesting
		default:
			if err = s.handleMessage(msg); err != nil {
				return nil, err
			}
		}
	}
	if s.peerChoking {
		s.state = Interested
	} else {
		s.state = Unchoked
	}
	return d.assembler.Finalize(d.piece.Hash)
}

func (s *Session) handlePiece(d *pieceDownload, msg peerprotocol.PieceMessage) error {
	if msg.Index != d.piece.Index {
		s.log.Debugf("Received block of piece #%d while downloading #%d", msg.Index, d.piece.Index)
		return nil
	}
	if !d.expected(msg.Begin, uint32(len(msg.Data))) {
		s.log.Debugf("Received unexpected block begin=%d length=%d of piece #%d", msg.Begin, len(msg.Data), msg.Index)
		return nil
	}
	err := d.assembler.AcceptBlock(msg.Begin, msg.Data)
	if errors.Is(err, assembler.ErrDuplicateBlock) {
		s.log.Debugln(err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	d.received(msg.Begin)
	return nil
}

// handleMessage updates the session for messages that do not belong to a piece download.
func (s *Session) handleMessage(msg peerprotocol.Message) error {
	switch msg := msg.(type) {
	case peerprotocol.ChokeMessage:
		s.peerChoking = true
	case peerprotocol.UnchokeMessage:
		s.peerChoking = false
	case peerprotocol.HaveMessage:
		return s.handleHave(msg)
	case peerprotocol.BitfieldMessage:
		return s.handleBitfield(msg)
	case peerprotocol.PieceMessage:
		s.log.Debugf("Received unrequested block of piece #%d", msg.Index)
	default:
		s.log.Debugf("Ignoring %q message", msg.ID())
	}
	return nil
}

func (s *Session) handleBitfield(msg peerprotocol.BitfieldMessage) error {
	if s.availabilityKnown {
		return fmt.Errorf("%w: bitfield can only be sent after handshake", ErrProtocol)
	}
	bf, err := bitfield.FromBytes(msg.Data, s.numPieces)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	s.bitfield = bf
	s.availabilityKnown = true
	s.log.Debugf("Received bitfield: %d of %d pieces: %s", bf.Count(), s.numPieces, bf.Hex())
	return nil
}

func (s *Session) handleHave(msg peerprotocol.HaveMessage) error {
	if msg.Index >= s.numPieces {
		return fmt.Errorf("%w: have message for invalid piece #%d", ErrProtocol, msg.Index)
	}
	s.bitfield.Set(msg.Index)
	s.availabilityKnown = true
	return nil
}

// readMessage returns the next message from the peer, skipping keep-alives and unknown messages.
// Each read must complete in ReadTimeout and before deadline if it is not zero.
func (s *Session) readMessage(deadline time.Time) (peerprotocol.Message, error) {
	for {
		d := time.Now().Add(s.config.ReadTimeout)
		if !deadline.IsZero() && deadline.Before(d) {
			d = deadline
		}
		if err := s.conn.SetReadDeadline(d); err != nil {
			return nil, err
		}
		msg, err := peerprotocol.ReadMessage(s.r)
		if errors.Is(err, peerprotocol.ErrUnknownMessageType) {
			s.log.Debugln("Ignoring message:", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if msg.ID() == peerprotocol.KeepAlive {
			s.log.Debug("Received keep alive")
			continue
		}
		return msg, nil
	}
}

func (s *Session) writeMessage(msg peerprotocol.Message) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
		return err
	}
	s.log.Debugf("Sending %q", msg.ID())
	return peerprotocol.WriteMessage(s.conn, msg)
}

// wrapError converts I/O errors into session errors.
// Errors caused by cancellation of ctx are returned as ctx.Err().
func (s *Session) wrapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var nerr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return fmt.Errorf("%w in %s state: %w", ErrTimeout, s.state, err)
	}
	return err
}

// pieceDownload tracks requests of a single piece.
type pieceDownload struct {
	piece     piece.Piece
	assembler *assembler.Assembler
	blocks    map[uint32]piece.Block // begin -> block not received yet
	remaining []piece.Block          // blocks to be requested in consecutive order
	pending   map[uint32]piece.Block // in-flight requests
}

func newPieceDownload(p piece.Piece) *pieceDownload {
	blocks := p.CalculateBlocks()
	d := &pieceDownload{
		piece:     p,
		assembler: assembler.New(p.Length),
		blocks:    make(map[uint32]piece.Block, len(blocks)),
		remaining: blocks,
		pending:   make(map[uint32]piece.Block),
	}
	for _, b := range blocks {
		d.blocks[b.Begin] = b
	}
	return d
}

// nextRequests moves blocks from remaining to pending until queueLength requests are in flight.
func (d *pieceDownload) nextRequests(queueLength int) []piece.Block {
	var ret []piece.Block
	for len(d.pending) < queueLength && len(d.remaining) > 0 {
		b := d.remaining[0]
		d.remaining = d.remaining[1:]
		d.pending[b.Begin] = b
		ret = append(ret, b)
	}
	return ret
}

// expected returns true if the block is part of the piece and has not been received yet.
// Blocks that were requested before a choke are still accepted.
func (d *pieceDownload) expected(begin, length uint32) bool {
	b, ok := d.piece.FindBlock(begin, length)
	if !ok {
		return false
	}
	_, ok = d.blocks[b.Begin]
	return ok
}

func (d *pieceDownload) received(begin uint32) {
	delete(d.blocks, begin)
	if _, ok := d.pending[begin]; ok {
		delete(d.pending, begin)
		return
	}
	for i, b := range d.remaining {
		if b.Begin == begin {
			d.remaining = append(d.remaining[:i], d.remaining[i+1:]...)
			return
		}
	}
}

// choked puts the in-flight requests back to the front of the queue.
func (d *pieceDownload) choked() {
	requeue := make([]piece.Block, 0, len(d.pending)+len(d.remaining))
	for _, b := range d.pending {
		requeue = append(requeue, b)
	}
	sort.Slice(requeue, func(i, j int) bool { return requeue[i].Begin < requeue[j].Begin })
	d.remaining = append(requeue, d.remaining...)
	d.pending = make(map[uint32]piece.Block)
}
