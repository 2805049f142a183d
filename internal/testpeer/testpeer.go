// Package testpeer provides an in-process peer that serves pieces over the peer wire protocol.
// It is used by tests of packages that download from peers.
package testpeer

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/rainfetch/internal/bitfield"
	"github.com/cenkalti/rainfetch/internal/btconn"
	"github.com/cenkalti/rainfetch/internal/logger"
	"github.com/cenkalti/rainfetch/internal/peerprotocol"
)

// Behavior changes how the Peer talks to downloaders.
type Behavior struct {
	// Close the connection right after accepting it.
	DropConnection bool
	// Send a handshake with a different info hash.
	WrongInfoHash bool
	// Send nothing after the handshake.
	Silent bool
	// Send unchoke before the bitfield.
	UnchokeBeforeBitfield bool
	// Announce pieces with have messages instead of a bitfield.
	HaveInsteadOfBitfield bool
	// Send a keep-alive and a message with unknown type before the bitfield.
	SendNoise bool
	// Choke once after receiving the first request, drop queued requests and unchoke again.
	ChokeOnce bool
	// Answer requests in reverse order of their arrival.
	Reverse bool
	// Flip a bit in every block sent.
	Corrupt bool
	// Send the bitfield but never unchoke.
	NeverUnchoke bool
}

// Peer is a seeder listening on a random port on localhost.
type Peer struct {
	InfoHash [20]byte
	ID       [20]byte
	Behavior Behavior

	pieces   [][]byte
	listener net.Listener
	log      logger.Logger
	conns    int32
	requests int32
	wg       sync.WaitGroup
	mu       sync.Mutex
	open     map[net.Conn]struct{}
	closeC   chan struct{}
}

// New returns a new Peer that has the pieces in data. A nil element means the piece is missing.
func New(infoHash [20]byte, data [][]byte, b Behavior) *Peer {
	p := &Peer{
		InfoHash: infoHash,
		Behavior: b,
		pieces:   data,
		open:     make(map[net.Conn]struct{}),
		closeC:   make(chan struct{}),
	}
	copy(p.ID[:], "-TP0001-")
	return p
}

// Start listening for connections.
func (p *Peer) Start() error {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	p.listener = l
	p.log = logger.New("testpeer " + l.Addr().String())
	p.wg.Add(1)
	go p.acceptor()
	return nil
}

// Addr returns the listen address.
func (p *Peer) Addr() string {
	return p.listener.Addr().String()
}

// Connections returns the number of accepted connections.
func (p *Peer) Connections() int {
	return int(atomic.LoadInt32(&p.conns))
}

// Requests returns the number of request messages received.
func (p *Peer) Requests() int {
	return int(atomic.LoadInt32(&p.requests))
}

// Close stops listening, closes all connections and waits for goroutines to exit.
func (p *Peer) Close() {
	close(p.closeC)
	p.listener.Close()
	p.mu.Lock()
	for conn := range p.open {
		conn.Close()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Peer) acceptor() {
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return
		}
		atomic.AddInt32(&p.conns, 1)
		p.mu.Lock()
		select {
		case <-p.closeC:
			p.mu.Unlock()
			conn.Close()
			return
		default:
		}
		p.open[conn] = struct{}{}
		p.mu.Unlock()
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer func() {
				p.mu.Lock()
				delete(p.open, conn)
				p.mu.Unlock()
				conn.Close()
			}()
			if err := p.serve(conn); err != nil {
				p.log.Debugln("connection closed:", err)
			}
		}()
	}
}

func (p *Peer) serve(conn net.Conn) error {
	if p.Behavior.DropConnection {
		return nil
	}
	if p.Behavior.WrongInfoHash {
		if _, err := peerprotocol.ReadHandshake(conn); err != nil {
			return err
		}
		ih := p.InfoHash
		ih[0]++
		_, err := conn.Write(peerprotocol.EncodeHandshake(ih, p.ID))
		return err
	}
	if _, err := btconn.Accept(conn, 5*time.Second, func(h [20]byte) bool { return h == p.InfoHash }, p.ID); err != nil {
		return err
	}
	if p.Behavior.Silent {
		<-p.closeC
		return nil
	}
	if p.Behavior.SendNoise {
		if _, err := conn.Write(peerprotocol.EncodeKeepAlive()); err != nil {
			return err
		}
		if _, err := conn.Write(peerprotocol.EncodeMessage(20, []byte{0, 'd', 'e'})); err != nil {
			return err
		}
	}
	if p.Behavior.UnchokeBeforeBitfield {
		if err := peerprotocol.WriteMessage(conn, peerprotocol.UnchokeMessage{}); err != nil {
			return err
		}
	}
	if err := p.sendAvailability(conn); err != nil {
		return err
	}
	return p.serveRequests(conn)
}

func (p *Peer) sendAvailability(conn net.Conn) error {
	bf := bitfield.New(uint32(len(p.pieces)))
	for i, data := range p.pieces {
		if data != nil {
			bf.Set(uint32(i))
		}
	}
	if !p.Behavior.HaveInsteadOfBitfield {
		return peerprotocol.WriteMessage(conn, peerprotocol.BitfieldMessage{Data: bf.Bytes()})
	}
	for i := uint32(0); i < bf.Len(); i++ {
		if bf.Test(i) {
			if err := peerprotocol.WriteMessage(conn, peerprotocol.HaveMessage{Index: i}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Peer) serveRequests(conn net.Conn) error {
	unchoked := p.Behavior.UnchokeBeforeBitfield
	chokedOnce := false
	for {
		if err := conn.SetReadDeadline(time.Time{}); err != nil {
			return err
		}
		msg, err := peerprotocol.ReadMessage(conn)
		if err != nil {
			return err
		}
		switch msg := msg.(type) {
		case peerprotocol.InterestedMessage:
			if !unchoked && !p.Behavior.NeverUnchoke {
				unchoked = true
				if err = peerprotocol.WriteMessage(conn, peerprotocol.UnchokeMessage{}); err != nil {
					return err
				}
			}
		case peerprotocol.RequestMessage:
			atomic.AddInt32(&p.requests, 1)
			if !unchoked {
				continue
			}
			if p.Behavior.ChokeOnce && !chokedOnce {
				chokedOnce = true
				if err = p.chokeAndDrop(conn); err != nil {
					return err
				}
				continue
			}
			batch := []peerprotocol.RequestMessage{msg}
			if p.Behavior.Reverse {
				batch = append(batch, p.moreRequests(conn)...)
				for i, j := 0, len(batch)-1; i < j; i, j = i+1, j-1 {
					batch[i], batch[j] = batch[j], batch[i]
				}
			}
			for _, req := range batch {
				if err = p.sendBlock(conn, req); err != nil {
					return err
				}
			}
		}
	}
}

// moreRequests collects requests that arrive shortly after the first one.
func (p *Peer) moreRequests(conn net.Conn) []peerprotocol.RequestMessage {
	var ret []peerprotocol.RequestMessage
	for {
		if err := conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
			return ret
		}
		msg, err := peerprotocol.ReadMessage(conn)
		if err != nil {
			return ret
		}
		if req, ok := msg.(peerprotocol.RequestMessage); ok {
			atomic.AddInt32(&p.requests, 1)
			ret = append(ret, req)
		}
	}
}

// chokeAndDrop chokes the downloader, discards requests that are already sent and unchokes again.
func (p *Peer) chokeAndDrop(conn net.Conn) error {
	if err := peerprotocol.WriteMessage(conn, peerprotocol.ChokeMessage{}); err != nil {
		return err
	}
	p.moreRequests(conn)
	return peerprotocol.WriteMessage(conn, peerprotocol.UnchokeMessage{})
}

var errInvalidRequest = errors.New("invalid request")

func (p *Peer) sendBlock(conn net.Conn, req peerprotocol.RequestMessage) error {
	if req.Index >= uint32(len(p.pieces)) || p.pieces[req.Index] == nil {
		return errInvalidRequest
	}
	data := p.pieces[req.Index]
	end := uint64(req.Begin) + uint64(req.Length)
	if end > uint64(len(data)) {
		return errInvalidRequest
	}
	block := append([]byte(nil), data[req.Begin:end]...)
	if p.Behavior.Corrupt {
		block[0] ^= 0x01
	}
	return peerprotocol.WriteMessage(conn, peerprotocol.PieceMessage{Index: req.Index, Begin: req.Begin, Data: block})
}
