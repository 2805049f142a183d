// Package btconn provides support for dialing and accepting BitTorrent connections.
package btconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/rainfetch/internal/logger"
	"github.com/cenkalti/rainfetch/internal/peerprotocol"
)

var (
	// ErrConnectFailed is returned when the TCP connection cannot be established.
	ErrConnectFailed = errors.New("cannot connect to peer")
	// ErrHandshakeFailed is returned when the peer does not complete a valid handshake.
	ErrHandshakeFailed = errors.New("handshake failed")

	errInvalidInfoHash = errors.New("invalid info hash")
	errOwnConnection   = errors.New("dropped own connection")
)

// Dial new connection to the address. Does the BitTorrent protocol handshake.
// Returns a net.Conn that is ready for sending/receiving BitTorrent peer protocol messages.
// Cancelling ctx aborts the handshake by closing the connection.
func Dial(
	ctx context.Context,
	addr string,
	dialTimeout, handshakeTimeout time.Duration,
	ih [20]byte,
	ourID [20]byte) (
	conn net.Conn, peer peerprotocol.Handshake, err error) {
	log := logger.New("conn -> " + addr)

	log.Debug("Connecting to peer...")
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err = dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, peer, ctx.Err()
		}
		return nil, peer, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	log.Debug("Connected")
	defer func(conn net.Conn) {
		if err != nil {
			conn.Close()
		}
	}(conn)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		if !stop() && err == nil {
			err = ctx.Err()
		}
	}()

	// Handshake must be completed in allowed duration.
	if err = conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return
	}
	if _, err = conn.Write(peerprotocol.EncodeHandshake(ih, ourID)); err != nil {
		err = handshakeError(ctx, err)
		return
	}
	peer, err = peerprotocol.ReadHandshake(conn)
	if err != nil {
		err = handshakeError(ctx, err)
		return
	}
	if peer.InfoHash != ih {
		err = fmt.Errorf("%w: %w", ErrHandshakeFailed, errInvalidInfoHash)
		return
	}
	if peer.PeerID == ourID {
		err = fmt.Errorf("%w: %w", ErrHandshakeFailed, errOwnConnection)
		return
	}
	err = conn.SetDeadline(time.Time{})
	return
}

func handshakeError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
}
