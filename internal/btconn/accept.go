package btconn

import (
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/rainfetch/internal/peerprotocol"
)

// Accept BitTorrent handshake from the connection.
// Our handshake is sent only after the remote info hash is validated with hasInfoHash.
func Accept(
	conn net.Conn,
	handshakeTimeout time.Duration,
	hasInfoHash func([20]byte) bool,
	ourID [20]byte) (
	peer peerprotocol.Handshake, err error) {
	if err = conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return
	}
	peer, err = peerprotocol.ReadHandshake(conn)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
		return
	}
	if !hasInfoHash(peer.InfoHash) {
		err = fmt.Errorf("%w: %w", ErrHandshakeFailed, errInvalidInfoHash)
		return
	}
	if peer.PeerID == ourID {
		err = fmt.Errorf("%w: %w", ErrHandshakeFailed, errOwnConnection)
		return
	}
	if _, err = conn.Write(peerprotocol.EncodeHandshake(peer.InfoHash, ourID)); err != nil {
		return
	}
	err = conn.SetDeadline(time.Time{})
	return
}
