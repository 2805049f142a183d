package peerprotocol

import (
	"encoding/binary"
)

// Message is a Peer message of BitTorrent protocol.
type Message interface {
	ID() MessageID
	MarshalBinary() ([]byte, error)
}

type emptyMessage struct{}

// MarshalBinary returns an empty payload.
func (m emptyMessage) MarshalBinary() ([]byte, error) { return nil, nil }

// KeepAliveMessage is a zero length frame sent to keep the connection open.
type KeepAliveMessage struct{ emptyMessage }

// ChokeMessage is sent to peer that it should not request pieces.
type ChokeMessage struct{ emptyMessage }

// UnchokeMessage is sent to peer that it can request pieces.
type UnchokeMessage struct{ emptyMessage }

// InterestedMessage is sent to peer that we want to request pieces if you unchoke us.
type InterestedMessage struct{ emptyMessage }

// NotInterestedMessage is sent to peer that we don't want any piece from you.
type NotInterestedMessage struct{ emptyMessage }

// ID returns the peer protocol message type.
func (m KeepAliveMessage) ID() MessageID { return KeepAlive }

// ID returns the peer protocol message type.
func (m ChokeMessage) ID() MessageID { return Choke }

// ID returns the peer protocol message type.
func (m UnchokeMessage) ID() MessageID { return Unchoke }

// ID returns the peer protocol message type.
func (m InterestedMessage) ID() MessageID { return Interested }

// ID returns the peer protocol message type.
func (m NotInterestedMessage) ID() MessageID { return NotInterested }

// HaveMessage indicates a peer has the piece with index.
type HaveMessage struct {
	Index uint32
}

// ID returns the peer protocol message type.
func (m HaveMessage) ID() MessageID { return Have }

// MarshalBinary encodes the piece index.
func (m HaveMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, m.Index)
	return b, nil
}

// BitfieldMessage sent after the peer handshake to exchange piece availability information between peers.
type BitfieldMessage struct {
	Data []byte
}

// ID returns the peer protocol message type.
func (m BitfieldMessage) ID() MessageID { return Bitfield }

// MarshalBinary returns the raw bitfield.
func (m BitfieldMessage) MarshalBinary() ([]byte, error) { return m.Data, nil }

// RequestMessage is sent when a peer needs a block of a piece.
type RequestMessage struct {
	Index, Begin, Length uint32
}

// ID returns the peer protocol message type.
func (m RequestMessage) ID() MessageID { return Request }

// MarshalBinary encodes index, begin and length.
func (m RequestMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	binary.BigEndian.PutUint32(b[8:12], m.Length)
	return b, nil
}

// CancelMessage is sent to peer to cancel previously sent request.
type CancelMessage struct{ RequestMessage }

// ID returns the peer protocol message type.
func (m CancelMessage) ID() MessageID { return Cancel }

// PieceMessage carries the data of a single block.
type PieceMessage struct {
	Index, Begin uint32
	Data         []byte
}

// ID returns the peer protocol message type.
func (m PieceMessage) ID() MessageID { return Piece }

// MarshalBinary encodes index, begin and block data.
func (m PieceMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, 8+len(m.Data))
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	copy(b[8:], m.Data)
	return b, nil
}

// PortMessage is sent to announce the UDP port number of DHT node run by the peer.
type PortMessage struct {
	Port uint16
}

// ID returns the peer protocol message type.
func (m PortMessage) ID() MessageID { return Port }

// MarshalBinary encodes the port.
func (m PortMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, m.Port)
	return b, nil
}
