package peerprotocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HandshakeLength is the size of the handshake message on the wire.
const HandshakeLength = 68

// ErrMalformedHandshake is returned when the handshake does not start with the protocol identifier.
var ErrMalformedHandshake = errors.New("malformed handshake")

var pstr = [20]byte{19, 'B', 'i', 't', 'T', 'o', 'r', 'r', 'e', 'n', 't', ' ', 'p', 'r', 'o', 't', 'o', 'c', 'o', 'l'}

// Handshake is the first message exchanged on a peer connection.
type Handshake struct {
	Extensions [8]byte
	InfoHash   [20]byte
	PeerID     [20]byte
}

// EncodeHandshake returns the 68 byte handshake with all reserved bytes set to zero.
func EncodeHandshake(infoHash, peerID [20]byte) []byte {
	b, _ := Handshake{InfoHash: infoHash, PeerID: peerID}.MarshalBinary()
	return b
}

// MarshalBinary returns the wire representation of h.
func (h Handshake) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, HandshakeLength))
	msg := struct {
		Pstr       [20]byte
		Extensions [8]byte
		InfoHash   [20]byte
		PeerID     [20]byte
	}{
		Pstr:       pstr,
		Extensions: h.Extensions,
		InfoHash:   h.InfoHash,
		PeerID:     h.PeerID,
	}
	err := binary.Write(buf, binary.BigEndian, msg)
	return buf.Bytes(), err
}

// DecodeHandshake parses a handshake message. b must be exactly HandshakeLength bytes.
func DecodeHandshake(b []byte) (Handshake, error) {
	var h Handshake
	if len(b) != HandshakeLength {
		return h, fmt.Errorf("%w: length %d", ErrMalformedHandshake, len(b))
	}
	if b[0] != pstr[0] {
		return h, fmt.Errorf("%w: protocol name length %d", ErrMalformedHandshake, b[0])
	}
	if !bytes.Equal(b[:20], pstr[:]) {
		return h, fmt.Errorf("%w: unknown protocol %q", ErrMalformedHandshake, b[1:20])
	}
	copy(h.Extensions[:], b[20:28])
	copy(h.InfoHash[:], b[28:48])
	copy(h.PeerID[:], b[48:68])
	return h, nil
}

// ReadHandshake reads a full handshake message from r and decodes it.
func ReadHandshake(r io.Reader) (Handshake, error) {
	var b [HandshakeLength]byte
	n, err := io.ReadFull(r, b[:])
	if err != nil {
		if n == 0 {
			return Handshake{}, err
		}
		return Handshake{}, fmt.Errorf("%w: %w", ErrMalformedHandshake, err)
	}
	return DecodeHandshake(b[:])
}
