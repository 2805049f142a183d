package tracker

import (
	"encoding/binary"
	"errors"
	"net"
)

const compactPeerLength = 6

var errInvalidPeerList = errors.New("invalid peer list length")

// CompactPeer is a 4-bytes IPv4 address and a 2-bytes port as sent in compact tracker responses.
// CompactPeer can be used as a key in maps because it does not contain any pointers.
type CompactPeer struct {
	IP   [net.IPv4len]byte
	Port uint16
}

// NewCompactPeer returns a new CompactPeer from a net.TCPAddr.
func NewCompactPeer(addr *net.TCPAddr) CompactPeer {
	p := CompactPeer{Port: uint16(addr.Port)}
	copy(p.IP[:], addr.IP.To4())
	return p
}

// Addr returns a net.TCPAddr from CompactPeer.
func (p CompactPeer) Addr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.IP(p.IP[:]), Port: int(p.Port)}
}

// MarshalBinary returns the bytes.
func (p CompactPeer) MarshalBinary() ([]byte, error) {
	b := make([]byte, compactPeerLength)
	copy(b, p.IP[:])
	binary.BigEndian.PutUint16(b[4:], p.Port)
	return b, nil
}

// UnmarshalBinary reads bytes from a slice into the CompactPeer.
func (p *CompactPeer) UnmarshalBinary(data []byte) error {
	if len(data) != compactPeerLength {
		return errors.New("invalid compact peer length")
	}
	copy(p.IP[:], data)
	p.Port = binary.BigEndian.Uint16(data[4:])
	return nil
}

// DecodePeersCompact parses and returns addresses for list of CompactPeers.
func DecodePeersCompact(b []byte) ([]*net.TCPAddr, error) {
	if len(b)%compactPeerLength != 0 {
		return nil, errInvalidPeerList
	}
	addrs := make([]*net.TCPAddr, 0, len(b)/compactPeerLength)
	for i := 0; i < len(b); i += compactPeerLength {
		var peer CompactPeer
		if err := peer.UnmarshalBinary(b[i : i+compactPeerLength]); err != nil {
			return nil, err
		}
		addrs = append(addrs, peer.Addr())
	}
	return addrs, nil
}

// EncodePeersCompact returns the compact form of IPv4 addresses. Other addresses are skipped.
func EncodePeersCompact(addrs []*net.TCPAddr) []byte {
	b := make([]byte, 0, len(addrs)*compactPeerLength)
	for _, addr := range addrs {
		if addr.IP.To4() == nil {
			continue
		}
		pb, _ := NewCompactPeer(addr).MarshalBinary()
		b = append(b, pb...)
	}
	return b
}
