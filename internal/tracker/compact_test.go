package tracker

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactPeer(t *testing.T) {
	cp := CompactPeer{
		IP:   [4]byte{1, 2, 3, 4},
		Port: 5,
	}
	b, err := cp.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 0, 5}, b)
	var cp2 CompactPeer
	require.NoError(t, cp2.UnmarshalBinary(b))
	assert.Equal(t, cp, cp2)
	assert.Equal(t, cp, NewCompactPeer(cp.Addr()))
}

func TestDecodePeersCompact(t *testing.T) {
	addrs, err := DecodePeersCompact([]byte{127, 0, 0, 1, 0x1a, 0xe1, 10, 0, 0, 2, 0, 80})
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, "127.0.0.1:6881", addrs[0].String())
	assert.Equal(t, (&net.TCPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 80}).String(), addrs[1].String())

	_, err = DecodePeersCompact([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestEncodePeersCompact(t *testing.T) {
	addrs := []*net.TCPAddr{
		{IP: net.IPv4(127, 0, 0, 1), Port: 6881},
		{IP: net.ParseIP("::1"), Port: 6881},
	}
	assert.Equal(t, []byte{127, 0, 0, 1, 0x1a, 0xe1}, EncodePeersCompact(addrs))
}
