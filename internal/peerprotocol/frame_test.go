package peerprotocol

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMessage(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 1, 2}, EncodeMessage(Interested, nil))
	assert.Equal(t, []byte{0, 0, 0, 5, 4, 0, 0, 1, 2}, EncodeMessage(Have, []byte{0, 0, 1, 2}))
	assert.Equal(t, []byte{0, 0, 0, 0}, EncodeKeepAlive())

	b, err := Marshal(RequestMessage{Index: 1, Begin: 0x4000, Length: 0x4000})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 13, 6, 0, 0, 0, 1, 0, 0, 0x40, 0, 0, 0, 0x40, 0}, b)
}

func TestMessageRoundTrip(t *testing.T) {
	messages := []Message{
		KeepAliveMessage{},
		ChokeMessage{},
		UnchokeMessage{},
		InterestedMessage{},
		NotInterestedMessage{},
		HaveMessage{Index: 0xdeadbeef},
		BitfieldMessage{Data: []byte{0xff, 0x80}},
		BitfieldMessage{},
		RequestMessage{Index: 3, Begin: 16384, Length: 1234},
		CancelMessage{RequestMessage{Index: 3, Begin: 16384, Length: 1234}},
		PieceMessage{Index: 7, Begin: 32768, Data: []byte("hello")},
		PieceMessage{Index: 7, Begin: 0},
		PortMessage{Port: 6881},
	}
	for _, msg := range messages {
		var buf bytes.Buffer
		require.NoError(t, WriteMessage(&buf, msg))
		got, err := ReadMessage(&buf)
		require.NoError(t, err, msg.ID().String())
		assert.Equal(t, msg, got)
		assert.Equal(t, 0, buf.Len())
	}
}

func TestFrameRoundTrip(t *testing.T) {
	for id := Choke; id <= Port; id++ {
		for _, n := range []int{0, 1, 13, 16384} {
			payload := bytes.Repeat([]byte{byte(n)}, n)
			f, err := ReadFrame(bytes.NewReader(EncodeMessage(id, payload)))
			require.NoError(t, err)
			assert.Equal(t, id, f.ID)
			assert.False(t, f.KeepAlive)
			if n == 0 {
				assert.Nil(t, f.Payload)
			} else {
				assert.Equal(t, payload, f.Payload)
			}
		}
	}
}

func TestReadFrameTruncated(t *testing.T) {
	b := EncodeMessage(Piece, make([]byte, 20))

	_, err := ReadFrame(bytes.NewReader(b[:2]))
	assert.ErrorIs(t, err, ErrTruncatedFrame)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadFrame(bytes.NewReader(b[:10]))
	assert.ErrorIs(t, err, ErrTruncatedFrame)

	_, err = ReadFrame(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)
}

func TestReadFrameTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Nothing is sent. Timeout is not a truncated frame.
	require.NoError(t, client.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, err := ReadFrame(client)
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded))
	assert.False(t, errors.Is(err, ErrTruncatedFrame))

	// Half of the frame is sent before the deadline.
	b := EncodeMessage(Have, []byte{0, 0, 0, 1})
	go func() { _, _ = server.Write(b[:6]) }()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err = ReadFrame(client)
	assert.ErrorIs(t, err, ErrTruncatedFrame)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestReadFrameTooLarge(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	b := EncodeMessage(Bitfield, make([]byte, 1<<20+1))
	_, err = ReadFrame(bytes.NewReader(b))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadLargestBitfield(t *testing.T) {
	// 8M pieces
	data := make([]byte, 1<<20)
	data[len(data)-1] = 0x01
	b, err := Marshal(BitfieldMessage{Data: data})
	require.NoError(t, err)
	msg, err := ReadMessage(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, BitfieldMessage{Data: data}, msg)
}

func TestUnknownMessageTypeKeepsStreamAligned(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodeMessage(MessageID(20), []byte{0, 'd', 'e'}))
	buf.Write(EncodeMessage(Unchoke, nil))

	_, err := ReadMessage(&buf)
	assert.ErrorIs(t, err, ErrUnknownMessageType)

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, UnchokeMessage{}, msg)
}

func TestInvalidPayload(t *testing.T) {
	cases := [][]byte{
		EncodeMessage(Choke, []byte{1}),
		EncodeMessage(Have, []byte{1, 2, 3}),
		EncodeMessage(Request, make([]byte, 11)),
		EncodeMessage(Cancel, make([]byte, 13)),
		EncodeMessage(Piece, make([]byte, 7)),
		EncodeMessage(Port, make([]byte, 3)),
	}
	for _, b := range cases {
		_, err := ReadMessage(bytes.NewReader(b))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	}
}

func TestMessageIDString(t *testing.T) {
	assert.Equal(t, "not interested", NotInterested.String())
	assert.Equal(t, "42", MessageID(42).String())
	assert.True(t, Port.Known())
	assert.False(t, MessageID(20).Known())
}
