package peerprotocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameLength is the largest frame accepted from a peer, not counting the length prefix.
// It is 1 MiB of payload plus the message id, which fits a bitfield for 8M pieces.
const MaxFrameLength = 1<<20 + 1

var (
	// ErrTruncatedFrame is returned when the stream ends or times out in the middle of a frame.
	ErrTruncatedFrame = errors.New("truncated frame")
	// ErrFrameTooLarge is returned when the length prefix exceeds MaxFrameLength.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrUnknownMessageType is returned for message types outside of the supported set.
	// The frame has been consumed when this error is returned so reading can continue.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrInvalidPayload is returned when the payload length does not match the message type.
	ErrInvalidPayload = errors.New("invalid message payload")
)

// Frame is a single length prefixed unit read from the wire.
type Frame struct {
	KeepAlive bool
	ID        MessageID
	Payload   []byte
}

// EncodeMessage frames a payload. The length prefix counts the type byte and the payload.
func EncodeMessage(id MessageID, payload []byte) []byte {
	b := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(b[0:4], uint32(1+len(payload)))
	b[4] = byte(id)
	copy(b[5:], payload)
	return b
}

// EncodeKeepAlive returns a zero length frame.
func EncodeKeepAlive() []byte {
	return []byte{0, 0, 0, 0}
}

// Marshal returns the framed wire representation of msg.
func Marshal(msg Message) ([]byte, error) {
	if _, ok := msg.(KeepAliveMessage); ok {
		return EncodeKeepAlive(), nil
	}
	payload, err := msg.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return EncodeMessage(msg.ID(), payload), nil
}

// WriteMessage writes a single framed message to w.
func WriteMessage(w io.Writer, msg Message) error {
	b, err := Marshal(msg)
	if err != nil {
		return fmt.Errorf("cannot marshal message [%v]: %w", msg.ID(), err)
	}
	_, err = w.Write(b)
	return err
}

// ReadFrame reads one frame from r.
// An error returned before any byte of the frame is read (io.EOF, read timeout) is returned unchanged.
// Any error after that is wrapped with ErrTruncatedFrame.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [4]byte
	n, err := io.ReadFull(r, header[:])
	if err != nil {
		if n == 0 {
			return Frame{}, err
		}
		return Frame{}, truncated(err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return Frame{KeepAlive: true, ID: KeepAlive}, nil
	}
	if length > MaxFrameLength {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	buf := make([]byte, length)
	if _, err = io.ReadFull(r, buf); err != nil {
		return Frame{}, truncated(err)
	}
	f := Frame{ID: MessageID(buf[0])}
	if length > 1 {
		f.Payload = buf[1:]
	}
	return f, nil
}

func truncated(err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %w", ErrTruncatedFrame, err)
}

var emptyMessages = map[MessageID]Message{
	Choke:         ChokeMessage{},
	Unchoke:       UnchokeMessage{},
	Interested:    InterestedMessage{},
	NotInterested: NotInterestedMessage{},
}

// ParseFrame converts a frame into a typed message.
func ParseFrame(f Frame) (Message, error) {
	if f.KeepAlive {
		return KeepAliveMessage{}, nil
	}
	p := f.Payload
	switch f.ID {
	case Choke, Unchoke, Interested, NotInterested:
		if len(p) != 0 {
			return nil, invalidPayload(f)
		}
		return emptyMessages[f.ID], nil
	case Have:
		if len(p) != 4 {
			return nil, invalidPayload(f)
		}
		return HaveMessage{Index: binary.BigEndian.Uint32(p)}, nil
	case Bitfield:
		return BitfieldMessage{Data: p}, nil
	case Request, Cancel:
		if len(p) != 12 {
			return nil, invalidPayload(f)
		}
		rm := RequestMessage{
			Index:  binary.BigEndian.Uint32(p[0:4]),
			Begin:  binary.BigEndian.Uint32(p[4:8]),
			Length: binary.BigEndian.Uint32(p[8:12]),
		}
		if f.ID == Cancel {
			return CancelMessage{rm}, nil
		}
		return rm, nil
	case Piece:
		if len(p) < 8 {
			return nil, invalidPayload(f)
		}
		pm := PieceMessage{
			Index: binary.BigEndian.Uint32(p[0:4]),
			Begin: binary.BigEndian.Uint32(p[4:8]),
		}
		if len(p) > 8 {
			pm.Data = p[8:]
		}
		return pm, nil
	case Port:
		if len(p) != 2 {
			return nil, invalidPayload(f)
		}
		return PortMessage{Port: binary.BigEndian.Uint16(p)}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, f.ID)
	}
}

func invalidPayload(f Frame) error {
	return fmt.Errorf("%w: %d bytes for %q", ErrInvalidPayload, len(f.Payload), f.ID)
}

// ReadMessage reads and parses the next message from r.
func ReadMessage(r io.Reader) (Message, error) {
	f, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return ParseFrame(f)
}
