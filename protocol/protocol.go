// Package protocol implements the binary frame protocol spoken between the gateway and
// its backends.
//
// A fixed-size 14-byte header is followed by a variable-length body. The receiver reads
// the header first to learn the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ pgw  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic bytes "pgw" reject peers that are not speaking this protocol
// (e.g. an HTTP client pointed at a backend port).
const (
	MagicByte1 byte = 0x70 // 'p'
	MagicByte2 byte = 0x67 // 'g'
	MagicByte3 byte = 0x77 // 'w'
	Version    byte = 0x01
	HeaderSize int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame so a corrupt length cannot trigger a huge allocation.
	MaxBodyLen uint32 = 16 << 20
)

// ErrFrameTooLarge is returned by Encode for a body over MaxBodyLen. Nothing is written.
var ErrFrameTooLarge = errors.New("frame body too large")

// MsgType distinguishes the frame kinds.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // gateway → backend
	MsgTypeResponse  MsgType = 1 // backend → gateway
	MsgTypeHeartbeat MsgType = 2 // keepalive, no body
	MsgTypeCancel    MsgType = 3 // gateway → backend: abandon the request with this seq, no body
)

// Codec type constants, mirrored from the codec package to avoid an import cycle.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header is the fixed 14-byte frame header.
type Header struct {
	CodecType byte
	MsgType   MsgType
	Seq       uint32 // matches a response (or cancel) to its request
	BodyLen   uint32
}

// Encode writes a complete frame to w.
// Callers sharing one writer must serialize calls, otherwise frames interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	if len(body) > int(MaxBodyLen) {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	buf := make([]byte, HeaderSize+len(body))

	buf[0], buf[1], buf[2] = MagicByte1, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	// One Write per frame keeps the header and body in the same segment.
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame from r, validating magic, version, codec and message type.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicByte1 || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeCancel {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	seq := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		Seq:       seq,
		BodyLen:   bodyLen,
	}, body, nil
}
