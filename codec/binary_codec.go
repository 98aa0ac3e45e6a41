package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"polygate/message"
	"polygate/status"
)

// BinaryCodec lays an Envelope out as length-prefixed fields:
//
//	opLen u16 | op | deadline u32 | payloadLen u32 | payload | code u8 | detailLen u16 | detail
//
// code 0 means no failure, in which case detailLen is 0.
type BinaryCodec struct{}

var errNotEnvelope = errors.New("BinaryCodec: v must be *message.Envelope")

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	env, ok := v.(*message.Envelope)
	if !ok {
		return nil, errNotEnvelope
	}

	var code status.Code
	var detail string
	if env.Failure != nil {
		code, detail = env.Failure.Code, env.Failure.Detail
	}
	if len(env.Operation) > 0xFFFF || len(detail) > 0xFFFF {
		return nil, fmt.Errorf("BinaryCodec: operation or detail exceeds %d bytes", 0xFFFF)
	}

	total := 2 + len(env.Operation) + 4 + 4 + len(env.Payload) + 1 + 2 + len(detail)
	buf := make([]byte, total)
	offset := 0

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(env.Operation)))
	offset += 2
	offset += copy(buf[offset:], env.Operation)

	binary.BigEndian.PutUint32(buf[offset:], env.DeadlineMillis)
	offset += 4

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(env.Payload)))
	offset += 4
	offset += copy(buf[offset:], env.Payload)

	buf[offset] = byte(code)
	offset++

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(detail)))
	offset += 2
	copy(buf[offset:], detail)

	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	env, ok := v.(*message.Envelope)
	if !ok {
		return errNotEnvelope
	}

	r := reader{data: data}
	opLen := r.u16()
	env.Operation = string(r.bytes(int(opLen)))
	env.DeadlineMillis = r.u32()
	payloadLen := r.u32()
	if payload := r.bytes(int(payloadLen)); len(payload) > 0 {
		env.Payload = append([]byte(nil), payload...)
	}
	code := status.Normalize(status.Code(r.u8()))
	detailLen := r.u16()
	detail := string(r.bytes(int(detailLen)))
	if r.err != nil {
		return r.err
	}

	if code != status.OK {
		env.Failure = &message.Failure{Code: code, Detail: detail}
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// reader is a bounds-checked cursor; the first short read sticks in err.
type reader struct {
	data   []byte
	offset int
	err    error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.offset+n > len(r.data) {
		r.err = fmt.Errorf("BinaryCodec: truncated body at offset %d", r.offset)
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *reader) u8() byte {
	if b := r.bytes(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.bytes(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.bytes(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}
