// Package codec serializes message.Envelope for the frame body.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec for codecType. Anything but JSON gets the binary codec;
// protocol.Decode has already rejected unknown codec bytes.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}
	return &BinaryCodec{}
}

// ParseCodecType maps a configuration name to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	}
	return 0, fmt.Errorf("unknown codec %q", name)
}
