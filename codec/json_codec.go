package codec

import (
	"encoding/json"

	"polygate/message"
	"polygate/status"
)

// JSONCodec is human-readable and easy to debug on the wire; the payload is base64 inside it.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	if env, ok := v.(*message.Envelope); ok && env.Failure != nil {
		env.Failure.Code = status.Normalize(env.Failure.Code)
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
