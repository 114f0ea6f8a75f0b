package transport

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes and decodes frames for the wire.
type Codec interface {
	Name() string
	Encode(f Frame) ([]byte, error)
	Decode(data []byte) (Frame, error)
}

// Codec names accepted by CodecByName.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// CodecByName returns the codec registered under name. An empty name
// selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("transport: unknown codec %q", name)
	}
}

// JSONCodec encodes frames as JSON objects.
type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecJSON }

func (JSONCodec) Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("transport: encode json frame: %w", err)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte) (Frame, error) {
	return decode(data, json.Unmarshal, "json")
}

// MsgpackCodec encodes frames as msgpack maps.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return CodecMsgpack }

func (MsgpackCodec) Encode(f Frame) ([]byte, error) {
	data, err := msgpack.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("transport: encode msgpack frame: %w", err)
	}
	return data, nil
}

func (MsgpackCodec) Decode(data []byte) (Frame, error) {
	return decode(data, msgpack.Unmarshal, "msgpack")
}

func decode(data []byte, unmarshal func([]byte, any) error, format string) (Frame, error) {
	if len(data) > MaxFrameBytes {
		return Frame{}, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("frame size %d exceeds maximum %d", len(data), MaxFrameBytes),
		}
	}
	var f Frame
	if err := unmarshal(data, &f); err != nil {
		return Frame{}, &FrameError{Kind: FrameErrorMalformed, Msg: "failed to decode " + format + " frame", Err: err}
	}
	if err := ValidateFrame(f); err != nil {
		return f, err
	}
	return f, nil
}
