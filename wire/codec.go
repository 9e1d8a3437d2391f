package wire

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Meander-Cloud/go-netevent/neterror"
)

const (
	typicalBufferLen int = 1024 // 1 KB
)

const (
	CodecMsgpack string = "msgpack"
	CodecJSON    string = "json"
)

// Codec serializes message values into frame payloads.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// MsgpackCodec is the default payload codec.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string {
	return CodecMsgpack
}

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	buffer := new(bytes.Buffer)
	buffer.Grow(typicalBufferLen)

	err := msgpack.NewEncoder(buffer).Encode(v)
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// JSONCodec trades size for readability, both peers must agree on it.
type JSONCodec struct{}

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func (JSONCodec) Name() string {
	return CodecJSON
}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return jsonAPI.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return jsonAPI.Unmarshal(data, v)
}

// CodecByName resolves a configured codec name, empty selects msgpack.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecMsgpack:
		return MsgpackCodec{}, nil
	case CodecJSON:
		return JSONCodec{}, nil
	default:
		return nil, neterror.New(neterror.CodeInvalidConfig, "unsupported codec=%s", name)
	}
}
