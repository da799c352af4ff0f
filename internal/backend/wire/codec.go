package wire

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes message payloads. The frame format (4-byte length
// prefix) is codec independent; only the payload bytes change.
//
// JSON is the canonical protocol codec: a worker written in another
// language is expected to speak length-prefixed JSON. Msgpack is an
// alternative for embedders that control both ends of the connection.
type Codec interface {
	// Marshal encodes a value into payload bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes payload bytes into the given value.
	Unmarshal(data []byte, v any) error

	// Name returns a short codec identifier (e.g. "json").
	Name() string
}

// Default is the codec used when none is configured.
var Default Codec = JSON

// JSON is the canonical payload codec.
var JSON Codec = jsonCodec{}

// Msgpack is an optional binary payload codec.
var Msgpack Codec = msgpackCodec{}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
func (msgpackCodec) Name() string                       { return "msgpack" }
