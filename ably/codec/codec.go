// Package codec encodes protocol messages and REST bodies for the wire.
//
// JSON is the text format; CBOR is the binary format. Both honor the json
// struct tags declared in package protocol.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec converts values to and from a wire format.
type Codec interface {
	Marshal(value any) ([]byte, error)
	Unmarshal(data []byte, value any) error
	// ContentType is the HTTP media type of the format.
	ContentType() string
	// Format is the value of the realtime "format" query parameter.
	Format() string
	// Binary reports whether frames carry binary rather than text data.
	Binary() bool
}

// ForBinary returns CBOR when binary is set and JSON otherwise.
func ForBinary(binary bool) Codec {
	if binary {
		return CBOR
	}
	return JSON
}

// ForContentType picks the codec for an HTTP media type.
func ForContentType(contentType string) (Codec, error) {
	switch contentType {
	case JSON.ContentType(), "application/json; charset=utf-8", "":
		return JSON, nil
	case CBOR.ContentType():
		return CBOR, nil
	}
	return nil, fmt.Errorf("codec: unsupported content type %q", contentType)
}

type jsonCodec struct{}

// JSON is the text codec.
var JSON Codec = jsonCodec{}

func (jsonCodec) Marshal(value any) ([]byte, error) { return json.Marshal(value) }

func (jsonCodec) Unmarshal(data []byte, value any) error { return json.Unmarshal(data, value) }

func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Format() string { return "json" }

func (jsonCodec) Binary() bool { return false }

type cborCodec struct {
	encMode cbor.EncMode
	decMode cbor.DecMode
}

// CBOR is the binary codec. Maps decode to map[string]any so payloads look
// the same as under JSON.
var CBOR Codec = newCBORCodec()

func newCBORCodec() cborCodec {
	encMode, err := cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeUnixMicro,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: cbor encoder options: %v", err))
	}
	decMode, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: cbor decoder options: %v", err))
	}
	return cborCodec{encMode: encMode, decMode: decMode}
}

func (codec cborCodec) Marshal(value any) ([]byte, error) { return codec.encMode.Marshal(value) }

func (codec cborCodec) Unmarshal(data []byte, value any) error {
	return codec.decMode.Unmarshal(data, value)
}

func (cborCodec) ContentType() string { return "application/cbor" }

func (cborCodec) Format() string { return "cbor" }

func (cborCodec) Binary() bool { return true }
