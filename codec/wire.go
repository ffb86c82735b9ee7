package codec

import (
	"bytes"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// WireCodec serializes event frames for publication.
type WireCodec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// Name returns the codec identifier ("json" or "msgpack").
	Name() string
}

// Wire codec names accepted by GetWireCodec.
const (
	WireJSON    = "json"
	WireMsgpack = "msgpack"
)

// GetWireCodec returns a codec by name. Defaults to JSON.
func GetWireCodec(name string) WireCodec {
	switch name {
	case WireMsgpack:
		return MsgpackWire{}
	case WireJSON, "":
		return JSONWire{}
	default:
		return JSONWire{}
	}
}

// JSONWire encodes frames as JSON.
type JSONWire struct{}

func (JSONWire) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONWire) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONWire) Name() string                       { return WireJSON }

// MsgpackWire encodes frames as MessagePack, honouring json struct tags.
type MsgpackWire struct{}

func (MsgpackWire) Marshal(v any) ([]byte, error) {
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)

	var buf bytes.Buffer
	enc.Reset(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackWire) Unmarshal(data []byte, v any) error {
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)

	dec.Reset(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func (MsgpackWire) Name() string { return WireMsgpack }
