package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes envelopes into frame payloads.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	// JSON encodes envelopes as JSON text.
	JSON Codec = jsonCodec{}
	// MsgPack encodes envelopes as MessagePack, honoring json struct tags.
	MsgPack Codec = msgpackCodec{}
)

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// EncodeRequest packs a request and its attachments into a frame.
func EncodeRequest(c Codec, req Request, attachments ...[]byte) (Frame, error) {
	data, err := c.Marshal(req)
	if err != nil {
		return Frame{}, fmt.Errorf("encode request: %w", err)
	}
	return Frame{Payload: data, Attachments: attachments}, nil
}

// DecodeRequest unpacks a request frame.
func DecodeRequest(c Codec, f Frame) (Request, error) {
	var req Request
	if err := c.Unmarshal(f.Payload, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// PeekRequest recovers the id and method of a request frame that does
// not decode as a Request. It reports false when no id can be read.
func PeekRequest(c Codec, f Frame) (Request, bool) {
	var m map[string]any
	if err := c.Unmarshal(f.Payload, &m); err != nil {
		return Request{}, false
	}
	id, ok := requestID(m["id"])
	if !ok {
		return Request{}, false
	}
	method, _ := m["method"].(string)
	return Request{ID: id, Method: Method(method)}, true
}

func requestID(v any) (uint64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case int16:
		f = float64(x)
	case int8:
		f = float64(x)
	case uint64:
		return x, x > 0
	case uint32:
		return uint64(x), x > 0
	case uint16:
		return uint64(x), x > 0
	case uint8:
		return uint64(x), x > 0
	default:
		return 0, false
	}
	if f <= 0 || f != math.Trunc(f) || f >= math.MaxUint64 {
		return 0, false
	}
	return uint64(f), true
}

// EncodeResponse packs a response and its attachments into a frame.
func EncodeResponse(c Codec, resp Response, attachments ...[]byte) (Frame, error) {
	data, err := c.Marshal(resp)
	if err != nil {
		return Frame{}, fmt.Errorf("encode response: %w", err)
	}
	return Frame{Payload: data, Attachments: attachments}, nil
}

// DecodeResponse unpacks a response frame.
func DecodeResponse(c Codec, f Frame) (Response, error) {
	var resp Response
	if err := c.Unmarshal(f.Payload, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
