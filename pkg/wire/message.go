// Package wire defines the request/response protocol spoken between a
// client and a worker, its codecs and its transports.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Method names a worker operation.
type Method string

const (
	MethodAdd   Method = "add"
	MethodDrop  Method = "drop"
	MethodFetch Method = "fetch"
	MethodList  Method = "list"
	MethodLoad  Method = "load"
	MethodQuery Method = "query"
	MethodSeed  Method = "seed"
)

// Status tags a response as a result or an error.
type Status string

const (
	StatusResult Status = "RESULT"
	StatusError  Status = "ERROR"
)

// Raw is an encoded JSON document carried inside an envelope. It is
// decoded only by the side that understands it.
type Raw []byte

// NewRaw encodes v as a JSON document. Nil returns nil.
func NewRaw(v any) (Raw, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Raw(data), nil
}

// Decode unmarshals the document into v. An empty document leaves v unchanged.
func (r Raw) Decode(v any) error {
	if len(r) == 0 {
		return nil
	}
	return json.Unmarshal(r, v)
}

func (r Raw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	if !json.Valid(r) {
		return nil, errors.New("wire: raw value is not valid JSON")
	}
	return r, nil
}

func (r *Raw) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = nil
		return nil
	}
	*r = append((*r)[:0], data...)
	return nil
}

// Request asks the worker to run Method with Params.
type Request struct {
	ID     uint64 `json:"id"`
	Method Method `json:"method"`
	Params Raw    `json:"params,omitempty"`
}

// RequestRef echoes the request a response answers.
type RequestRef struct {
	ID     uint64 `json:"id"`
	Method Method `json:"method"`
}

// Response answers one request. Result is set for RESULT and Error for
// ERROR.
type Response struct {
	Status  Status     `json:"status"`
	Request RequestRef `json:"request"`
	Result  Raw        `json:"result,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// Reply builds a RESULT response for req.
func Reply(req Request, result any) (Response, error) {
	raw, err := NewRaw(result)
	if err != nil {
		return Response{}, fmt.Errorf("encode %s result: %w", req.Method, err)
	}
	return Response{
		Status:  StatusResult,
		Request: RequestRef{ID: req.ID, Method: req.Method},
		Result:  raw,
	}, nil
}

// Fail builds an ERROR response for req.
func Fail(req Request, msg string) Response {
	return Response{
		Status:  StatusError,
		Request: RequestRef{ID: req.ID, Method: req.Method},
		Error:   msg,
	}
}

// Frame is one transport unit: an encoded envelope plus binary
// attachments that travel beside it unencoded.
type Frame struct {
	Payload     []byte
	Attachments [][]byte
}
