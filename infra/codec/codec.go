// Package codec turns execution reports into bytes for the outbox and
// the broker, and back.
package codec

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"stockbook/domain/execution"
	"stockbook/infra/memory"
)

// Serializer encodes and decodes execution reports.
type Serializer interface {
	Name() string
	Encode(execution.Report) ([]byte, error)
	Decode([]byte) (execution.Report, error)
}

// ErrUnknownCodec is returned by ByName.
var ErrUnknownCodec = errors.New("codec: unknown serializer")

// ByName returns the serializer registered under name ("json" or "proto").
func ByName(name string) (Serializer, error) {
	switch name {
	case "", "json":
		return JSONSerializer{}, nil
	case "proto", "protobuf":
		return ProtoSerializer{}, nil
	default:
		return nil, errors.Wrap(ErrUnknownCodec, name)
	}
}

// ---------- JSON ----------

var buffers = memory.NewPool(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) { b.Reset() },
)

type JSONSerializer struct{}

func (JSONSerializer) Name() string { return "json" }

func (JSONSerializer) Encode(r execution.Report) ([]byte, error) {
	buf := buffers.Get()
	defer buffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(r); err != nil {
		return nil, errors.Wrap(err, "encode report")
	}
	return bytes.Clone(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func (JSONSerializer) Decode(b []byte) (execution.Report, error) {
	var r execution.Report
	if err := json.Unmarshal(b, &r); err != nil {
		return r, errors.Wrap(err, "decode report")
	}
	return r, nil
}
