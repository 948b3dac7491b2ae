package grpcserver

import (
	"github.com/pkg/errors"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

// Name is the codec carrying the order service messages. It replaces
// grpc's default proto codec and still handles generated messages.
const Name = "proto"

func init() {
	encoding.RegisterCodec(wireCodec{})
}

// wireMessage is implemented by the hand-encoded messages in messages.go.
type wireMessage interface {
	appendWire(b []byte) ([]byte, error)
	consumeWire(b []byte) error
}

type wireCodec struct{}

func (wireCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case wireMessage:
		return m.appendWire(nil)
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, errors.Errorf("grpcserver: cannot marshal %T", v)
	}
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case wireMessage:
		return m.consumeWire(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return errors.Errorf("grpcserver: cannot unmarshal into %T", v)
	}
}

func (wireCodec) Name() string {
	return Name
}
