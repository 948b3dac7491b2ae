package grpcserver

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"stockbook/domain/execution"
	"stockbook/domain/orderbook"
	"stockbook/infra/codec"
)

// Messages of stockbook.v1.OrderService, written in protobuf wire format
// by hand (see order_service.proto).

type AddOrderRequest struct {
	Side     string
	Ticker   string
	Quantity int64
	Price    float64
}

type AddOrderResponse struct {
	Handle uint32
}

type MatchOrdersRequest struct{}

type MatchOrdersResponse struct {
	Executions []execution.Report
}

type SnapshotRequest struct{}

type SnapshotResponse struct {
	LastSeq uint64
	Orders  []OrderEntry
}

type OrderEntry struct {
	Handle   uint32
	Side     string
	Ticker   string
	Quantity int64
	Price    float64
}

var reportCodec = codec.ProtoSerializer{}

// -------------------- AddOrder --------------------

func (m *AddOrderRequest) appendWire(b []byte) ([]byte, error) {
	b = appendString(b, 1, m.Side)
	b = appendString(b, 2, m.Ticker)
	b = appendSint64(b, 3, m.Quantity)
	b = appendDouble(b, 4, m.Price)
	return b, nil
}

func (m *AddOrderRequest) consumeWire(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return consumeString(b, &m.Side)
		case num == 2 && typ == protowire.BytesType:
			return consumeString(b, &m.Ticker)
		case num == 3 && typ == protowire.VarintType:
			return consumeSint64(b, &m.Quantity)
		case num == 4 && typ == protowire.Fixed64Type:
			return consumeDouble(b, &m.Price)
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

func (m *AddOrderResponse) appendWire(b []byte) ([]byte, error) {
	return appendUint(b, 1, uint64(m.Handle)), nil
}

func (m *AddOrderResponse) consumeWire(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			m.Handle = uint32(v)
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

// -------------------- MatchOrders --------------------

func (*MatchOrdersRequest) appendWire(b []byte) ([]byte, error) { return b, nil }

func (*MatchOrdersRequest) consumeWire(b []byte) error { return skipAll(b) }

func (m *MatchOrdersResponse) appendWire(b []byte) ([]byte, error) {
	for _, r := range m.Executions {
		raw, err := reportCodec.Encode(r)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)
	}
	return b, nil
}

func (m *MatchOrdersResponse) consumeWire(b []byte) error {
	var decodeErr error
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 && typ == protowire.BytesType {
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			r, err := reportCodec.Decode(raw)
			if err != nil {
				decodeErr = err
				return -1
			}
			m.Executions = append(m.Executions, r)
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
	if decodeErr != nil {
		return decodeErr
	}
	return err
}

// -------------------- GetSnapshot --------------------

func (*SnapshotRequest) appendWire(b []byte) ([]byte, error) { return b, nil }

func (*SnapshotRequest) consumeWire(b []byte) error { return skipAll(b) }

func (m *SnapshotResponse) appendWire(b []byte) ([]byte, error) {
	b = appendUint(b, 1, m.LastSeq)
	for i := range m.Orders {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Orders[i].appendEntry(nil))
	}
	return b, nil
}

func (m *SnapshotResponse) consumeWire(b []byte) error {
	var entryErr error
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			var n int
			m.LastSeq, n = protowire.ConsumeVarint(b)
			return n
		case num == 2 && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			var e OrderEntry
			if err := e.consumeEntry(raw); err != nil {
				entryErr = err
				return -1
			}
			m.Orders = append(m.Orders, e)
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
	if entryErr != nil {
		return entryErr
	}
	return err
}

func (e *OrderEntry) appendEntry(b []byte) []byte {
	b = appendUint(b, 1, uint64(e.Handle))
	b = appendString(b, 2, e.Side)
	b = appendString(b, 3, e.Ticker)
	b = appendSint64(b, 4, e.Quantity)
	return appendDouble(b, 5, e.Price)
}

func (e *OrderEntry) consumeEntry(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.Handle = uint32(v)
			return n
		case num == 2 && typ == protowire.BytesType:
			return consumeString(b, &e.Side)
		case num == 3 && typ == protowire.BytesType:
			return consumeString(b, &e.Ticker)
		case num == 4 && typ == protowire.VarintType:
			return consumeSint64(b, &e.Quantity)
		case num == 5 && typ == protowire.Fixed64Type:
			return consumeDouble(b, &e.Price)
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

// -------------------- Wire helpers --------------------

// Proto3 leaves zero scalars off the wire.

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	bits := math.Float64bits(v)
	if bits == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, bits)
}

func consumeString(b []byte, dst *string) int {
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func consumeSint64(b []byte, dst *int64) int {
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = protowire.DecodeZigZag(v)
	}
	return n
}

func consumeDouble(b []byte, dst *float64) int {
	v, n := protowire.ConsumeFixed64(b)
	if n >= 0 {
		*dst = math.Float64frombits(v)
	}
	return n
}

// consumeFields walks b field by field. fn consumes one field value and
// returns its length, or a negative protowire error code.
func consumeFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "grpcserver: decode tag")
		}
		b = b[n:]

		n = fn(num, typ, b)
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "grpcserver: decode field %d", num)
		}
		b = b[n:]
	}
	return nil
}

func skipAll(b []byte) error {
	return consumeFields(b, protowire.ConsumeFieldValue)
}

// -------------------- Converters --------------------

func toSide(s string) (orderbook.Side, bool) {
	switch strings.ToUpper(s) {
	case "BUY", "BID":
		return orderbook.Buy, true
	case "SELL", "ASK":
		return orderbook.Sell, true
	default:
		return 0, false
	}
}

func fromSide(s orderbook.Side) string {
	return s.String()
}
