package codec

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"

	"stockbook/domain/execution"
)

// Field numbers of stockbook.v1.ExecutionReport (see execution.proto).
const (
	fieldID       protowire.Number = 1
	fieldSeq      protowire.Number = 2
	fieldQuantity protowire.Number = 3
	fieldTicker   protowire.Number = 4
	fieldPrice    protowire.Number = 5
	fieldNotional protowire.Number = 6
	fieldTime     protowire.Number = 7
)

// ProtoSerializer writes reports in protobuf wire format.
type ProtoSerializer struct{}

func (ProtoSerializer) Name() string { return "proto" }

func (ProtoSerializer) Encode(r execution.Report) ([]byte, error) {
	b := make([]byte, 0, 64+len(r.Ticker))

	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendBytes(b, r.ID[:])
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Seq)
	b = protowire.AppendTag(b, fieldQuantity, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.Quantity))
	b = protowire.AppendTag(b, fieldTicker, protowire.BytesType)
	b = protowire.AppendString(b, r.Ticker)
	b = protowire.AppendTag(b, fieldPrice, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(r.Price))
	b = protowire.AppendTag(b, fieldNotional, protowire.BytesType)
	b = protowire.AppendString(b, r.Notional.String())
	b = protowire.AppendTag(b, fieldTime, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.Time.UnixNano()))

	return b, nil
}

func (ProtoSerializer) Decode(b []byte) (execution.Report, error) {
	var r execution.Report
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, errors.Wrap(protowire.ParseError(n), "decode tag")
		}
		b = b[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return r, errors.Wrap(protowire.ParseError(m), "decode id")
			}
			id, err := uuid.FromBytes(v)
			if err != nil {
				return r, errors.Wrap(err, "decode id")
			}
			r.ID = id
			n = m
		case num == fieldSeq && typ == protowire.VarintType:
			r.Seq, n = protowire.ConsumeVarint(b)
		case num == fieldQuantity && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.Quantity = protowire.DecodeZigZag(v)
		case num == fieldTicker && typ == protowire.BytesType:
			r.Ticker, n = protowire.ConsumeString(b)
		case num == fieldPrice && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(b)
			r.Price = math.Float64frombits(v)
		case num == fieldNotional && typ == protowire.BytesType:
			var s string
			s, n = protowire.ConsumeString(b)
			if n >= 0 {
				d, err := decimal.NewFromString(s)
				if err != nil {
					return r, errors.Wrap(err, "decode notional")
				}
				r.Notional = d
			}
		case num == fieldTime && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.Time = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return r, errors.Wrap(fieldError{num: int32(num), msg: protowire.ParseError(n).Error()}, "decode report")
		}
		b = b[n:]
	}
	return r, nil
}

type fieldError struct {
	num int32
	msg string
}

func (e fieldError) Error() string {
	return fmt.Sprintf("codec: field %d: %s", e.num, e.msg)
}
