// Package execution defines the execution report emitted for every match
// and carried through the outbox, Kafka and the websocket feed.
package execution

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stockbook/domain/orderbook"
)

// Report is a sequenced, timestamped execution record.
type Report struct {
	ID       uuid.UUID       `json:"id"`
	Seq      uint64          `json:"seq"`
	Quantity int64           `json:"quantity"`
	Ticker   string          `json:"ticker"`
	Price    float64         `json:"price"`
	Notional decimal.Decimal `json:"notional"`
	Time     time.Time       `json:"time"`
}

// NewReport stamps e with seq and at.
func NewReport(seq uint64, e orderbook.Execution, at time.Time) Report {
	return Report{
		ID:       uuid.New(),
		Seq:      seq,
		Quantity: e.Quantity,
		Ticker:   e.Ticker,
		Price:    e.Price,
		Notional: Notional(e.Quantity, e.Price),
		Time:     at.UTC(),
	}
}

// Notional is quantity times price computed in decimal. The book accepts
// any price, so a non-finite one yields a zero notional.
func Notional(quantity int64, price float64) decimal.Decimal {
	if math.IsInf(price, 0) || math.IsNaN(price) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(price).Mul(decimal.NewFromInt(quantity))
}

// Key is the partitioning key used when publishing r.
func (r Report) Key() []byte {
	return []byte(r.Ticker)
}

// MarshalJSON writes a non-finite Price as the string "+Inf", "-Inf" or
// "NaN"; encoding/json rejects those as numbers.
func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	return json.Marshal(struct {
		plain
		Price jsonFloat `json:"price"`
	}{plain(r), jsonFloat(r.Price)})
}

func (r *Report) UnmarshalJSON(b []byte) error {
	type plain Report
	aux := struct {
		*plain
		Price jsonFloat `json:"price"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.Price = float64(aux.Price)
	return nil
}

type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return []byte(strconv.Quote(strconv.FormatFloat(v, 'g', -1, 64))), nil
	}
	return json.Marshal(v)
}

func (f *jsonFloat) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = jsonFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = jsonFloat(v)
	return nil
}
