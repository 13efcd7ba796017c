package rest

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// number decodes a JSON number or numeric string. Anything else (including
// null or a missing field) decodes to an invalid value instead of failing the
// whole payload, so one bad row cannot poison a candle series.
type number struct {
	d decimal.NullDecimal
}

func (n *number) UnmarshalJSON(b []byte) error {
	if err := n.d.UnmarshalJSON(b); err != nil {
		n.d = decimal.NullDecimal{}
	}
	return nil
}

// Float returns NaN for invalid values.
func (n number) Float() float64 {
	if !n.d.Valid {
		return math.NaN()
	}
	return n.d.Decimal.InexactFloat64()
}

func (n number) Ptr() *float64 {
	if !n.d.Valid {
		return nil
	}
	v := n.d.Decimal.InexactFloat64()
	return &v
}

// epoch decodes epoch seconds, epoch milliseconds, a numeric string or an
// RFC3339 timestamp into epoch seconds. Unparseable input leaves it at 0.
type epoch int64

// Values above this are treated as milliseconds (year 33658 in seconds).
const msThreshold = 1e12

func (e *epoch) UnmarshalJSON(b []byte) error {
	*e = 0
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}

	s := string(b)
	if b[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return nil
		}
		s = unq
	}

	if d, err := decimal.NewFromString(s); err == nil {
		if d.GreaterThanOrEqual(decimal.NewFromFloat(msThreshold)) {
			d = d.Div(decimal.NewFromInt(1000))
		}
		*e = epoch(d.IntPart())
		return nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		*e = epoch(t.Unix())
	}
	return nil
}

type historyCandle struct {
	T epoch  `json:"t"`
	O number `json:"o"`
	H number `json:"h"`
	L number `json:"l"`
	C number `json:"c"`
}

type historyResponse struct {
	Candles []historyCandle `json:"candles"`
	Error   json.RawMessage `json:"error"`
}

type ohlcCandle struct {
	Time  epoch  `json:"time"`
	Open  number `json:"open"`
	High  number `json:"high"`
	Low   number `json:"low"`
	Close number `json:"close"`
}

type ohlcResponse struct {
	Data  []ohlcCandle    `json:"data"`
	Error json.RawMessage `json:"error"`
}

type latestResponse struct {
	Price         number          `json:"price"`
	Open          number          `json:"open"`
	High          number          `json:"high"`
	Low           number          `json:"low"`
	Change        number          `json:"change"`
	ChangePercent number          `json:"changePercent"`
	Error         json.RawMessage `json:"error"`
}

// upstreamMessage extracts a readable message from an `error` field, which
// may be a string or an arbitrary JSON value. Empty means no error.
func upstreamMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "false" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return ""
		}
		return s
	}
	return string(raw)
}
