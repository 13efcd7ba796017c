package types

import (
	"math"
	"time"
)

// Candle is one OHLC bar. Value mirrors Close for chart consumers and Label
// is empty for every candle that should not carry axis text.
type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
	Value float64 `json:"value"`
	Label string  `json:"label"`
}

// Comparison is the change of one resolution's latest candle against the
// close of the candle before it.
type Comparison struct {
	PreviousClose float64 `json:"previousClose"`
	PriceChange   float64 `json:"priceChange"`
	ChangePercent float64 `json:"changePercent"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
}

type Quote struct {
	Price              float64               `json:"price"`
	Change             float64               `json:"change"`
	ChangePercent      float64               `json:"changePercent"`
	PreviousClose      float64               `json:"previousClose"`
	Open               *float64              `json:"open,omitempty"`
	High               *float64              `json:"high,omitempty"`
	Low                *float64              `json:"low,omitempty"`
	IntervalComparison map[string]Comparison `json:"intervalComparison"`
	UpdatedAt          time.Time             `json:"updatedAt"`
}

// LatestQuote is the snapshot returned by the latest-quote collaborator.
type LatestQuote struct {
	Price         float64
	Open          *float64
	High          *float64
	Low           *float64
	Change        float64
	ChangePercent float64
}

type PriceTick struct {
	Symbol string   `json:"symbol"`
	Value  float64  `json:"value"`
	Open   *float64 `json:"open,omitempty"`
	High   *float64 `json:"high,omitempty"`
	Low    *float64 `json:"low,omitempty"`
	Close  *float64 `json:"close,omitempty"`
}

// SymbolPriceState is the streamed view of one symbol. PrevClose is the
// session anchor: set on first observation and never overwritten after.
type SymbolPriceState struct {
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	PrevClose     float64 `json:"prevClose"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Timestamp     int64   `json:"timestamp"`
}

type ConnectionState int

const (
	Connecting ConnectionState = iota
	Open
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// PercentChange returns change/base*100, or 0 when base is zero or the
// result is not finite.
func PercentChange(change, base float64) float64 {
	if base == 0 {
		return 0
	}
	pct := change / base * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0
	}
	return pct
}

// FlatComparison is the zero-change placeholder used when a resolution
// could not be compared.
func FlatComparison(price float64) Comparison {
	return Comparison{
		PreviousClose: price,
		Open:          price,
		High:          price,
		Low:           price,
		Close:         price,
	}
}

// Float returns a pointer to v, for the optional quote fields.
func Float(v float64) *float64 { return &v }
