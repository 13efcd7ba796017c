package stream

import (
	"encoding/json"

	"marketsync/internal/types"

	"github.com/shopspring/decimal"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type priceData struct {
	Symbol string              `json:"symbol"`
	Value  decimal.NullDecimal `json:"value"`
	Open   decimal.NullDecimal `json:"open"`
	High   decimal.NullDecimal `json:"high"`
	Low    decimal.NullDecimal `json:"low"`
	Close  decimal.NullDecimal `json:"close"`
}

// decodeFrame returns ok=false for anything that is not a well-formed price
// frame. Heartbeats and control frames share the channel.
func decodeFrame(b []byte) (types.PriceTick, bool) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil || f.Type != "price" || len(f.Data) == 0 {
		return types.PriceTick{}, false
	}

	var d priceData
	if err := json.Unmarshal(f.Data, &d); err != nil {
		return types.PriceTick{}, false
	}
	if d.Symbol == "" || !d.Value.Valid {
		return types.PriceTick{}, false
	}

	return types.PriceTick{
		Symbol: d.Symbol,
		Value:  d.Value.Decimal.InexactFloat64(),
		Open:   ptr(d.Open),
		High:   ptr(d.High),
		Low:    ptr(d.Low),
		Close:  ptr(d.Close),
	}, true
}

func ptr(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	return types.Float(d.Decimal.InexactFloat64())
}
