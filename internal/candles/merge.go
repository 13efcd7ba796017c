package candles

import (
	"math"

	"marketsync/internal/types"
)

// Merge folds a live price into the open tail candle of series: Close and
// Value take the price, High and Low widen to include it. It returns a new
// slice and leaves series untouched. An empty series is returned unchanged
// with merged=false; no candle is fabricated.
func Merge(series []types.Candle, price float64) (out []types.Candle, merged bool) {
	if len(series) == 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return series, false
	}

	out = make([]types.Candle, len(series))
	copy(out, series)

	tail := &out[len(out)-1]
	tail.Close = price
	tail.Value = price
	tail.High = math.Max(tail.High, price)
	tail.Low = math.Min(tail.Low, price)
	return out, true
}

// WindowChange derives the last traded price and the change across the
// window: last close minus first open, as a percentage of first open.
func WindowChange(series []types.Candle) (last, change, percent float64) {
	if len(series) == 0 {
		return 0, 0, 0
	}
	first := series[0]
	last = series[len(series)-1].Close
	change = last - first.Open
	return last, change, types.PercentChange(change, first.Open)
}

// Compare computes a resolution comparison from the last two candles of a
// series. With fewer than two candles it returns a flat comparison.
func Compare(series []types.Candle, fallbackPrice float64) types.Comparison {
	switch len(series) {
	case 0:
		return types.FlatComparison(fallbackPrice)
	case 1:
		c := series[0]
		return types.Comparison{PreviousClose: c.Close, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close}
	}

	prev := series[len(series)-2]
	cur := series[len(series)-1]
	change := cur.Close - prev.Close
	return types.Comparison{
		PreviousClose: prev.Close,
		PriceChange:   change,
		ChangePercent: types.PercentChange(change, prev.Close),
		Open:          cur.Open,
		High:          cur.High,
		Low:           cur.Low,
		Close:         cur.Close,
	}
}
