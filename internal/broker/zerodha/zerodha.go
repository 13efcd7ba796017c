package zerodha

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"marketsync/internal/candles"
	"marketsync/internal/interfaces"
	"marketsync/internal/market"
	"marketsync/internal/types"
)

var ErrUnsupportedInterval = errors.New("interval not available from kite")

type Params struct {
	APIKey      string
	AccessToken string
	Exchange    string
	Instruments map[string]uint32
}

// Zerodha serves history and quotes from Kite Connect.
type Zerodha struct {
	p      Params
	api    kiteAPI
	mapper *instrumentMapper
	now    func() time.Time
}

var _ interfaces.MarketDataSource = (*Zerodha)(nil)

func NewZerodha(p Params) *Zerodha {
	if p.Exchange == "" {
		p.Exchange = "NSE"
	}
	return &Zerodha{
		p:      p,
		api:    newKiteClient(p.APIKey, p.AccessToken),
		mapper: newInstrumentMapper(p.Instruments),
		now:    market.Now,
	}
}

// History accepts a backend resolution code, the same code the REST
// backend takes.
func (z *Zerodha) History(ctx context.Context, symbol, resolution string, limit int) ([]types.Candle, error) {
	res, err := candles.ResolutionForCode(resolution)
	if err != nil {
		return nil, err
	}
	return z.candles(ctx, symbol, res, limit)
}

func (z *Zerodha) OHLC(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	res, err := candles.LookupResolution(interval)
	if err != nil {
		return nil, err
	}
	return z.candles(ctx, symbol, res, limit)
}

func (z *Zerodha) candles(ctx context.Context, symbol string, res candles.Resolution, limit int) ([]types.Candle, error) {
	if res.Kite == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedInterval, res.Token)
	}
	token, err := z.mapper.getToken(symbol)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	to := z.now()
	from := to.Add(-lookback(res, limit))

	bars, err := z.api.historical(token, res.Kite, from, to)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}

	out := make([]types.Candle, 0, len(bars))
	for _, b := range bars {
		out = append(out, types.Candle{
			Time:  b.Time.Unix(),
			Open:  b.Open,
			High:  b.High,
			Low:   b.Low,
			Close: b.Close,
		})
	}
	return out, nil
}

func (z *Zerodha) Latest(ctx context.Context, symbol string) (types.LatestQuote, error) {
	if _, err := z.mapper.getToken(symbol); err != nil {
		return types.LatestQuote{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.LatestQuote{}, err
	}

	instrument := z.p.Exchange + ":" + symbol
	q, ok, err := z.api.quote(instrument)
	if err != nil {
		return types.LatestQuote{}, err
	}
	if !ok {
		return types.LatestQuote{}, fmt.Errorf("%w: no quote for %s", ErrUnknownInstrument, instrument)
	}
	return latestFromQuote(q), nil
}

func latestFromQuote(q quoteSnap) types.LatestQuote {
	change := q.NetChange
	if q.PreviousClose > 0 {
		change = q.LastPrice - q.PreviousClose
	}
	out := types.LatestQuote{
		Price:         q.LastPrice,
		Change:        change,
		ChangePercent: types.PercentChange(change, q.PreviousClose),
	}
	if q.Open > 0 {
		out.Open = types.Float(q.Open)
	}
	if q.High > 0 {
		out.High = types.Float(q.High)
	}
	if q.Low > 0 {
		out.Low = types.Float(q.Low)
	}
	return out
}

// NSE trades 375 minutes a day.
const sessionMinutes = 375

// maxLookbackDays mirrors Kite's per-request range limits.
var maxLookbackDays = map[string]int{
	"minute":   60,
	"3minute":  100,
	"5minute":  100,
	"10minute": 100,
	"15minute": 200,
	"30minute": 200,
	"60minute": 400,
	"day":      2000,
}

// lookback sizes the from/to window so that limit candles fit inside it
// once weekends and overnight gaps are accounted for.
func lookback(res candles.Resolution, limit int) time.Duration {
	if limit < 1 {
		limit = 1
	}

	var tradingDays float64
	if res.Intraday() {
		perDay := math.Max(1, math.Floor(sessionMinutes/res.Duration.Minutes()))
		tradingDays = math.Ceil(float64(limit) / perDay)
	} else {
		tradingDays = float64(limit)
	}

	calendarDays := int(math.Ceil(tradingDays*7/5)) + 4
	if ceiling, ok := maxLookbackDays[res.Kite]; ok && calendarDays > ceiling {
		calendarDays = ceiling
	}
	return time.Duration(calendarDays) * 24 * time.Hour
}
