package zerodha

import (
	"fmt"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

// bar and quoteSnap are the subset of Kite Connect responses this package
// reads. Keeping them local lets tests fake kiteAPI without building
// kiteconnect's anonymous quote structs.
type bar struct {
	Time                   time.Time
	Open, High, Low, Close float64
}

type quoteSnap struct {
	LastPrice     float64
	NetChange     float64
	Open          float64
	High          float64
	Low           float64
	PreviousClose float64
}

type kiteAPI interface {
	historical(token uint32, interval string, from, to time.Time) ([]bar, error)
	quote(instrument string) (quoteSnap, bool, error)
}

type kiteClient struct {
	kc *kiteconnect.Client
}

func newKiteClient(apiKey, accessToken string) *kiteClient {
	kc := kiteconnect.New(apiKey)
	kc.SetAccessToken(accessToken)
	return &kiteClient{kc: kc}
}

func (k *kiteClient) historical(token uint32, interval string, from, to time.Time) ([]bar, error) {
	rows, err := k.kc.GetHistoricalData(int(token), interval, from, to, false, false)
	if err != nil {
		return nil, fmt.Errorf("kite historical data: %w", err)
	}
	out := make([]bar, 0, len(rows))
	for _, r := range rows {
		out = append(out, bar{
			Time:  r.Date.Time,
			Open:  r.Open,
			High:  r.High,
			Low:   r.Low,
			Close: r.Close,
		})
	}
	return out, nil
}

func (k *kiteClient) quote(instrument string) (quoteSnap, bool, error) {
	quotes, err := k.kc.GetQuote(instrument)
	if err != nil {
		return quoteSnap{}, false, fmt.Errorf("kite quote: %w", err)
	}
	q, ok := quotes[instrument]
	if !ok {
		return quoteSnap{}, false, nil
	}
	return quoteSnap{
		LastPrice:     q.LastPrice,
		NetChange:     q.NetChange,
		Open:          q.OHLC.Open,
		High:          q.OHLC.High,
		Low:           q.OHLC.Low,
		PreviousClose: q.OHLC.Close,
	}, true, nil
}
