// Package loader performs the one-shot backfill for a subscription: a
// bounded candle history, the latest quote, and a per-resolution change
// table.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketsync/internal/candles"
	"marketsync/internal/interfaces"
	"marketsync/internal/logger"
	"marketsync/internal/market"
	"marketsync/internal/metrics"
	"marketsync/internal/types"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultHistoryLimit = 300
	comparisonLimit     = 2
)

var DefaultComparisonIntervals = []string{"5m", "15m", "1H", "1D"}

// Result is a completed load. Loading is always false; Err carries the
// non-fatal history and quote failures, if any.
type Result struct {
	Candles []types.Candle
	Quote   types.Quote
	Loading bool
	Err     error
}

type Option func(*Loader)

func WithHistoryLimit(n int) Option {
	return func(l *Loader) { l.limit = n }
}

func WithLabelCount(n int) Option {
	return func(l *Loader) { l.labelCount = n }
}

func WithComparisonIntervals(intervals []string) Option {
	return func(l *Loader) { l.intervals = intervals }
}

func WithLocation(loc *time.Location) Option {
	return func(l *Loader) { l.loc = loc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

type Loader struct {
	source     interfaces.MarketDataSource
	limit      int
	labelCount int
	intervals  []string
	loc        *time.Location
	metrics    *metrics.Metrics
	now        func() time.Time
}

func New(source interfaces.MarketDataSource, opts ...Option) *Loader {
	l := &Loader{
		source:     source,
		limit:      DefaultHistoryLimit,
		labelCount: candles.DefaultLabelCount,
		intervals:  DefaultComparisonIntervals,
		loc:        market.IST,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns an error only for an unknown resolution token. Every
// upstream failure degrades the result instead.
func (l *Loader) Load(ctx context.Context, symbol, resolution string) (Result, error) {
	res, err := candles.LookupResolution(resolution)
	if err != nil {
		return Result{}, err
	}

	var (
		raw        []types.Candle
		historyErr error
		latest     types.LatestQuote
		latestErr  error
		compSeries = make([][]types.Candle, len(l.intervals))
		compErr    = make([]error, len(l.intervals))
	)

	var g errgroup.Group
	g.Go(func() error {
		defer recoverInto(&historyErr, "history")
		raw, historyErr = l.source.History(ctx, symbol, res.Code, l.limit)
		return nil
	})
	g.Go(func() error {
		defer recoverInto(&latestErr, "latest")
		latest, latestErr = l.source.Latest(ctx, symbol)
		return nil
	})
	for i, iv := range l.intervals {
		g.Go(func() error {
			defer recoverInto(&compErr[i], "comparison "+iv)
			compSeries[i], compErr[i] = l.fetchComparison(ctx, symbol, iv)
			return nil
		})
	}
	g.Wait()

	series := []types.Candle{}
	if historyErr == nil {
		series = candles.Normalize(raw, res, l.loc, l.labelCount)
	} else {
		logger.Warn(ctx, "History load failed", "symbol", symbol, "resolution", resolution, "error", historyErr)
	}

	var quote types.Quote
	if latestErr == nil {
		quote = quoteFromLatest(latest, series)
	} else {
		logger.Warn(ctx, "Latest quote failed, deriving from candles", "symbol", symbol, "error", latestErr)
		quote = quoteFromCandles(series)
	}

	quote.IntervalComparison = make(map[string]types.Comparison, len(l.intervals))
	for i, iv := range l.intervals {
		if compErr[i] != nil {
			l.metrics.ComparisonFailed(iv)
			logger.Debug(ctx, "Comparison fetch failed", "symbol", symbol, "interval", iv, "error", compErr[i])
			quote.IntervalComparison[iv] = types.FlatComparison(quote.Price)
			continue
		}
		quote.IntervalComparison[iv] = candles.Compare(compSeries[i], quote.Price)
	}
	quote.UpdatedAt = l.now()

	return Result{
		Candles: series,
		Quote:   quote,
		Loading: false,
		Err:     errors.Join(historyErr, latestErr),
	}, nil
}

func (l *Loader) fetchComparison(ctx context.Context, symbol, interval string) ([]types.Candle, error) {
	res, err := candles.LookupResolution(interval)
	if err != nil {
		return nil, err
	}
	raw, err := l.source.History(ctx, symbol, res.Code, comparisonLimit)
	if err != nil {
		return nil, err
	}
	return candles.Normalize(raw, res, l.loc, l.labelCount), nil
}

// quoteFromLatest trusts the snapshot's price and change and recomputes the
// percentage from previousClose = price - change. Missing open/high/low come
// from the last candle.
func quoteFromLatest(lq types.LatestQuote, series []types.Candle) types.Quote {
	prevClose := lq.Price - lq.Change
	q := types.Quote{
		Price:         lq.Price,
		Change:        lq.Change,
		ChangePercent: types.PercentChange(lq.Change, prevClose),
		PreviousClose: prevClose,
		Open:          lq.Open,
		High:          lq.High,
		Low:           lq.Low,
	}
	if n := len(series); n > 0 {
		last := series[n-1]
		if q.Open == nil {
			q.Open = types.Float(last.Open)
		}
		if q.High == nil {
			q.High = types.Float(last.High)
		}
		if q.Low == nil {
			q.Low = types.Float(last.Low)
		}
	}
	return q
}

// quoteFromCandles uses the last close as price and the close before it as
// previous close (the last open when there is only one candle). An empty
// series yields the zero quote.
func quoteFromCandles(series []types.Candle) types.Quote {
	n := len(series)
	if n == 0 {
		return types.Quote{}
	}
	last := series[n-1]
	prevClose := last.Open
	if n > 1 {
		prevClose = series[n-2].Close
	}
	change := last.Close - prevClose
	return types.Quote{
		Price:         last.Close,
		Change:        change,
		ChangePercent: types.PercentChange(change, prevClose),
		PreviousClose: prevClose,
		Open:          types.Float(last.Open),
		High:          types.Float(last.High),
		Low:           types.Float(last.Low),
	}
}

func recoverInto(errp *error, what string) {
	if r := recover(); r != nil {
		*errp = fmt.Errorf("%s panicked: %v", what, r)
	}
}
