package sourceobs

import (
	"context"
	"time"

	"marketsync/internal/interfaces"
	"marketsync/internal/logger"
	"marketsync/internal/metrics"
	"marketsync/internal/trace"
	"marketsync/internal/types"
)

// observableSource wraps a MarketDataSource with logging, tracing and
// request metrics
type observableSource struct {
	source  interfaces.MarketDataSource
	metrics *metrics.Metrics
}

// Compile-time interface check
var _ interfaces.MarketDataSource = (*observableSource)(nil)

func Wrap(source interfaces.MarketDataSource, m *metrics.Metrics) interfaces.MarketDataSource {
	return &observableSource{
		source:  source,
		metrics: m,
	}
}

func (so *observableSource) History(ctx context.Context, symbol, resolution string, limit int) ([]types.Candle, error) {
	ctx, span := trace.StartSpan(ctx, "source.History")
	defer span.End()
	if trace.Enabled() {
		span.SetAttributes(trace.SymbolAttrs(symbol, resolution, limit)...)
	}

	logger.DebugSkip(ctx, 1, "Fetching history", "symbol", symbol, "resolution", resolution, "limit", limit)

	start := time.Now()
	candles, err := so.source.History(ctx, symbol, resolution, limit)
	so.metrics.ObserveRequest("history", start, err)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch history", err, "symbol", symbol, "resolution", resolution)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "History fetched", "symbol", symbol, "count", len(candles))
	return candles, nil
}

func (so *observableSource) Latest(ctx context.Context, symbol string) (types.LatestQuote, error) {
	ctx, span := trace.StartSpan(ctx, "source.Latest")
	defer span.End()
	if trace.Enabled() {
		span.SetAttributes(trace.SymbolAttrs(symbol, "", 0)...)
	}

	start := time.Now()
	q, err := so.source.Latest(ctx, symbol)
	so.metrics.ObserveRequest("latest", start, err)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch latest quote", err, "symbol", symbol)
		return types.LatestQuote{}, err
	}

	logger.DebugSkip(ctx, 1, "Latest quote fetched", "symbol", symbol, "price", q.Price)
	return q, nil
}

// OHLC failures are routine while polling and are logged at warn.
func (so *observableSource) OHLC(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	ctx, span := trace.StartSpan(ctx, "source.OHLC")
	defer span.End()
	if trace.Enabled() {
		span.SetAttributes(trace.SymbolAttrs(symbol, interval, limit)...)
	}

	start := time.Now()
	candles, err := so.source.OHLC(ctx, symbol, interval, limit)
	so.metrics.ObserveRequest("ohlc", start, err)
	if err != nil {
		logger.WarnSkip(ctx, 1, "OHLC poll failed", "symbol", symbol, "interval", interval, "error", err)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "OHLC fetched", "symbol", symbol, "interval", interval, "count", len(candles))
	return candles, nil
}
