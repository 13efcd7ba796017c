package interfaces

import (
	"context"

	"marketsync/internal/types"
)

// MarketDataSource is the request/response side of the market data backend.
type MarketDataSource interface {
	// History returns up to limit candles for a backend resolution code.
	History(ctx context.Context, symbol, resolution string, limit int) ([]types.Candle, error)

	// Latest returns the current quote snapshot for a symbol.
	Latest(ctx context.Context, symbol string) (types.LatestQuote, error)

	// OHLC returns up to limit recent candles for a UI-facing interval token.
	OHLC(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error)
}
