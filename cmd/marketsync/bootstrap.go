package main

import (
	"context"
	"fmt"
	"os"

	"marketsync/internal/api"
	"marketsync/internal/broker/zerodha"
	"marketsync/internal/fetcher"
	"marketsync/internal/interfaces"
	"marketsync/internal/loader"
	"marketsync/internal/logger"
	"marketsync/internal/metrics"
	"marketsync/internal/source/rest"
	"marketsync/internal/source/sourceobs"
	"marketsync/internal/store"
	"marketsync/internal/stream"
	"marketsync/internal/trace"
	"marketsync/internal/tracker"

	"github.com/joho/godotenv"
)

// initializeSystem loads .env and initializes logger and tracer
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func configPath() string {
	if p := os.Getenv("MARKETSYNC_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func loadConfig(ctx context.Context) (*store.Config, error) {
	cfg, err := store.LoadConfig(configPath())
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", configPath())
		return nil, err
	}
	return cfg, nil
}

func kiteParams(cfg *store.Config) zerodha.Params {
	return zerodha.Params{
		APIKey:      cfg.Kite.APIKey,
		AccessToken: cfg.Kite.AccessToken,
		Exchange:    cfg.Kite.Exchange,
		Instruments: cfg.Kite.Instruments,
	}
}

// initializeSource builds the market data source with observability
func initializeSource(ctx context.Context, cfg *store.Config, m *metrics.Metrics) interfaces.MarketDataSource {
	var src interfaces.MarketDataSource

	switch cfg.Provider {
	case store.ProviderKite:
		logger.Info(ctx, "Using Kite Connect market data", "exchange", cfg.Kite.Exchange)
		src = zerodha.NewZerodha(kiteParams(cfg))
	default:
		logger.Info(ctx, "Using REST market data", "base_url", cfg.REST.BaseURL)
		httpClient := api.NewClient(
			api.WithBaseURL(cfg.REST.BaseURL),
			api.WithTimeout(cfg.RESTTimeout()),
			api.WithLogging(logger.IsDebugEnabled()),
		)
		src = rest.New(httpClient,
			rest.WithPaths(rest.Paths{
				History: cfg.REST.HistoryPath,
				Latest:  cfg.REST.LatestPath,
				OHLC:    cfg.REST.OHLCPath,
			}),
			rest.WithRetry(api.DefaultRetryConfig()),
		)
	}

	return sourceobs.Wrap(src, m)
}

// initializeFeed builds the streaming price feed writing into book
func initializeFeed(ctx context.Context, cfg *store.Config, book *stream.PriceBook, m *metrics.Metrics) interfaces.PriceFeed {
	if cfg.Provider == store.ProviderKite {
		logger.Info(ctx, "Streaming prices from Kite ticker")
		return zerodha.NewFeed(kiteParams(cfg), book, m)
	}

	var policy stream.ReconnectPolicy = stream.FixedDelay(cfg.ReconnectDelay())
	if cfg.Stream.Reconnect.Strategy == store.ReconnectExponential {
		policy = stream.NewExponentialBackoff(cfg.ReconnectDelay(), cfg.ReconnectMaxDelay(), cfg.Stream.Reconnect.Jitter)
	}

	logger.Info(ctx, "Streaming prices from websocket",
		"url", cfg.Stream.URL,
		"reconnect", cfg.Stream.Reconnect.Strategy,
		"delay", cfg.ReconnectDelay(),
	)
	return stream.NewClient(cfg.Stream.URL, book,
		stream.WithReconnectPolicy(policy),
		stream.WithMetrics(m),
	)
}

func initializeTracker(cfg *store.Config, src interfaces.MarketDataSource, feed interfaces.PriceFeed, book *stream.PriceBook, m *metrics.Metrics) (*tracker.Tracker, error) {
	hours, err := cfg.Hours()
	if err != nil {
		return nil, err
	}

	l := loader.New(src,
		loader.WithHistoryLimit(cfg.History.Limit),
		loader.WithLabelCount(cfg.History.LabelCount),
		loader.WithComparisonIntervals(cfg.Comparison.Intervals),
		loader.WithLocation(hours.Location),
		loader.WithMetrics(m),
	)
	pool := fetcher.NewPool(src, hours,
		fetcher.WithPollInterval(cfg.PollInterval()),
		fetcher.WithLabelCount(cfg.History.LabelCount),
		fetcher.WithMetrics(m),
	)
	return tracker.New(l, book, feed, pool, m), nil
}

// subscribeConfigured opens the watchlist subscriptions and sparkline
// fetchers. They live until the tracker is closed.
func subscribeConfigured(ctx context.Context, cfg *store.Config, tr *tracker.Tracker) error {
	for _, w := range cfg.Watchlist {
		if _, err := tr.Subscribe(ctx, w.Symbol, w.Resolution); err != nil {
			return fmt.Errorf("subscribe %s/%s: %w", w.Symbol, w.Resolution, err)
		}
		logger.Info(ctx, "Watching symbol", "symbol", w.Symbol, "resolution", w.Resolution)
	}

	for _, s := range cfg.Sparklines {
		key := fetcher.Key{Symbol: s.Symbol, Interval: s.Interval, Limit: s.Limit}
		if _, err := tr.WatchSparkline(ctx, key); err != nil {
			return fmt.Errorf("sparkline %s: %w", key, err)
		}
		logger.Info(ctx, "Polling sparkline", "key", key.String())
	}
	return nil
}
