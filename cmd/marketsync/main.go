package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"marketsync/internal/logger"
	"marketsync/internal/metrics"
	"marketsync/internal/server"
	"marketsync/internal/stream"
	"marketsync/internal/trace"

	"golang.org/x/sync/errgroup"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	must(initializeSystem())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx)
	must(err)

	m := metrics.New()
	book := stream.NewPriceBook()
	src := initializeSource(ctx, cfg, m)
	feed := initializeFeed(ctx, cfg, book, m)

	tr, err := initializeTracker(cfg, src, feed, book, m)
	must(err)

	if err := subscribeConfigured(ctx, cfg, tr); err != nil {
		logger.ErrorWithErr(ctx, "Failed to open configured subscriptions", err)
		tr.Close(ctx)
		log.Fatal(err)
	}

	srv := server.New(cfg.Server.Addr, tr, m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})

	logger.Info(ctx, "marketsync started",
		"provider", cfg.Provider,
		"watchlist", len(cfg.Watchlist),
		"sparklines", len(cfg.Sparklines),
	)

	err = g.Wait()
	logger.Info(context.Background(), "Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr.Close(shutdownCtx)
	if terr := trace.Shutdown(shutdownCtx); terr != nil {
		logger.Warn(shutdownCtx, "Failed to flush traces", "error", terr)
	}

	if err != nil {
		logger.ErrorWithErr(shutdownCtx, "Server exited with error", err)
		log.Fatal(err)
	}
}
