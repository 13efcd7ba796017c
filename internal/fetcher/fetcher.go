// Package fetcher polls OHLC candles for one (symbol, interval, limit) key
// while the market is open and derives a window-relative quote from them.
package fetcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"marketsync/internal/candles"
	"marketsync/internal/interfaces"
	"marketsync/internal/logger"
	"marketsync/internal/market"
	"marketsync/internal/metrics"
	"marketsync/internal/types"

	"github.com/robfig/cron/v3"
)

const DefaultPollInterval = 60 * time.Second

type Key struct {
	Symbol   string
	Interval string
	Limit    int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Symbol, k.Interval, k.Limit)
}

// Snapshot is what consumers read. PriceChange and PercentChange are
// relative to the first candle of the fetched window, not to the previous
// day's close. Loading is true while any fetch is outstanding; cached
// candles stay readable meanwhile.
type Snapshot struct {
	Candles         []types.Candle `json:"candles"`
	LastTradedPrice float64        `json:"lastTradedPrice"`
	PriceChange     float64        `json:"priceChange"`
	PercentChange   float64        `json:"percentChange"`
	Loading         bool           `json:"loading"`
	Err             error          `json:"-"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

type Option func(*Fetcher)

func WithPollInterval(d time.Duration) Option {
	return func(f *Fetcher) { f.every = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

func WithLabelCount(n int) Option {
	return func(f *Fetcher) { f.labelCount = n }
}

func withClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

type Fetcher struct {
	key        Key
	res        candles.Resolution
	source     interfaces.MarketDataSource
	hours      market.Hours
	every      time.Duration
	labelCount int
	metrics    *metrics.Metrics
	now        func() time.Time

	mu        sync.RWMutex
	snap      Snapshot
	hasData   bool
	observers map[uint64]func(Snapshot)
	nextID    uint64

	inflight atomic.Bool
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(key Key, source interfaces.MarketDataSource, hours market.Hours, opts ...Option) (*Fetcher, error) {
	res, err := candles.LookupResolution(key.Interval)
	if err != nil {
		return nil, err
	}
	if key.Limit < 1 {
		return nil, fmt.Errorf("fetcher %s: limit must be positive", key)
	}

	f := &Fetcher{
		key:        key,
		res:        res,
		source:     source,
		hours:      hours,
		every:      DefaultPollInterval,
		labelCount: candles.DefaultLabelCount,
		now:        market.Now,
		observers:  make(map[uint64]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Fetcher) Key() Key { return f.key }

// Start fetches once right away, whatever the time, and then polls every
// interval while the market is open.
func (f *Fetcher) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.cron != nil {
		f.mu.Unlock()
		return nil
	}
	f.ctx, f.cancel = context.WithCancel(context.WithoutCancel(ctx))
	f.snap.Loading = true

	l := cronLogger{}
	f.cron = cron.New(
		cron.WithLocation(f.hours.Location),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	f.cron.Schedule(cron.Every(f.every), cron.FuncJob(f.tick))
	f.cron.Start()
	runCtx := f.ctx
	f.mu.Unlock()

	logger.Debug(ctx, "Fetcher started", "key", f.key.String(), "every", f.every)
	go f.poll(runCtx)
	return nil
}

// Stop halts polling. Fetches still in flight complete but their results
// are discarded.
func (f *Fetcher) Stop() {
	f.mu.Lock()
	c, cancel := f.cron, f.cancel
	f.cron, f.cancel = nil, nil
	f.observers = make(map[uint64]func(Snapshot))
	f.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	c.Stop()
	logger.Debug(context.Background(), "Fetcher stopped", "key", f.key.String())
}

func (f *Fetcher) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap
}

// OnUpdate registers fn for every completed fetch. fn runs on the fetching
// goroutine and must not block.
func (f *Fetcher) OnUpdate(fn func(Snapshot)) (cancel func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.observers[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.observers, id)
		f.mu.Unlock()
	}
}

// tick is the cron job. Outside market hours it does nothing.
func (f *Fetcher) tick() {
	f.mu.RLock()
	ctx := f.ctx
	f.mu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	if !f.hours.IsOpen(f.now()) {
		f.metrics.Poll("market_closed")
		return
	}
	f.poll(ctx)
}

func (f *Fetcher) poll(ctx context.Context) {
	if !f.inflight.CompareAndSwap(false, true) {
		f.metrics.Poll("busy")
		return
	}
	defer f.inflight.Store(false)

	f.mu.Lock()
	if ctx.Err() != nil {
		f.mu.Unlock()
		return
	}
	f.snap.Loading = true
	f.mu.Unlock()

	raw, err := f.source.OHLC(ctx, f.key.Symbol, f.key.Interval, f.key.Limit)

	f.mu.Lock()
	if ctx.Err() != nil {
		f.mu.Unlock()
		return
	}

	if err != nil {
		f.metrics.Poll("error")
		f.snap.Loading = false
		if !f.hasData {
			f.snap.Err = err
		}
	} else {
		f.metrics.Poll("ok")
		series := candles.Normalize(raw, f.res, f.hours.Location, f.labelCount)
		last, change, pct := candles.WindowChange(series)
		f.snap = Snapshot{
			Candles:         series,
			LastTradedPrice: last,
			PriceChange:     change,
			PercentChange:   pct,
			UpdatedAt:       f.now(),
		}
		f.hasData = true
	}

	snap := f.snap
	observers := make([]func(Snapshot), 0, len(f.observers))
	for _, fn := range f.observers {
		observers = append(observers, fn)
	}
	f.mu.Unlock()

	if err != nil && snap.Err == nil {
		logger.Debug(ctx, "Poll failed, keeping cached candles", "key", f.key.String(), "error", err)
	}

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error(ctx, "Fetcher observer panicked", "key", f.key.String(), "panic", r)
				}
			}()
			fn(snap)
		}()
	}
}
