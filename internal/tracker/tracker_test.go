package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketsync/internal/fetcher"
	"marketsync/internal/loader"
	"marketsync/internal/market"
	"marketsync/internal/stream"
	"marketsync/internal/types"
)

type fakeFeed struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (f *fakeFeed) Start(ctx context.Context) error { f.starts.Add(1); return nil }
func (f *fakeFeed) Stop(ctx context.Context)        { f.stops.Add(1) }
func (f *fakeFeed) State() types.ConnectionState    { return types.Open }

type stubSource struct {
	mu           sync.Mutex
	historyCalls int
	candles      []types.Candle
	latest       types.LatestQuote
	gate         chan struct{}
}

func (s *stubSource) History(ctx context.Context, symbol, resolution string, limit int) ([]types.Candle, error) {
	if limit == 2 {
		return nil, errors.New("no comparisons")
	}
	s.mu.Lock()
	s.historyCalls++
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return s.candles, nil
}

func (s *stubSource) Latest(ctx context.Context, symbol string) (types.LatestQuote, error) {
	return s.latest, nil
}

func (s *stubSource) OHLC(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	return s.candles, nil
}

func setup(src *stubSource) (*Tracker, *stream.PriceBook, *fakeFeed) {
	book := stream.NewPriceBook()
	feed := &fakeFeed{}
	pool := fetcher.NewPool(src, market.DefaultHours(), fetcher.WithPollInterval(time.Hour))
	tr := New(loader.New(src, loader.WithComparisonIntervals([]string{"1D"})), book, feed, pool, nil)
	return tr, book, feed
}

func history() []types.Candle {
	return []types.Candle{
		{Time: 1700000000, Open: 99, High: 101, Low: 98, Close: 100},
		{Time: 1700000300, Open: 100, High: 103, Low: 99, Close: 102},
	}
}

func waitLoaded(t *testing.T, s *Subscription) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v := s.View(); !v.Loading {
			return v
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for backfill")
	return View{}
}

func TestSubscribeSharesEntryAndFeed(t *testing.T) {
	src := &stubSource{candles: history(), latest: types.LatestQuote{Price: 102, Change: 2}}
	tr, _, feed := setup(src)
	ctx := context.Background()

	a, err := tr.Subscribe(ctx, "INFY", "5m")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	b, _ := tr.Subscribe(ctx, "INFY", "5m")
	c, _ := tr.Subscribe(ctx, "TCS", "1D")
	waitLoaded(t, a)
	waitLoaded(t, c)

	if feed.starts.Load() != 1 {
		t.Errorf("Expected feed started once, got %d", feed.starts.Load())
	}
	src.mu.Lock()
	calls := src.historyCalls
	src.mu.Unlock()
	if calls != 2 {
		t.Errorf("Expected one backfill per key (2), got %d", calls)
	}
	if a.ID == b.ID {
		t.Error("Expected distinct subscription ids")
	}

	a.Close()
	a.Close()
	b.Close()
	if _, ok := tr.View("INFY", "5m"); ok {
		t.Error("Expected INFY state to be discarded after its last consumer")
	}
	if feed.stops.Load() != 0 {
		t.Error("Expected feed to keep running while TCS is subscribed")
	}

	c.Close()
	if feed.stops.Load() != 1 {
		t.Errorf("Expected feed stopped once, got %d", feed.stops.Load())
	}
}

func TestTickMergesIntoTail(t *testing.T) {
	src := &stubSource{candles: history(), latest: types.LatestQuote{Price: 102, Change: 2}}
	tr, book, _ := setup(src)
	defer tr.Close(context.Background())

	sub, _ := tr.Subscribe(context.Background(), "INFY", "5m")
	waitLoaded(t, sub)

	book.Apply(types.PriceTick{Symbol: "INFY", Value: 110})
	book.Apply(types.PriceTick{Symbol: "OTHER", Value: 1})

	v := sub.View()
	if len(v.Candles) != 2 {
		t.Fatalf("Expected 2 candles, got %d", len(v.Candles))
	}
	tail := v.Candles[1]
	if tail.Close != 110 || tail.Value != 110 || tail.High != 110 || tail.Low != 99 {
		t.Errorf("Unexpected tail %+v", tail)
	}
	if v.Candles[0].Close != 100 {
		t.Errorf("Expected earlier candle untouched, got %+v", v.Candles[0])
	}
	if v.Quote.Price != 110 || v.Quote.PreviousClose != 100 || v.Quote.Change != 10 || v.Quote.ChangePercent != 10 {
		t.Errorf("Expected quote 110 vs 100, got %+v", v.Quote)
	}
	if cmp, ok := v.Quote.IntervalComparison["1D"]; !ok || cmp.PriceChange != 0 {
		t.Errorf("Expected flat 1D comparison, got %+v", cmp)
	}
}

func TestTickDuringBackfillWins(t *testing.T) {
	src := &stubSource{candles: history(), latest: types.LatestQuote{Price: 102, Change: 2}, gate: make(chan struct{})}
	tr, book, _ := setup(src)
	defer tr.Close(context.Background())

	sub, _ := tr.Subscribe(context.Background(), "INFY", "5m")
	if !sub.View().Loading {
		t.Fatal("Expected loading before backfill completes")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		src.mu.Lock()
		n := src.historyCalls
		src.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	book.Apply(types.PriceTick{Symbol: "INFY", Value: 105})
	close(src.gate)

	v := waitLoaded(t, sub)
	if v.Quote.Price != 105 {
		t.Errorf("Expected the tick that arrived during loading to win, got %v", v.Quote.Price)
	}
	if v.Candles[1].Close != 105 {
		t.Errorf("Expected tail merged to 105, got %v", v.Candles[1].Close)
	}
}

func TestTickBetweenBookReadAndCompletionIsKept(t *testing.T) {
	book := stream.NewPriceBook()
	e := newEntry(context.Background(), Key{Symbol: "INFY", Resolution: "5m"})
	started := time.Now().Add(-time.Second)

	book.Apply(types.PriceTick{Symbol: "INFY", Value: 104, Open: types.Float(100)})
	live, ok := book.Get("INFY")
	book.Apply(types.PriceTick{Symbol: "INFY", Value: 110})
	newest, _ := book.Get("INFY")
	e.applyTick(newest, time.Now())

	res := loader.Result{
		Candles: history(),
		Quote:   types.Quote{Price: 102, Change: 2, PreviousClose: 100},
	}
	e.completeBackfill(res, nil, live, ok && live.Timestamp >= started.UnixMilli())

	v := e.snapshot()
	if v.Loading {
		t.Fatal("Expected loading to be cleared")
	}
	if v.Quote.Price != 110 {
		t.Errorf("Expected quote price 110, got %v", v.Quote.Price)
	}
	if tail := v.Candles[len(v.Candles)-1]; tail.Close != 110 {
		t.Errorf("Expected tail close 110, got %v", tail.Close)
	}
	if v.Quote.Change != 10 {
		t.Errorf("Expected change 10 against previous close 100, got %v", v.Quote.Change)
	}
}

func TestEmptyHistoryNoFabricatedCandle(t *testing.T) {
	src := &stubSource{}
	tr, book, _ := setup(src)
	defer tr.Close(context.Background())

	sub, _ := tr.Subscribe(context.Background(), "NEW", "1m")
	v := waitLoaded(t, sub)
	if len(v.Candles) != 0 || v.Quote.ChangePercent != 0 {
		t.Fatalf("Expected empty view, got %+v", v)
	}

	book.Apply(types.PriceTick{Symbol: "NEW", Value: 50, Open: types.Float(40)})
	v = sub.View()
	if len(v.Candles) != 0 {
		t.Errorf("Expected no fabricated candle, got %d", len(v.Candles))
	}
	if v.Quote.Price != 50 || v.Quote.PreviousClose != 40 || v.Quote.ChangePercent != 25 {
		t.Errorf("Expected quote against the stream anchor, got %+v", v.Quote)
	}
}

func TestUpdatesChannel(t *testing.T) {
	src := &stubSource{candles: history(), latest: types.LatestQuote{Price: 102, Change: 2}}
	tr, book, _ := setup(src)

	sub, _ := tr.Subscribe(context.Background(), "INFY", "5m")
	waitLoaded(t, sub)
	book.Apply(types.PriceTick{Symbol: "INFY", Value: 104})

	var last View
	select {
	case last = <-sub.Updates():
	case <-time.After(time.Second):
		t.Fatal("Expected an update")
	}
	if last.Quote.Price != 104 {
		t.Errorf("Expected latest view with price 104, got %v", last.Quote.Price)
	}

	tr.Close(context.Background())
	if _, ok := <-sub.Updates(); ok {
		t.Error("Expected updates channel closed after tracker Close")
	}
	sub.Close()

	if _, err := tr.Subscribe(context.Background(), "INFY", "5m"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestUnknownResolution(t *testing.T) {
	tr, _, feed := setup(&stubSource{})
	if _, err := tr.Subscribe(context.Background(), "INFY", "7x"); err == nil {
		t.Error("Expected error for unknown resolution")
	}
	if feed.starts.Load() != 0 {
		t.Error("Expected feed not started")
	}
}

func TestSparkline(t *testing.T) {
	src := &stubSource{candles: history()}
	tr, _, _ := setup(src)
	defer tr.Close(context.Background())

	key := fetcher.Key{Symbol: "INFY", Interval: "5m", Limit: 30}
	release, err := tr.WatchSparkline(context.Background(), key)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer release()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s, ok := tr.Sparkline(key); ok && !s.Loading {
			if s.LastTradedPrice != 102 {
				t.Errorf("Expected last price 102, got %v", s.LastTradedPrice)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for sparkline")
}
