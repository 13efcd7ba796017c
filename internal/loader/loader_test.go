package loader

import (
	"context"
	"errors"
	"sync"
	"testing"

	"marketsync/internal/candles"
	"marketsync/internal/types"
)

type stubSource struct {
	mu       sync.Mutex
	history  map[string][]types.Candle
	failCode map[string]error
	latest   types.LatestQuote
	latestEr error
	calls    []string
}

func (s *stubSource) History(ctx context.Context, symbol, resolution string, limit int) ([]types.Candle, error) {
	s.mu.Lock()
	s.calls = append(s.calls, resolution)
	s.mu.Unlock()
	if err := s.failCode[resolution]; err != nil {
		return nil, err
	}
	return s.history[resolution], nil
}

func (s *stubSource) Latest(ctx context.Context, symbol string) (types.LatestQuote, error) {
	return s.latest, s.latestEr
}

func (s *stubSource) OHLC(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	return nil, errors.New("not used")
}

func bars(closes ...float64) []types.Candle {
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		out[i] = types.Candle{Time: 1700000000 + int64(i)*300, Open: c - 1, High: c + 1, Low: c - 2, Close: c}
	}
	return out
}

func TestLoadEmptyHistory(t *testing.T) {
	src := &stubSource{latestEr: errors.New("down")}
	res, err := New(src).Load(context.Background(), "INFY", "5m")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if res.Loading {
		t.Error("Expected loading=false")
	}
	if res.Candles == nil || len(res.Candles) != 0 {
		t.Errorf("Expected empty non-nil candles, got %v", res.Candles)
	}
	if res.Quote.ChangePercent != 0 {
		t.Errorf("Expected changePercent 0, got %v", res.Quote.ChangePercent)
	}
}

func TestLoadComparisonIsolation(t *testing.T) {
	src := &stubSource{
		history: map[string][]types.Candle{
			"5":  bars(100, 101, 102),
			"D":  bars(200, 220),
			"15": bars(100),
		},
		latest:   types.LatestQuote{Price: 220, Change: 20},
	}
	// History and the 5m comparison share code "5"; only the 2-candle
	// comparison request fails.
	fs := &failingComparisons{stubSource: src, fail: map[string]bool{"5": true}}

	res, err := New(fs).Load(context.Background(), "INFY", "5m")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(res.Candles) != 3 {
		t.Errorf("Expected 3 history candles, got %d", len(res.Candles))
	}

	five := res.Quote.IntervalComparison["5m"]
	if five.PriceChange != 0 || five.ChangePercent != 0 || five.PreviousClose != 220 {
		t.Errorf("Expected flat 5m placeholder at 220, got %+v", five)
	}

	day := res.Quote.IntervalComparison["1D"]
	if day.PreviousClose != 200 || day.PriceChange != 20 || day.ChangePercent != 10 {
		t.Errorf("Expected real 1D comparison, got %+v", day)
	}

	fifteen := res.Quote.IntervalComparison["15m"]
	if fifteen.PriceChange != 0 {
		t.Errorf("Expected flat comparison for a single candle, got %+v", fifteen)
	}

	if _, ok := res.Quote.IntervalComparison["1H"]; !ok {
		t.Error("Expected an entry for every configured interval")
	}
}

// failingComparisons fails History calls with limit 2 for the given codes.
type failingComparisons struct {
	*stubSource
	fail map[string]bool
}

func (f *failingComparisons) History(ctx context.Context, symbol, resolution string, limit int) ([]types.Candle, error) {
	if limit == comparisonLimit && f.fail[resolution] {
		return nil, errors.New("comparison down")
	}
	return f.stubSource.History(ctx, symbol, resolution, limit)
}

func TestQuoteFromLatestRecomputesPercent(t *testing.T) {
	src := &stubSource{
		history: map[string][]types.Candle{"D": bars(90, 100)},
		latest:  types.LatestQuote{Price: 110, Change: 10, ChangePercent: 99},
	}
	res, _ := New(src, WithComparisonIntervals(nil)).Load(context.Background(), "INFY", "1D")

	q := res.Quote
	if q.PreviousClose != 100 || q.ChangePercent != 10 {
		t.Errorf("Expected prevClose 100 and 10%%, got %v / %v", q.PreviousClose, q.ChangePercent)
	}
	if q.Open == nil || *q.Open != 99 {
		t.Errorf("Expected open from last candle, got %v", q.Open)
	}
	if res.Err != nil {
		t.Errorf("Expected no error, got %v", res.Err)
	}
}

func TestQuoteFallsBackToCandles(t *testing.T) {
	src := &stubSource{
		history:  map[string][]types.Candle{"60": bars(100, 105)},
		latestEr: errors.New("latest down"),
	}
	res, _ := New(src, WithComparisonIntervals(nil)).Load(context.Background(), "INFY", "1H")

	q := res.Quote
	if q.Price != 105 || q.PreviousClose != 100 || q.Change != 5 || q.ChangePercent != 5 {
		t.Errorf("Expected candle-derived quote 105/100/+5/5%%, got %+v", q)
	}
	if res.Err == nil {
		t.Error("Expected the latest failure to be reported")
	}
}

func TestLabelsApplied(t *testing.T) {
	raw := make([]types.Candle, 60)
	for i := range raw {
		raw[i] = types.Candle{Time: 1700000000 + int64(i)*60, Open: 1, High: 1, Low: 1, Close: 1}
	}
	src := &stubSource{history: map[string][]types.Candle{"1": raw}}
	res, _ := New(src, WithComparisonIntervals(nil)).Load(context.Background(), "INFY", "1m")

	labels := 0
	for _, c := range res.Candles {
		if c.Label != "" {
			labels++
		}
	}
	if labels != 7 {
		t.Errorf("Expected 7 labels, got %d", labels)
	}
}

func TestUnknownResolutionMakesNoCalls(t *testing.T) {
	src := &stubSource{}
	_, err := New(src).Load(context.Background(), "INFY", "2y")
	if !errors.Is(err, candles.ErrUnknownResolution) {
		t.Errorf("Expected ErrUnknownResolution, got %v", err)
	}
	if len(src.calls) != 0 {
		t.Errorf("Expected no upstream calls, got %v", src.calls)
	}
}
