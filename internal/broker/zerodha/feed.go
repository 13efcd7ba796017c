package zerodha

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"marketsync/internal/interfaces"
	"marketsync/internal/logger"
	"marketsync/internal/metrics"
	"marketsync/internal/trace"
	"marketsync/internal/types"

	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// session is one kiteticker instance and the context its callbacks log with.
// Callbacks from a session that is no longer current are ignored.
type session struct {
	ticker *kiteticker.Ticker
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	span   oteltrace.Span
}

func (s *session) end() {
	s.ticker.Stop()
	s.cancel()
	s.span.End()
}

// Feed streams Kite ticks for every mapped instrument into a TickSink.
type Feed struct {
	apiKey      string
	accessToken string
	mapper      *instrumentMapper
	sink        interfaces.TickSink
	metrics     *metrics.Metrics
	serve       func(ctx context.Context, t *kiteticker.Ticker)

	mu       sync.Mutex
	sess     *session
	sessions uint64

	// applyMu lets Stop wait out a tick that is being applied before it
	// resets the sink.
	applyMu sync.RWMutex

	state atomic.Int32
}

var _ interfaces.PriceFeed = (*Feed)(nil)

func NewFeed(p Params, sink interfaces.TickSink, m *metrics.Metrics) *Feed {
	f := &Feed{
		apiKey:      p.APIKey,
		accessToken: p.AccessToken,
		mapper:      newInstrumentMapper(p.Instruments),
		sink:        sink,
		metrics:     m,
		serve:       func(ctx context.Context, t *kiteticker.Ticker) { t.ServeWithContext(ctx) },
	}
	f.setState(types.Closed)
	return f
}

func (f *Feed) State() types.ConnectionState {
	return types.ConnectionState(f.state.Load())
}

func (f *Feed) setState(s types.ConnectionState) {
	f.state.Store(int32(s))
	f.metrics.SetConnectionState(int(s))
}

// Start connects in the background. Calling Start on a running feed is a no-op.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sess != nil {
		return nil
	}
	f.startLocked(ctx)
	logger.Connection(ctx, types.Connecting.String(), "provider", "kite")
	return nil
}

// startLocked must be called with mu held.
func (f *Feed) startLocked(parent context.Context) {
	base, cancel := context.WithCancel(context.WithoutCancel(parent))
	t := kiteticker.New(f.apiKey, f.accessToken)
	// kiteticker gives up after 300 attempts by default; the feed never does.
	t.SetReconnectMaxRetries(math.MaxInt32)

	f.sessions++
	runCtx, span := trace.StartSession(base, "kite", "kiteticker", f.sessions)
	s := &session{ticker: t, parent: parent, ctx: runCtx, cancel: cancel, span: span}
	f.sess = s
	f.setupEventHandlers(s)
	f.setState(types.Connecting)

	serve := f.serve
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(runCtx, "Kite ticker panicked", "panic", r)
			}
		}()
		serve(runCtx, t)
	}()
}

// current reports whether s is still the live session.
func (f *Feed) current(s *session) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess == s
}

// Stop closes the connection and resets the sink so a later Start begins a
// fresh session.
func (f *Feed) Stop(ctx context.Context) {
	f.mu.Lock()
	s := f.sess
	f.sess = nil
	f.mu.Unlock()

	if s == nil {
		return
	}
	s.end()
	f.setState(types.Closed)
	logger.Connection(ctx, types.Closed.String(), "provider", "kite", "reason", "stopped")

	f.applyMu.Lock()
	defer f.applyMu.Unlock()
	if r, ok := f.sink.(interface{ Reset() }); ok {
		r.Reset()
	}
}

// restart replaces a session whose ticker stopped retrying. The sink keeps
// its anchors since no consumer asked for a new session.
func (f *Feed) restart(s *session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sess != s {
		return
	}
	s.end()
	f.startLocked(s.parent)
	logger.Warn(f.sess.ctx, "Kite ticker restarted", "session", f.sessions)
}

// subscribeAll is called on every (re)connect since Kite drops
// subscriptions with the socket.
func (f *Feed) subscribeAll(s *session) {
	if !f.current(s) {
		return
	}

	tokens := f.mapper.getAllTokens()
	if err := s.ticker.Subscribe(tokens); err != nil {
		logger.ErrorWithErr(s.ctx, "Failed to subscribe instruments", err, "count", len(tokens))
		return
	}
	if err := s.ticker.SetMode(kiteticker.ModeFull, tokens); err != nil {
		logger.ErrorWithErr(s.ctx, "Failed to set ticker mode", err)
	}
}

// tickToPrice converts a Kite tick. OHLC fields Kite reports as zero are
// treated as absent.
func tickToPrice(symbol string, lastPrice, open, high, low, closePrice float64) types.PriceTick {
	t := types.PriceTick{Symbol: symbol, Value: lastPrice}
	if open > 0 {
		t.Open = types.Float(open)
	}
	if high > 0 {
		t.High = types.Float(high)
	}
	if low > 0 {
		t.Low = types.Float(low)
	}
	if closePrice > 0 {
		t.Close = types.Float(closePrice)
	}
	return t
}
