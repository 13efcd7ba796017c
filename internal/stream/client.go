package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketsync/internal/interfaces"
	"marketsync/internal/logger"
	"marketsync/internal/metrics"
	"marketsync/internal/trace"
	"marketsync/internal/types"

	"github.com/coder/websocket"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	DefaultReconnectDelay = 3 * time.Second
	defaultDialTimeout    = 10 * time.Second
	readLimit             = 1 << 20
)

// stopper is satisfied by *time.Timer.
type stopper interface {
	Stop() bool
}

type scheduleFunc func(d time.Duration, f func()) stopper

func realSchedule(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// Client keeps one websocket connection to the price stream and feeds every
// decoded tick into a TickSink. Closed connections are retried forever
// according to the ReconnectPolicy, with at most one reconnect pending.
type Client struct {
	url         string
	sink        interfaces.TickSink
	policy      ReconnectPolicy
	metrics     *metrics.Metrics
	dialTimeout time.Duration
	schedule    scheduleFunc

	// applyMu lets Stop wait out a frame that is being applied before it
	// resets the sink.
	applyMu sync.RWMutex

	mu      sync.Mutex
	state   types.ConnectionState
	running bool
	session uint64
	pending stopper
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	span    oteltrace.Span
}

var _ interfaces.PriceFeed = (*Client)(nil)

type Option func(*Client)

func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(c *Client) { c.policy = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

func NewClient(url string, sink interfaces.TickSink, opts ...Option) *Client {
	c := &Client{
		url:         url,
		sink:        sink,
		policy:      FixedDelay(DefaultReconnectDelay),
		dialTimeout: defaultDialTimeout,
		schedule:    realSchedule,
		state:       types.Connecting,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setStateLocked must be called with mu held.
func (c *Client) setStateLocked(s types.ConnectionState) {
	c.state = s
	c.metrics.SetConnectionState(int(s))
}

// Start begins a session. It returns immediately; connection failures are
// retried in the background. Start on a running client is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.session++
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.ctx, c.span = trace.StartSession(runCtx, "websocket", c.url, c.session)
	c.cancel = cancel
	c.policy.Reset()
	sess := c.session
	c.mu.Unlock()

	c.connect(sess)
	return nil
}

// Stop ends the session: the socket is closed, any pending reconnect is
// cleared and the sink's anchors are reset.
func (c *Client) Stop(ctx context.Context) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.session++
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	conn := c.conn
	c.conn = nil
	c.cancel()
	c.setStateLocked(types.Closed)
	span := c.span
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client stopped")
	}
	c.applyMu.Lock()
	if r, ok := c.sink.(interface{ Reset() }); ok {
		r.Reset()
	}
	c.applyMu.Unlock()
	logger.Connection(ctx, types.Closed.String(), "url", c.url, "reason", "stopped")
	span.End()
}

func (c *Client) connect(sess uint64) {
	c.mu.Lock()
	if !c.running || sess != c.session {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.setStateLocked(types.Connecting)
	ctx := c.ctx
	c.mu.Unlock()

	logger.Connection(ctx, types.Connecting.String(), "url", c.url)
	go c.run(ctx, sess)
}

func (c *Client) run(ctx context.Context, sess uint64) {
	defer func() {
		if r := recover(); r != nil {
			c.handleClose(sess, fmt.Errorf("stream reader panicked: %v", r))
		}
	}()

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	cancel()
	if err != nil {
		c.handleClose(sess, fmt.Errorf("dial: %w", err))
		return
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	if !c.running || sess != c.session {
		c.mu.Unlock()
		conn.CloseNow()
		return
	}
	c.conn = conn
	c.setStateLocked(types.Open)
	c.policy.Reset()
	c.mu.Unlock()

	logger.Connection(ctx, types.Open.String(), "url", c.url)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			conn.CloseNow()
			c.handleClose(sess, err)
			return
		}
		c.handleMessage(sess, data)
	}
}

// current reports whether sess is the running session.
func (c *Client) current(sess uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running && sess == c.session
}

// handleMessage applies one frame. Frames read by an ended session are
// dropped so they cannot pin anchors after Stop.
func (c *Client) handleMessage(sess uint64, data []byte) {
	c.applyMu.RLock()
	defer c.applyMu.RUnlock()

	if !c.current(sess) {
		c.metrics.Tick("ignored")
		return
	}
	tick, ok := decodeFrame(data)
	if !ok || !c.sink.Apply(tick) {
		c.metrics.Tick("ignored")
		return
	}
	c.metrics.Tick("applied")
}

// handleClose moves to Closed and schedules one reconnect. Events from an
// older session are dropped.
func (c *Client) handleClose(sess uint64, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || sess != c.session {
		return
	}
	c.conn = nil
	c.setStateLocked(types.Closed)

	fields := []any{"url", c.url}
	var ce websocket.CloseError
	if errors.As(cause, &ce) {
		fields = append(fields, "code", int(ce.Code), "reason", ce.Reason)
	} else if cause != nil {
		logger.ErrorWithErr(c.ctx, "Stream connection error", cause, "url", c.url)
	}
	logger.Connection(c.ctx, types.Closed.String(), fields...)

	c.scheduleReconnectLocked(sess)
}

func (c *Client) scheduleReconnectLocked(sess uint64) {
	if c.pending != nil {
		return
	}
	delay := c.policy.Next()
	c.metrics.Reconnect()
	logger.Info(c.ctx, "Stream reconnect scheduled", "delay", delay)
	c.pending = c.schedule(delay, func() { c.connect(sess) })
}
