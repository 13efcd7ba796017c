package zerodha

import (
	"time"

	"marketsync/internal/logger"
	"marketsync/internal/types"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"
)

// setupEventHandlers binds every WebSocket callback to session s
func (f *Feed) setupEventHandlers(s *session) {
	s.ticker.OnConnect(func() { f.onConnect(s) })
	s.ticker.OnError(func(err error) { f.onError(s, err) })
	s.ticker.OnClose(func(code int, reason string) { f.onClose(s, code, reason) })
	s.ticker.OnReconnect(func(attempt int, delay time.Duration) { f.onReconnect(s, attempt, delay) })
	s.ticker.OnNoReconnect(func(attempt int) { f.onNoReconnect(s, attempt) })
	s.ticker.OnTick(func(tick models.Tick) { f.onTick(s, tick) })
	s.ticker.OnOrderUpdate(func(order kiteconnect.Order) { f.onOrderUpdate(s, order) })
}

func (f *Feed) onConnect(s *session) {
	if !f.current(s) {
		return
	}
	f.setState(types.Open)
	logger.Connection(s.ctx, types.Open.String(), "provider", "kite")
	f.subscribeAll(s)
}

func (f *Feed) onError(s *session, err error) {
	logger.ErrorWithErr(s.ctx, "Kite ticker error", err)
}

func (f *Feed) onClose(s *session, code int, reason string) {
	if !f.current(s) {
		return
	}
	f.setState(types.Closed)
	logger.Connection(s.ctx, types.Closed.String(),
		"provider", "kite",
		"code", code,
		"reason", reason,
	)
}

func (f *Feed) onReconnect(s *session, attempt int, delay time.Duration) {
	if !f.current(s) {
		return
	}
	f.setState(types.Connecting)
	f.metrics.Reconnect()
	logger.Connection(s.ctx, types.Connecting.String(),
		"provider", "kite",
		"attempt", attempt,
		"delay", delay,
	)
}

func (f *Feed) onNoReconnect(s *session, attempt int) {
	if !f.current(s) {
		return
	}
	logger.Warn(s.ctx, "Kite ticker gave up reconnecting", "attempts", attempt)
	f.metrics.Reconnect()
	f.restart(s)
}

func (f *Feed) onTick(s *session, tick models.Tick) {
	f.applyMu.RLock()
	defer f.applyMu.RUnlock()

	if !f.current(s) {
		f.metrics.Tick("ignored")
		return
	}
	symbol := f.mapper.getSymbol(tick.InstrumentToken)
	if symbol == "" {
		f.metrics.Tick("ignored")
		return
	}

	pt := tickToPrice(symbol, tick.LastPrice, tick.OHLC.Open, tick.OHLC.High, tick.OHLC.Low, tick.OHLC.Close)
	if f.sink.Apply(pt) {
		f.metrics.Tick("applied")
	} else {
		f.metrics.Tick("ignored")
	}
}

// Order updates share the socket but carry no price data.
func (f *Feed) onOrderUpdate(s *session, order kiteconnect.Order) {
	logger.Debug(s.ctx, "Order update ignored", "order_id", order.OrderID)
}
