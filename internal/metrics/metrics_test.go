package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Tick("applied")
	m.Reconnect()
	m.SetConnectionState(1)
	m.Poll("ok")
	m.ObserveRequest("history", time.Now(), nil)
	m.ComparisonFailed("5m")
	m.SetActiveSubscriptions(3)
	if m.Registry() != nil {
		t.Error("Expected nil registry for nil metrics")
	}
	if m.Handler() == nil {
		t.Error("Expected a fallback handler")
	}
}

func TestCountersRecord(t *testing.T) {
	m := New()
	m.Tick("applied")
	m.Tick("applied")
	m.Tick("ignored")
	m.Reconnect()
	m.Poll("market_closed")
	m.ObserveRequest("latest", time.Now(), errors.New("boom"))

	if got := testutil.ToFloat64(m.TicksTotal.WithLabelValues("applied")); got != 2 {
		t.Errorf("Expected 2 applied ticks, got %f", got)
	}
	if got := testutil.ToFloat64(m.ReconnectsTotal); got != 1 {
		t.Errorf("Expected 1 reconnect, got %f", got)
	}
	if got := testutil.ToFloat64(m.PollsTotal.WithLabelValues("market_closed")); got != 1 {
		t.Errorf("Expected 1 skipped poll, got %f", got)
	}
	if n := testutil.CollectAndCount(m.SourceRequestDuration); n != 1 {
		t.Errorf("Expected 1 latency series, got %d", n)
	}
}
