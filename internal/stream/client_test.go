package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"marketsync/internal/types"

	"github.com/coder/websocket"
)

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) schedule(d time.Duration, fn func()) stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[len(s.timers)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// A URL nothing listens on, so dials fail fast.
const deadURL = "ws://127.0.0.1:1/stream"

func TestInitialStateConnecting(t *testing.T) {
	c := NewClient(deadURL, NewPriceBook())
	if c.State() != types.Connecting {
		t.Errorf("Expected CONNECTING, got %s", c.State())
	}
}

func TestCloseWhilePendingDoesNotDuplicateTimer(t *testing.T) {
	sched := &fakeScheduler{}
	c := NewClient(deadURL, NewPriceBook())
	c.schedule = sched.schedule

	c.Start(context.Background())
	waitFor(t, "first reconnect timer", func() bool { return sched.count() == 1 })

	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	c.handleClose(sess, errors.New("socket closed again"))
	c.handleClose(sess, errors.New("and again"))

	if sched.count() != 1 {
		t.Errorf("Expected a single pending timer, got %d", sched.count())
	}
	if c.State() != types.Closed {
		t.Errorf("Expected CLOSED, got %s", c.State())
	}
	if d := sched.last().d; d != DefaultReconnectDelay {
		t.Errorf("Expected %v delay, got %v", DefaultReconnectDelay, d)
	}

	// Firing the timer reconnects, fails again and arms exactly one new timer.
	sched.last().fn()
	waitFor(t, "second reconnect timer", func() bool { return sched.count() == 2 })

	c.Stop(context.Background())
	if !sched.last().stopped {
		t.Error("Expected Stop to clear the pending timer")
	}
}

func TestStaleTimerAfterStopIsIgnored(t *testing.T) {
	sched := &fakeScheduler{}
	c := NewClient(deadURL, NewPriceBook())
	c.schedule = sched.schedule

	c.Start(context.Background())
	waitFor(t, "reconnect timer", func() bool { return sched.count() == 1 })
	c.Stop(context.Background())

	sched.last().fn()
	time.Sleep(50 * time.Millisecond)
	if sched.count() != 1 {
		t.Errorf("Expected no reconnect after Stop, got %d timers", sched.count())
	}
	if c.State() != types.Closed {
		t.Errorf("Expected CLOSED after Stop, got %s", c.State())
	}
}

func TestClientReceivesTicks(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		frames := []string{
			`{"type":"heartbeat"}`,
			`garbage`,
			`{"type":"price","data":{"symbol":"INFY","value":100,"open":98}}`,
			`{"type":"price","data":{"symbol":"INFY","value":"101.5"}}`,
		}
		for _, f := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		<-release
		conn.Close(websocket.StatusGoingAway, "restart")
	}))
	defer srv.Close()

	book := NewPriceBook()
	sched := &fakeScheduler{}
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewClient(url, book)
	c.schedule = sched.schedule

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	waitFor(t, "open state", func() bool { return c.State() == types.Open })
	waitFor(t, "second tick", func() bool {
		s, ok := book.Get("INFY")
		return ok && s.Price == 101.5
	})

	s, _ := book.Get("INFY")
	if s.PrevClose != 98 {
		t.Errorf("Expected anchor 98, got %v", s.PrevClose)
	}

	close(release)
	waitFor(t, "reconnect after server close", func() bool { return sched.count() == 1 })
	if c.State() != types.Closed {
		t.Errorf("Expected CLOSED, got %s", c.State())
	}

	// Anchors survive an automatic reconnect; Stop ends the session.
	if _, ok := book.Get("INFY"); !ok {
		t.Error("Expected state to survive the connection drop")
	}
	c.Stop(context.Background())
	if _, ok := book.Get("INFY"); ok {
		t.Error("Expected Stop to reset the book")
	}
}

func TestFrameFromEndedSessionIsDropped(t *testing.T) {
	sched := &fakeScheduler{}
	book := NewPriceBook()
	c := NewClient(deadURL, book)
	c.schedule = sched.schedule

	c.Start(context.Background())
	c.mu.Lock()
	old := c.session
	c.mu.Unlock()
	c.Stop(context.Background())

	frame := []byte(`{"type":"price","data":{"symbol":"INFY","value":100,"open":90}}`)
	c.handleMessage(old, frame)
	if _, ok := book.Get("INFY"); ok {
		t.Fatal("Expected no state written after Stop")
	}

	c.Start(context.Background())
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	c.handleMessage(sess, []byte(`{"type":"price","data":{"symbol":"INFY","value":101}}`))

	got, ok := book.Get("INFY")
	if !ok {
		t.Fatal("Expected the new session's frame to apply")
	}
	if got.PrevClose != 101 {
		t.Errorf("Expected anchor 101 from the new session, got %v", got.PrevClose)
	}
	c.Stop(context.Background())
}
