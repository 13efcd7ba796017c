package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func TestGETBuildsQueryAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/latest" {
			t.Errorf("Expected path /api/latest, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("symbol") != "INFY" {
			t.Errorf("Expected symbol INFY, got %s", r.URL.Query().Get("symbol"))
		}
		if r.Header.Get("X-Key") != "abc" {
			t.Errorf("Expected X-Key header, got %q", r.Header.Get("X-Key"))
		}
		w.Write([]byte(`{"price":10}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL+"/api"), WithHeader("X-Key", "abc"))
	resp, err := c.GET(context.Background(), "/latest", url.Values{"symbol": {"INFY"}})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var body struct{ Price float64 }
	if err := resp.ParseJSON(&body); err != nil {
		t.Fatalf("Expected valid JSON, got %v", err)
	}
	if body.Price != 10 {
		t.Errorf("Expected price 10, got %v", body.Price)
	}
}

func TestGETStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).GET(context.Background(), "/x", nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", se.StatusCode)
	}
}

func TestGETWithRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := &RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
	if _, err := NewClient(WithBaseURL(srv.URL)).GETWithRetry(context.Background(), "/", nil, cfg); err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
}

func TestGETWithRetryStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := &RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
	if _, err := NewClient(WithBaseURL(srv.URL)).GETWithRetry(context.Background(), "/", nil, cfg); err == nil {
		t.Fatal("Expected error for 400")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
}
