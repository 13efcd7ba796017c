package trace

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestDisabledStartSpanIsNoop(t *testing.T) {
	if err := InitWithConfig(Config{Enabled: false}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	ctx, span := StartSession(context.Background(), "websocket", "ws://x", 1)
	span.End()
	if _, _, ok := GetTraceFields(ctx); ok {
		t.Error("Expected no trace fields while disabled")
	}
}

func TestSessionSpanExported(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithConfig(Config{Enabled: true, SampleRatio: 1, Version: "test", Writer: &buf}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	ctx, span := StartSession(context.Background(), "websocket", "ws://prices", 7)
	if _, _, ok := GetTraceFields(ctx); !ok {
		t.Error("Expected trace fields inside a session span")
	}
	span.End()

	if err := Shutdown(context.Background()); err != nil {
		t.Fatalf("Expected clean shutdown, got %v", err)
	}
	if Enabled() {
		t.Error("Expected tracing off after Shutdown")
	}

	out := buf.String()
	for _, want := range []string{"stream.session", "ws://prices", ServiceName} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected exported span to contain %q", want)
		}
	}
}

func TestSymbolAttrs(t *testing.T) {
	if got := len(SymbolAttrs("INFY", "", 0)); got != 1 {
		t.Errorf("Expected 1 attribute, got %d", got)
	}
	if got := len(SymbolAttrs("INFY", "5m", 30)); got != 3 {
		t.Errorf("Expected 3 attributes, got %d", got)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_TRACING_ENABLED", "false")
	t.Setenv("TRACE_SAMPLE_RATIO", "2")
	cfg := LoadConfigFromEnv()
	if cfg.Enabled {
		t.Error("Expected tracing disabled")
	}
	if cfg.SampleRatio != 1 {
		t.Errorf("Expected out-of-range ratio to fall back to 1, got %v", cfg.SampleRatio)
	}
}
