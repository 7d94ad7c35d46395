package tracing

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewProvider_Disabled(t *testing.T) {
	tp, shutdown, err := NewProvider(ProviderConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, span := Tracer(tp, "test").Start(t.Context(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatal("disabled provider must not produce recording spans")
	}
	span.End()
	if err := shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewProvider_ExportsToWriter(t *testing.T) {
	var buf bytes.Buffer
	tp, shutdown, err := NewProvider(ProviderConfig{
		Enabled:     true,
		ServiceName: "hearthd-test",
		Writer:      &buf,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, span := Tracer(tp, "test").Start(t.Context(), "dispatch.process_batch")
	span.End()

	if err := shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "dispatch.process_batch") {
		t.Fatalf("span not exported, got %q", out)
	}
	if !strings.Contains(out, "hearthd-test") {
		t.Fatalf("service name missing from export, got %q", out)
	}
}

func TestTracer_NilProviderUsesGlobal(t *testing.T) {
	if Tracer(nil, "x") == nil {
		t.Fatal("expected a tracer from the global provider")
	}
}
