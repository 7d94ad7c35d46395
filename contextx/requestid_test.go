package contextx

import "testing"

func TestRequestID(t *testing.T) {
	ctx := t.Context()
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("got %q from a bare context", got)
	}

	outer := WithRequestID(ctx, "req-1")
	inner := WithRequestID(outer, "req-2")
	if got := RequestIDFromContext(inner); got != "req-2" {
		t.Fatalf("got %q, want the innermost id", got)
	}
	if got := RequestIDFromContext(outer); got != "req-1" {
		t.Fatalf("outer context changed: %q", got)
	}
}
