package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/Keksclan/hearth/ratelimit"
)

func TestLimiter_AllowUnderLimit(t *testing.T) {
	// burst=5 means the first 5 calls must succeed.
	l := ratelimit.NewLimiter(1, 5)
	for i := range 5 {
		if !l.Allow() {
			t.Fatalf("expected Allow() == true for request %d", i)
		}
	}
}

func TestLimiter_BlocksWhenBurstExhausted(t *testing.T) {
	// burst=2, very low rps so tokens don't refill during the test.
	l := ratelimit.NewLimiter(0.001, 2)

	l.Allow()
	l.Allow()

	if l.Allow() {
		t.Fatal("expected Allow() == false after burst exhausted")
	}
}

func TestLimiter_WaitWithinBurst(t *testing.T) {
	l := ratelimit.NewLimiter(1, 2)
	for i := range 2 {
		if err := l.Wait(t.Context()); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
}

func TestLimiter_WaitHonoursDeadline(t *testing.T) {
	l := ratelimit.NewLimiter(0.001, 1)
	l.Allow()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected Wait to fail when the next token is beyond the deadline")
	}
}
