package interceptors

import (
	"context"
	"testing"

	"github.com/Keksclan/hearth/ratelimit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func okHandler(_ context.Context, _ any) (any, error) { return "ok", nil }

func codeOf(err error) codes.Code {
	st, _ := status.FromError(err)
	return st.Code()
}

func TestRateLimitUnary_GlobalOnly(t *testing.T) {
	ic := RateLimitUnary(ratelimit.NewLimiter(0.001, 2))
	info := &grpc.UnaryServerInfo{FullMethod: "/hearth.Admin/CacheStats"}

	for i := range 2 {
		if _, err := ic(t.Context(), nil, info, okHandler); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}
	if _, err := ic(t.Context(), nil, info, okHandler); codeOf(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", codeOf(err))
	}
}

func TestRateLimitUnary_NilGlobalIsUnlimited(t *testing.T) {
	ic := RateLimitUnary(nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/hearth.Admin/CacheStats"}
	for i := range 50 {
		if _, err := ic(t.Context(), nil, info, okHandler); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}
}

func TestRateLimitUnary_ExactOverridesGlobal(t *testing.T) {
	ic := RateLimitUnary(ratelimit.NewLimiter(1000, 100), MethodLimit{
		Pattern: "/hearth.Admin/ProcessBatch",
		Limiter: ratelimit.NewLimiter(0.001, 1),
	})

	batch := &grpc.UnaryServerInfo{FullMethod: "/hearth.Admin/ProcessBatch"}
	if _, err := ic(t.Context(), nil, batch, okHandler); err != nil {
		t.Fatalf("first batch: unexpected error: %v", err)
	}
	if _, err := ic(t.Context(), nil, batch, okHandler); codeOf(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted for ProcessBatch, got %v", codeOf(err))
	}

	stats := &grpc.UnaryServerInfo{FullMethod: "/hearth.Admin/CacheStats"}
	if _, err := ic(t.Context(), nil, stats, okHandler); err != nil {
		t.Fatalf("CacheStats should use the global limiter: %v", err)
	}
}

func TestRateLimitUnary_ExactBeatsPrefix(t *testing.T) {
	ic := RateLimitUnary(nil,
		MethodLimit{Pattern: "/hearth.Admin/", Limiter: ratelimit.NewLimiter(1000, 100)},
		MethodLimit{Pattern: "/hearth.Admin/InvalidateTag", Limiter: ratelimit.NewLimiter(0.001, 1)},
	)

	inv := &grpc.UnaryServerInfo{FullMethod: "/hearth.Admin/InvalidateTag"}
	if _, err := ic(t.Context(), nil, inv, okHandler); err != nil {
		t.Fatalf("first invalidate: unexpected error: %v", err)
	}
	if _, err := ic(t.Context(), nil, inv, okHandler); codeOf(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted from exact rule, got %v", codeOf(err))
	}

	get := &grpc.UnaryServerInfo{FullMethod: "/hearth.Admin/GetJob"}
	for range 5 {
		if _, err := ic(t.Context(), nil, get, okHandler); err != nil {
			t.Fatalf("GetJob: unexpected error: %v", err)
		}
	}
}

func TestRateLimitUnary_LongestPrefixWins(t *testing.T) {
	set := newLimiterSet(nil, []MethodLimit{
		{Pattern: "/hearth.", Limiter: ratelimit.NewLimiter(1, 1)},
		{Pattern: "/hearth.Admin/", Limiter: ratelimit.NewLimiter(2, 2)},
	})
	if l := set.limiterFor("/hearth.Admin/GetJob"); l != set.prefixes[1].Limiter {
		t.Fatal("expected the longer prefix to win")
	}
	if l := set.limiterFor("/other.Svc/Call"); l != nil {
		t.Fatal("expected no limiter for an unmatched method")
	}
}

func TestRateLimitStream(t *testing.T) {
	ic := RateLimitStream(ratelimit.NewLimiter(0.001, 1))
	info := &grpc.StreamServerInfo{FullMethod: "/hearth.Admin/WatchJobs"}
	handler := func(any, grpc.ServerStream) error { return nil }

	if err := ic(nil, nil, info, handler); err != nil {
		t.Fatalf("first stream: unexpected error: %v", err)
	}
	if err := ic(nil, nil, info, handler); codeOf(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", codeOf(err))
	}
}
