package interceptors

import (
	"context"
	"strings"

	"github.com/Keksclan/hearth/ratelimit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errRateLimited = status.Error(codes.ResourceExhausted, "rate limit exceeded")

// MethodLimit overrides the global limiter for the methods it matches.
// Pattern is either a full method ("/hearth.Admin/ProcessBatch") or a
// service prefix ending in "/" ("/hearth.Admin/").
type MethodLimit struct {
	Pattern string
	Limiter *ratelimit.Limiter
}

type limiterSet struct {
	global   *ratelimit.Limiter
	exact    map[string]*ratelimit.Limiter
	prefixes []MethodLimit
}

func newLimiterSet(global *ratelimit.Limiter, overrides []MethodLimit) *limiterSet {
	s := &limiterSet{global: global, exact: make(map[string]*ratelimit.Limiter)}
	for _, o := range overrides {
		if o.Limiter == nil {
			continue
		}
		if strings.HasSuffix(o.Pattern, "/") {
			s.prefixes = append(s.prefixes, o)
			continue
		}
		s.exact[o.Pattern] = o.Limiter
	}
	return s
}

// limiterFor prefers an exact match, then the longest matching prefix, then
// the global limiter. It returns nil when nothing applies.
func (s *limiterSet) limiterFor(fullMethod string) *ratelimit.Limiter {
	if l, ok := s.exact[fullMethod]; ok {
		return l
	}
	var best MethodLimit
	for _, p := range s.prefixes {
		if strings.HasPrefix(fullMethod, p.Pattern) && len(p.Pattern) > len(best.Pattern) {
			best = p
		}
	}
	if best.Limiter != nil {
		return best.Limiter
	}
	return s.global
}

func (s *limiterSet) allow(fullMethod string) bool {
	l := s.limiterFor(fullMethod)
	return l == nil || l.Allow()
}

// RateLimitUnary returns a unary server interceptor that rejects calls with
// codes.ResourceExhausted once the applicable limiter is exhausted. global may
// be nil, leaving unmatched methods unlimited.
func RateLimitUnary(global *ratelimit.Limiter, overrides ...MethodLimit) grpc.UnaryServerInterceptor {
	set := newLimiterSet(global, overrides)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !set.allow(info.FullMethod) {
			return nil, errRateLimited
		}
		return handler(ctx, req)
	}
}

// RateLimitStream is the streaming counterpart of [RateLimitUnary].
func RateLimitStream(global *ratelimit.Limiter, overrides ...MethodLimit) grpc.StreamServerInterceptor {
	set := newLimiterSet(global, overrides)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !set.allow(info.FullMethod) {
			return errRateLimited
		}
		return handler(srv, ss)
	}
}
