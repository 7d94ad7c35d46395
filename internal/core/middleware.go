// Package core assembles the gRPC interceptor chain of a hearth server.
package core

import (
	"cmp"
	"slices"

	"google.golang.org/grpc"
)

// Fixed slots of the built-in interceptors. Lower values run first, so
// recovery wraps everything and user interceptors run closest to the handler.
const (
	OrderRecovery  = 100
	OrderRequestID = 200
	OrderTracing   = 300
	OrderLogging   = 400
	OrderAuth      = 500
	OrderRateLimit = 600
	OrderUser      = 1000
)

type middleware struct {
	unary  grpc.UnaryServerInterceptor
	stream grpc.StreamServerInterceptor
	order  int
}

// MiddlewareBuilder collects interceptor pairs and sorts them by slot.
type MiddlewareBuilder struct {
	entries []middleware
}

// Add registers an interceptor pair at order. Either may be nil.
func (b *MiddlewareBuilder) Add(order int, unary grpc.UnaryServerInterceptor, stream grpc.StreamServerInterceptor) {
	b.entries = append(b.entries, middleware{unary: unary, stream: stream, order: order})
}

// Len reports how many pairs were added.
func (b *MiddlewareBuilder) Len() int { return len(b.entries) }

// Build returns the unary and stream interceptors sorted by order. Entries
// sharing a slot keep their registration order.
func (b *MiddlewareBuilder) Build() ([]grpc.UnaryServerInterceptor, []grpc.StreamServerInterceptor) {
	sorted := slices.Clone(b.entries)
	slices.SortStableFunc(sorted, func(a, c middleware) int {
		return cmp.Compare(a.order, c.order)
	})

	var unary []grpc.UnaryServerInterceptor
	var stream []grpc.StreamServerInterceptor
	for _, m := range sorted {
		if m.unary != nil {
			unary = append(unary, m.unary)
		}
		if m.stream != nil {
			stream = append(stream, m.stream)
		}
	}
	return unary, stream
}
