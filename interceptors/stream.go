package interceptors

import (
	"context"

	"google.golang.org/grpc"
)

// contextStream overrides the context of a wrapped server stream so that
// values added by stream interceptors reach the handler.
type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }

func withStreamContext(ss grpc.ServerStream, ctx context.Context) grpc.ServerStream {
	if ss != nil && ss.Context() == ctx {
		return ss
	}
	return &contextStream{ServerStream: ss, ctx: ctx}
}
