package interceptors

import (
	"context"

	"github.com/Keksclan/hearth/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var errUnauthenticated = status.Error(codes.Unauthenticated, "unauthenticated")

// authError passes gRPC status errors through and maps anything else to
// codes.Unauthenticated so that AuthFunc details never reach the client.
func authError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	return errUnauthenticated
}

// AuthUnary returns a unary server interceptor that runs fn before the
// handler. The context returned by fn is handed to the handler.
func AuthUnary(fn auth.AuthFunc) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		authCtx, err := fn(ctx, info.FullMethod, md)
		if err != nil {
			return nil, authError(err)
		}
		return handler(authCtx, req)
	}
}

// AuthStream is the streaming counterpart of [AuthUnary].
func AuthStream(fn auth.AuthFunc) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		md, _ := metadata.FromIncomingContext(ss.Context())
		authCtx, err := fn(ss.Context(), info.FullMethod, md)
		if err != nil {
			return authError(err)
		}
		return handler(srv, withStreamContext(ss, authCtx))
	}
}
