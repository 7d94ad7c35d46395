// Package auth defines how admin RPC callers are authenticated.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/Keksclan/hearth/contextx"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AuthFunc authenticates a gRPC call from its method name and incoming
// metadata. On success it returns a context, usually enriched with a
// [contextx.Actor].
type AuthFunc func(ctx context.Context, fullMethod string, md metadata.MD) (context.Context, error)

// ErrMissingToken is returned when the call carries no bearer token.
var ErrMissingToken = errors.New("auth: missing bearer token")

// BearerToken extracts the token from an "authorization: Bearer <token>"
// metadata entry.
func BearerToken(md metadata.MD) (string, error) {
	for _, v := range md.Get("authorization") {
		scheme, token, ok := strings.Cut(v, " ")
		if ok && strings.EqualFold(scheme, "bearer") && token != "" {
			return strings.TrimSpace(token), nil
		}
	}
	return "", ErrMissingToken
}

// StaticToken returns an AuthFunc accepting exactly one shared token. A
// matching call runs as actor; anything else fails with
// codes.Unauthenticated.
func StaticToken(token string, actor contextx.Actor) AuthFunc {
	want := []byte(token)
	return func(ctx context.Context, _ string, md metadata.MD) (context.Context, error) {
		got, err := BearerToken(md)
		if err != nil {
			return ctx, status.Error(codes.Unauthenticated, err.Error())
		}
		if len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			return ctx, status.Error(codes.Unauthenticated, "invalid token")
		}
		return contextx.WithActor(ctx, actor), nil
	}
}
