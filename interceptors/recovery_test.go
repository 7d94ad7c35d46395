package interceptors

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/Keksclan/hearth/contextx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestRecoveryUnary_Panic_ReturnsInternal(t *testing.T) {
	var logs bytes.Buffer
	ic := RecoveryUnary(slog.New(slog.NewJSONHandler(&logs, nil)))
	handler := func(_ context.Context, _ any) (any, error) {
		panic("boom")
	}

	ctx := contextx.WithRequestID(t.Context(), "req-7")
	resp, err := ic(ctx, "req", &grpc.UnaryServerInfo{FullMethod: "/hearth.Admin/GetJob"}, handler)
	if resp != nil {
		t.Fatalf("expected nil response, got %v", resp)
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("expected codes.Internal, got %v", err)
	}
	if st.Message() != "internal server error" {
		t.Fatalf("panic value leaked to client: %q", st.Message())
	}

	out := logs.String()
	for _, want := range []string{`"panic":"boom"`, `"request_id":"req-7"`, `"method":"/hearth.Admin/GetJob"`, `"stack":`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log missing %s: %s", want, out)
		}
	}
}

func TestRecoveryUnary_NoPanic_Passthrough(t *testing.T) {
	ic := RecoveryUnary(nil)
	handler := func(_ context.Context, req any) (any, error) {
		return req, nil
	}

	resp, err := ic(t.Context(), "hello", &grpc.UnaryServerInfo{}, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "hello" {
		t.Fatalf("expected %q, got %v", "hello", resp)
	}
}

func TestRecoveryUnary_NonStringPanic_ReturnsInternal(t *testing.T) {
	ic := RecoveryUnary(nil)
	handler := func(_ context.Context, _ any) (any, error) {
		panic(42)
	}

	_, err := ic(t.Context(), "req", &grpc.UnaryServerInfo{}, handler)
	if st, _ := status.FromError(err); st.Code() != codes.Internal {
		t.Fatalf("expected codes.Internal, got %v", err)
	}
}

func TestRecoveryStream_Panic_ReturnsInternal(t *testing.T) {
	ic := RecoveryStream(nil)
	handler := func(_ any, _ grpc.ServerStream) error {
		panic("boom")
	}

	err := ic(nil, nil, &grpc.StreamServerInfo{}, handler)
	if st, _ := status.FromError(err); st.Code() != codes.Internal {
		t.Fatalf("expected codes.Internal, got %v", err)
	}
}

func TestRecoveryStream_NoPanic_Passthrough(t *testing.T) {
	ic := RecoveryStream(nil)
	if err := ic(nil, nil, &grpc.StreamServerInfo{}, func(any, grpc.ServerStream) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
