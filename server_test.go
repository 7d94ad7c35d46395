package hearth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Keksclan/hearth/admin"
	"github.com/Keksclan/hearth/auth"
	"github.com/Keksclan/hearth/cache"
	"github.com/Keksclan/hearth/contextx"
	"github.com/Keksclan/hearth/dispatch"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

// startServer serves s on an in-memory listener and returns a connection to it.
func startServer(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	go func() { _ = s.GRPC().Serve(lis) }()
	t.Cleanup(s.GRPC().Stop)

	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func bearer(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func newQueue(t *testing.T) *dispatch.Queue {
	t.Helper()
	q, err := dispatch.New(dispatch.NewMemoryStore(), dispatch.SenderFunc(func(context.Context, dispatch.Delivery) (dispatch.Result, error) {
		return dispatch.Result{Success: true}, nil
	}))
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	t.Cleanup(q.Close)
	return q
}

func TestNewServerReturnsNonNil(t *testing.T) {
	s := NewServer()
	if s == nil || s.GRPC() == nil {
		t.Fatal("NewServer() returned an unusable server")
	}
	if _, ok := s.GRPC().GetServiceInfo()[admin.ServiceName]; ok {
		t.Fatal("admin service registered without WithAdmin")
	}
}

func TestWithAdminRegistersService(t *testing.T) {
	s := NewServer(WithAdmin(nil, nil))
	if _, ok := s.GRPC().GetServiceInfo()[admin.ServiceName]; !ok {
		t.Fatalf("%s not registered", admin.ServiceName)
	}
}

func TestMetricsHandlerServesGatherer(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "hearth_test_total", Help: "test counter"})
	reg.MustRegister(c)
	c.Inc()

	var h http.Handler = NewServer(WithMetricsGatherer(reg)).MetricsHandler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hearth_test_total 1") {
		t.Fatalf("metric missing from body:\n%s", rec.Body.String())
	}
}

func TestAdminRequiresToken(t *testing.T) {
	tiered := cache.New[string](nil)
	s := NewServer(
		WithRecovery(),
		WithAuth(auth.StaticToken("s3cret", contextx.Actor{Subject: "ops"})),
		WithAdmin(tiered, nil),
	)
	client := admin.NewClient(startServer(t, s))

	_, err := client.CacheStats(t.Context())
	if st, _ := status.FromError(err); st.Code() != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated without token, got %v", err)
	}

	_, err = client.CacheStats(bearer(t.Context(), "wrong"))
	if st, _ := status.FromError(err); st.Code() != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated with wrong token, got %v", err)
	}

	tiered.Set("k", "v", time.Minute)
	resp, err := client.CacheStats(bearer(t.Context(), "s3cret"))
	if err != nil {
		t.Fatalf("CacheStats with token: %v", err)
	}
	if resp.Stats.PrimarySize != 1 {
		t.Fatalf("unexpected stats %+v", resp.Stats)
	}
}

func TestMethodRateLimitOnAdmin(t *testing.T) {
	s := NewServer(
		WithAdmin(nil, newQueue(t)),
		WithMethodRateLimit("/hearth.Admin/ProcessBatch", 0.001, 1),
	)
	client := admin.NewClient(startServer(t, s))

	if _, err := client.ProcessBatch(t.Context()); err != nil {
		t.Fatalf("first ProcessBatch: %v", err)
	}
	_, err := client.ProcessBatch(t.Context())
	if st, _ := status.FromError(err); st.Code() != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
	if _, err := client.GetJob(t.Context(), "missing"); status.Code(err) != codes.NotFound {
		t.Fatalf("GetJob should not share the ProcessBatch limiter: %v", err)
	}
}

func TestRequestIDEchoedInHeader(t *testing.T) {
	s := NewServer(WithRequestID(), WithAdmin(cache.New[int](nil), nil))
	conn := startServer(t, s)

	var header metadata.MD
	err := conn.Invoke(t.Context(), "/hearth.Admin/CacheStats", &admin.CacheStatsRequest{}, &admin.CacheStatsResponse{}, grpc.Header(&header))
	if err != nil {
		t.Fatalf("CacheStats: %v", err)
	}
	if ids := header.Get("x-request-id"); len(ids) != 1 || ids[0] == "" {
		t.Fatalf("expected x-request-id header, got %v", header)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	s := NewServer(WithLogger(slog.New(slog.DiscardHandler)))
	lis := bufconn.Listen(bufSize)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeReportsListenerFailure(t *testing.T) {
	lis := bufconn.Listen(bufSize)
	_ = lis.Close()
	err := NewServer().Serve(t.Context(), lis)
	if err == nil {
		t.Fatal("expected an error from a closed listener")
	}
}
