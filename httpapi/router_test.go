package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Keksclan/hearth/auth"
	"github.com/Keksclan/hearth/cache"
	"github.com/Keksclan/hearth/contextx"
	"github.com/Keksclan/hearth/dispatch"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newQueue(t *testing.T) *dispatch.Queue {
	t.Helper()
	q, err := dispatch.New(dispatch.NewMemoryStore(), dispatch.SenderFunc(func(context.Context, dispatch.Delivery) (dispatch.Result, error) {
		return dispatch.Result{Success: true}, nil
	}))
	require.NoError(t, err)
	t.Cleanup(q.Close)
	return q
}

func do(t *testing.T, r http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checks",
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{},
		},
		{
			name: "all healthy",
			checks: map[string]Checker{
				"postgres": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return nil },
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"postgres": "ok", "redis": "ok"},
		},
		{
			name: "one failing",
			checks: map[string]Checker{
				"postgres": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return errors.New("dial tcp: connection refused") },
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"postgres": "ok", "redis": "dial tcp: connection refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(Dependencies{Checks: tt.checks})
			rec := do(t, r, http.MethodGet, "/healthz", nil)
			assert.Equal(t, tt.wantStatus, rec.Code)

			body := decode[struct {
				Checks map[string]string `json:"checks"`
			}](t, rec)
			assert.Equal(t, tt.wantChecks, body.Checks)
		})
	}
}

func TestHealth_CheckTimeout(t *testing.T) {
	r := NewRouter(Dependencies{
		CheckTimeout: 20 * time.Millisecond,
		Checks: map[string]Checker{
			"slow": func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	})
	rec := do(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "deadline exceeded")
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hearth_dispatch_jobs_total 0\n"))
	})
	rec := do(t, NewRouter(Dependencies{Metrics: metrics}), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hearth_dispatch_jobs_total")

	rec = do(t, NewRouter(Dependencies{}), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCacheRoutes(t *testing.T) {
	c := cache.New[string](cache.NewMemoryStore(0))
	ctx := t.Context()
	for _, k := range []string{"a", "b"} {
		_, err := c.GetOrSet(ctx, k, time.Minute, func(context.Context) (string, error) { return k, nil }, "journal")
		require.NoError(t, err)
	}
	r := NewRouter(Dependencies{Cache: c})

	rec := do(t, r, http.MethodGet, "/v1/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[cache.Stats](t, rec)
	assert.Equal(t, 2, stats.PrimarySize)
	assert.Equal(t, 2, stats.DurableKeyCount)

	rec = do(t, r, http.MethodPost, "/v1/cache/invalidate", gin.H{"tag": "journal", "durable": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"primary": 2, "durable": 2}, decode[map[string]int](t, rec))

	rec = do(t, r, http.MethodPost, "/v1/cache/invalidate", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobRoutes(t *testing.T) {
	r := NewRouter(Dependencies{Queue: newQueue(t)})

	rec := do(t, r, http.MethodPost, "/v1/jobs", gin.H{
		"user_id":       "u1",
		"template_key":  "email.session_reminder",
		"template_data": gin.H{"therapist": "Dr. Lee"},
		"priority":      1,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	job := decode[dispatch.Job](t, rec)
	assert.Equal(t, dispatch.StatusPending, job.Status)
	assert.Equal(t, dispatch.DefaultMaxRetries, job.MaxRetryCount)
	assert.NotEmpty(t, job.ID)

	rec = do(t, r, http.MethodPost, "/v1/dispatch/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[dispatch.Summary](t, rec)
	assert.Equal(t, 1, sum.Succeeded)

	rec = do(t, r, http.MethodGet, "/v1/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dispatch.StatusSent, decode[dispatch.Job](t, rec).Status)

	rec = do(t, r, http.MethodGet, "/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, r, http.MethodPost, "/v1/jobs", gin.H{"user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type failingQueue struct{ Queue }

func (failingQueue) ProcessBatch(context.Context) (dispatch.Summary, error) {
	return dispatch.Summary{Processed: 1}, errors.New("mark sent: database down")
}

func TestProcessBatch_StoreError(t *testing.T) {
	rec := do(t, NewRouter(Dependencies{Queue: failingQueue{}}), http.MethodPost, "/v1/dispatch/process", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"processed":1`)
}

func TestUnconfiguredComponents(t *testing.T) {
	r := NewRouter(Dependencies{})
	for _, path := range []string{"/v1/cache/stats", "/v1/jobs/x"} {
		assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, path, nil).Code, path)
	}
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/v1/dispatch/process", nil).Code)
}

func TestAuth(t *testing.T) {
	r := NewRouter(Dependencies{
		Cache: cache.New[int](nil),
		Auth:  auth.StaticToken("s3cret", contextx.Actor{Subject: "ops"}),
	})

	assert.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodGet, "/v1/cache/stats", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodGet, "/v1/cache/stats", nil, "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/v1/cache/stats", nil, "Authorization", "Bearer s3cret").Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/healthz", nil).Code, "health stays open")
}

func TestRequestIDHeader(t *testing.T) {
	r := NewRouter(Dependencies{})

	rec := do(t, r, http.MethodGet, "/healthz", nil)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	rec = do(t, r, http.MethodGet, "/healthz", nil, "X-Request-ID", "trace-me")
	assert.Equal(t, "trace-me", rec.Header().Get("X-Request-ID"))
}
