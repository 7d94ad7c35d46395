package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Keksclan/hearth/cache"
	"github.com/Keksclan/hearth/dispatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCacheMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	c := cache.New[string](cache.NewMemoryStore(0), cache.WithMaxSize(2), cache.WithMetrics(m))
	c.Set("a", "1", time.Minute)
	c.Get("a")
	c.Get("missing")
	c.Set("b", "2", time.Minute)
	c.Set("c", "3", time.Minute)

	if got := testutil.ToFloat64(m.cacheHits.WithLabelValues("primary")); got != 1 {
		t.Fatalf("primary hits: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheMisses.WithLabelValues("primary")); got != 1 {
		t.Fatalf("primary misses: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheEvictions); got < 1 {
		t.Fatalf("evictions: got %v, want >= 1", got)
	}

	expected := `
# HELP hearth_cache_primary_entries Entries currently held in primary tiers.
# TYPE hearth_cache_primary_entries gauge
hearth_cache_primary_entries 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "hearth_cache_primary_entries"); err != nil {
		t.Fatal(err)
	}
}

func TestDurableErrorMetric(t *testing.T) {
	m := New(prometheus.NewRegistry())
	c := cache.New[string](cache.NewMemoryStore(8), cache.WithMetrics(m))

	c.SetDurable(t.Context(), "k", "much longer than eight bytes", time.Minute)

	if got := testutil.ToFloat64(m.durableErrors.WithLabelValues("set")); got != 1 {
		t.Fatalf("durable set errors: got %v, want 1", got)
	}
}

func TestDispatchMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	calls := 0
	sender := dispatch.SenderFunc(func(context.Context, dispatch.Delivery) (dispatch.Result, error) {
		calls++
		if calls == 1 {
			return dispatch.Result{Success: true}, nil
		}
		return dispatch.Result{}, errors.New("unreachable")
	})

	q, err := dispatch.New(dispatch.NewMemoryStore(), sender, dispatch.WithMetrics(m))
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	t.Cleanup(q.Close)

	for p := range 2 {
		if _, err := q.Enqueue(t.Context(), dispatch.NewJob("u", "t", nil, dispatch.WithPriority(p))); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if _, err := q.ProcessBatch(t.Context()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if got := testutil.ToFloat64(m.jobs.WithLabelValues("sent")); got != 1 {
		t.Fatalf("sent: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.jobs.WithLabelValues("rescheduled")); got != 1 {
		t.Fatalf("rescheduled: got %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.batchDuration); n != 1 {
		t.Fatalf("batch duration series: got %d, want 1", n)
	}
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	New(reg)
}
