package cache

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Tiered combines a bounded primary tier with an optional durable tier.
// Reads check the primary tier, then the durable tier (promoting hits), then
// the fetcher. Durable tier failures are logged and never reach the caller.
//
// A Tiered is safe for concurrent use. Concurrent GetOrSet calls for the
// same key share a single durable lookup and fetch.
type Tiered[V any] struct {
	opts    options
	primary *primary[V]
	durable *durable[V]
	tracer  trace.Tracer
	loads   singleflight.Group
}

// New creates a Tiered cache. store may be nil, in which case the cache runs
// primary-only and the durable operations are no-ops.
func New[V any](store Store, opts ...Option) *Tiered[V] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	t := &Tiered[V]{
		opts:    o,
		primary: newPrimary[V](o.maxSize, o.evictionMargin),
		tracer:  o.tracer(),
	}
	if store != nil {
		t.durable = &durable[V]{
			store:     store,
			prefix:    o.keyPrefix,
			threshold: o.compressionThreshold,
			timeout:   o.durableTimeout,
			logger:    o.logger,
			recorder:  o.recorder,
		}
	}
	if o.recorder != nil {
		o.recorder.ObservePrimarySize(t.primary.len)
	}
	return t
}

func (t *Tiered[V]) now() time.Time { return t.opts.nowFunc() }

func (t *Tiered[V]) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return t.opts.defaultTTL
	}
	return ttl
}

func (t *Tiered[V]) report(tier Tier, hit bool) {
	if t.opts.recorder == nil {
		return
	}
	if hit {
		t.opts.recorder.CacheHit(tier)
		return
	}
	t.opts.recorder.CacheMiss(tier)
}

// Set stores val in the primary tier. A ttl <= 0 uses the default TTL. When
// the tier is full, expired entries are dropped first, then the oldest ones.
func (t *Tiered[V]) Set(key string, val V, ttl time.Duration, tags ...string) {
	n := t.primary.set(key, val, t.ttlOrDefault(ttl), tags, t.now())
	if n == 0 {
		return
	}
	t.opts.logger.Debug("primary cache evicted entries",
		slog.Int("evicted", n),
		slog.Int("max_size", t.opts.maxSize),
	)
	if t.opts.recorder != nil {
		t.opts.recorder.EntriesEvicted(n)
	}
}

// Get returns the primary tier value for key. An expired entry is removed
// and reported as a miss.
func (t *Tiered[V]) Get(key string) (V, bool) {
	v, ok := t.primary.get(key, t.now())
	t.report(TierPrimary, ok)
	return v, ok
}

// Has reports whether Get would return a value.
func (t *Tiered[V]) Has(key string) bool {
	_, ok := t.Get(key)
	return ok
}

// Delete removes key from the primary tier.
func (t *Tiered[V]) Delete(key string) {
	t.primary.delete(key)
}

// InvalidateByTag removes every primary tier entry carrying tag and returns
// how many were removed. Durable entries are left alone; see
// [Tiered.InvalidateByTagDurable].
func (t *Tiered[V]) InvalidateByTag(tag string) int {
	return t.primary.invalidateTag(tag)
}

// SetDurable writes val to the durable tier only. It is not bounded by the
// primary tier capacity. Keys ending in "_compressed" are rejected with a
// logged [ErrReservedKey].
func (t *Tiered[V]) SetDurable(ctx context.Context, key string, val V, ttl time.Duration) {
	if t.durable == nil {
		return
	}
	t.durable.set(ctx, key, val, t.ttlOrDefault(ttl), nil, t.now())
}

// GetDurable reads key from the durable tier. Expired and undecodable
// entries are reported as misses; expired ones are also deleted.
func (t *Tiered[V]) GetDurable(ctx context.Context, key string) (V, bool) {
	if t.durable == nil {
		var zero V
		return zero, false
	}
	v, ok := t.durable.get(ctx, key, t.now())
	t.report(TierDurable, ok)
	return v, ok
}

// DeleteDurable removes key and its encoding flag from the durable tier.
func (t *Tiered[V]) DeleteDurable(ctx context.Context, key string) {
	if t.durable != nil {
		t.durable.delete(ctx, key)
	}
}

// InvalidateByTagDurable removes every durable entry carrying tag. It scans
// the whole durable namespace.
func (t *Tiered[V]) InvalidateByTagDurable(ctx context.Context, tag string) int {
	if t.durable == nil {
		return 0
	}
	return t.durable.invalidateTag(ctx, tag, t.now())
}

// GetOrSet returns the value for key, checking the primary tier, then the
// durable tier, then calling fetch. A durable hit is promoted into the
// primary tier with ttl and tags. A fetched value is written to both tiers.
// Fetch errors are returned unchanged and nothing is cached.
//
// Concurrent callers for the same key share one lookup. The shared lookup is
// detached from the cancellation of whichever caller started it; each caller
// stops waiting when its own ctx is done and gets ctx.Err().
func (t *Tiered[V]) GetOrSet(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc[V], tags ...string) (V, error) {
	var zero V
	if v, ok := t.Get(key); ok {
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := t.loads.DoChan(key, func() (any, error) {
		ctx := loadCtx
		// Another flight may have filled the primary tier meanwhile.
		if v, ok := t.primary.get(key, t.now()); ok {
			return v, nil
		}

		if t.durable != nil {
			v, ok := t.durable.get(ctx, key, t.now())
			t.report(TierDurable, ok)
			if ok {
				t.Set(key, v, ttl, tags...)
				return v, nil
			}
		}

		ctx, span := t.tracer.Start(ctx, "cache.fetch", trace.WithAttributes(
			attribute.String("cache.key", key),
		))
		defer span.End()

		v, err := fetch(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		t.Set(key, v, ttl, tags...)
		if t.durable != nil {
			t.durable.set(ctx, key, v, t.ttlOrDefault(ttl), tags, t.now())
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}

// Stats reports the current tier sizes.
func (t *Tiered[V]) Stats(ctx context.Context) Stats {
	s := Stats{
		PrimarySize:  t.primary.len(),
		PrimaryLimit: t.opts.maxSize,
	}
	if t.durable != nil {
		s.DurableKeyCount = len(t.durable.keys(ctx))
	}
	return s
}

// Clear empties both tiers.
func (t *Tiered[V]) Clear(ctx context.Context) {
	t.primary.clear()
	if t.durable != nil {
		t.durable.clear(ctx)
	}
}

// WarmUp runs GetOrSet for every entry concurrently and waits for all of
// them. Individual failures are logged and do not affect other entries.
func (t *Tiered[V]) WarmUp(ctx context.Context, entries []WarmUpEntry[V]) {
	var g errgroup.Group
	if t.opts.warmUpConcurrency > 0 {
		g.SetLimit(t.opts.warmUpConcurrency)
	}

	for _, e := range entries {
		g.Go(func() error {
			if _, err := t.GetOrSet(ctx, e.Key, e.TTL, e.Fetch, e.Tags...); err != nil {
				t.opts.logger.Warn("cache warm-up failed",
					slog.String("key", e.Key),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}
