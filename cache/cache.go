// Package cache provides a two-tier cache-aside store: a bounded,
// process-local primary tier with TTL expiry and tag invalidation, backed by
// an optional durable tier that survives restarts and is promoted back into
// the primary tier on read.
package cache

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is used when a caller passes a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// ErrQuotaExceeded is returned by a Store that cannot hold another write.
var ErrQuotaExceeded = errors.New("cache: durable store quota exceeded")

// Store is the durable tier contract: a flat string key/value store shared
// across restarts. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key. The boolean reports a hit.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores val under key, overwriting any previous value.
	Set(ctx context.Context, key, val string) error

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Keys lists every key that starts with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// FetchFunc produces the value for a key on a miss in both tiers.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Tier names a cache tier for metrics.
type Tier string

const (
	TierPrimary Tier = "primary"
	TierDurable Tier = "durable"
)

// Recorder receives cache events. All methods must be safe for concurrent use.
type Recorder interface {
	// CacheHit is called for every lookup served by tier.
	CacheHit(tier Tier)
	// CacheMiss is called for every lookup that tier could not serve.
	CacheMiss(tier Tier)
	// EntriesEvicted is called when capacity eviction removes n entries.
	EntriesEvicted(n int)
	// DurableError is called when a durable tier operation fails.
	DurableError(op string)
	// ObservePrimarySize registers a callback reporting the primary tier size.
	ObservePrimarySize(fn func() int)
}

// Stats is a point-in-time view of both tiers.
type Stats struct {
	PrimarySize     int `json:"primary_size"`
	PrimaryLimit    int `json:"primary_limit"`
	DurableKeyCount int `json:"durable_key_count"`
}

// WarmUpEntry describes a key to preload with [Tiered.WarmUp].
type WarmUpEntry[V any] struct {
	Key   string
	Fetch FetchFunc[V]
	TTL   time.Duration
	Tags  []string
}
