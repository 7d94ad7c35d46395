package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

const compressedSuffix = "_compressed"

// ErrReservedKey is reported for durable operations on keys ending in
// "_compressed". That suffix names the encoding flag of another entry.
var ErrReservedKey = errors.New("cache: keys ending in " + compressedSuffix + " are reserved in the durable tier")

func reservedKey(key string) bool { return strings.HasSuffix(key, compressedSuffix) }

// envelope is the serialized form of a durable entry.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // unix ms
	TTL       int64           `json:"ttl"`       // ms
	Tags      []string        `json:"tags,omitempty"`
}

func (e *envelope) expired(now time.Time) bool {
	return now.Sub(time.UnixMilli(e.Timestamp)) > time.Duration(e.TTL)*time.Millisecond
}

// durable wraps a Store with the entry encoding. Every failure is logged and
// reported as a miss or a no-op; nothing here returns an error.
type durable[V any] struct {
	store     Store
	prefix    string
	threshold int
	timeout   time.Duration
	logger    *slog.Logger
	recorder  Recorder
}

// bound applies the per-operation timeout to ctx.
func (d *durable[V]) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.timeout)
}

func (d *durable[V]) dataKey(key string) string { return d.prefix + key }
func (d *durable[V]) flagKey(key string) string { return d.prefix + key + compressedSuffix }

func (d *durable[V]) fail(op, key string, err error) {
	d.logger.Warn("durable cache operation failed",
		slog.String("op", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
	if d.recorder != nil {
		d.recorder.DurableError(op)
	}
}

// encode serializes val. The second return value reports whether the payload
// was base64 encoded because it exceeded the threshold.
func (d *durable[V]) encode(val V, ttl time.Duration, tags []string, now time.Time) (string, bool, error) {
	data, err := json.Marshal(val)
	if err != nil {
		return "", false, fmt.Errorf("marshal value: %w", err)
	}
	raw, err := json.Marshal(envelope{
		Data:      data,
		Timestamp: now.UnixMilli(),
		TTL:       ttl.Milliseconds(),
		Tags:      tags,
	})
	if err != nil {
		return "", false, fmt.Errorf("marshal envelope: %w", err)
	}
	if len(raw) > d.threshold {
		return base64.StdEncoding.EncodeToString(raw), true, nil
	}
	return string(raw), false, nil
}

func decode(payload string, compressed bool) (*envelope, error) {
	raw := []byte(payload)
	if compressed {
		var err error
		raw, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode base64: %w", err)
		}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &env, nil
}

func (d *durable[V]) set(ctx context.Context, key string, val V, ttl time.Duration, tags []string, now time.Time) {
	if reservedKey(key) {
		d.fail("set", key, ErrReservedKey)
		return
	}
	ctx, cancel := d.bound(ctx)
	defer cancel()

	payload, compressed, err := d.encode(val, ttl, tags, now)
	if err != nil {
		d.fail("set", key, err)
		return
	}
	if err := d.store.Set(ctx, d.dataKey(key), payload); err != nil {
		d.fail("set", key, err)
		return
	}
	if compressed {
		err = d.store.Set(ctx, d.flagKey(key), "true")
	} else {
		err = d.store.Delete(ctx, d.flagKey(key))
	}
	if err != nil {
		d.fail("set", key, err)
	}
}

// load reads and decodes the envelope for key, removing it when expired.
func (d *durable[V]) load(ctx context.Context, key string, now time.Time) (*envelope, bool) {
	if reservedKey(key) {
		d.fail("get", key, ErrReservedKey)
		return nil, false
	}
	ctx, cancel := d.bound(ctx)
	defer cancel()

	payload, ok, err := d.store.Get(ctx, d.dataKey(key))
	if err != nil {
		d.fail("get", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	flag, _, err := d.store.Get(ctx, d.flagKey(key))
	if err != nil {
		d.fail("get", key, err)
		return nil, false
	}

	env, err := decode(payload, flag == "true")
	if err != nil {
		d.fail("get", key, err)
		return nil, false
	}
	if env.expired(now) {
		d.delete(ctx, key)
		return nil, false
	}
	return env, true
}

func (d *durable[V]) get(ctx context.Context, key string, now time.Time) (V, bool) {
	var val V
	env, ok := d.load(ctx, key, now)
	if !ok {
		return val, false
	}
	if err := json.Unmarshal(env.Data, &val); err != nil {
		d.fail("get", key, fmt.Errorf("unmarshal value: %w", err))
		return val, false
	}
	return val, true
}

func (d *durable[V]) delete(ctx context.Context, key string) {
	if reservedKey(key) {
		d.fail("delete", key, ErrReservedKey)
		return
	}
	ctx, cancel := d.bound(ctx)
	defer cancel()
	if err := d.store.Delete(ctx, d.dataKey(key), d.flagKey(key)); err != nil {
		d.fail("delete", key, err)
	}
}

// keys lists the user keys currently in the durable tier. Reserved keys
// cannot be written, so every "_compressed" key is a flag.
func (d *durable[V]) keys(ctx context.Context) []string {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	all, err := d.store.Keys(ctx, d.prefix)
	if err != nil {
		d.fail("keys", d.prefix, err)
		return nil
	}
	out := make([]string, 0, len(all))
	for _, k := range all {
		if reservedKey(k) {
			continue
		}
		out = append(out, strings.TrimPrefix(k, d.prefix))
	}
	return out
}

func (d *durable[V]) invalidateTag(ctx context.Context, tag string, now time.Time) int {
	var n int
	for _, key := range d.keys(ctx) {
		env, ok := d.load(ctx, key, now)
		if !ok || !slices.Contains(env.Tags, tag) {
			continue
		}
		d.delete(ctx, key)
		n++
	}
	return n
}

func (d *durable[V]) clear(ctx context.Context) {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	all, err := d.store.Keys(ctx, d.prefix)
	if err != nil {
		d.fail("clear", d.prefix, err)
		return
	}
	if len(all) == 0 {
		return
	}
	if err := d.store.Delete(ctx, all...); err != nil {
		d.fail("clear", d.prefix, err)
	}
}
