package cache

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// entry is a single primary tier record. storedAt is set on insert and on
// every overwrite; reads never touch it.
type entry[V any] struct {
	key      string
	value    V
	storedAt time.Time
	ttl      time.Duration
	tags     []string
	seq      uint64 // insertion order, breaks storedAt ties
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

func (e *entry[V]) hasTag(tag string) bool {
	return slices.Contains(e.tags, tag)
}

// primary is the bounded in-process tier. Eviction is expired-first, then
// oldest storedAt first. Since reads do not refresh storedAt this is
// insertion-order eviction, not LRU.
type primary[V any] struct {
	mu      sync.Mutex
	maxSize int
	margin  int
	entries map[string]*entry[V]
	seq     uint64
}

func newPrimary[V any](maxSize int, marginFraction float64) *primary[V] {
	return &primary[V]{
		maxSize: maxSize,
		margin:  int(float64(maxSize) * marginFraction),
		entries: make(map[string]*entry[V], maxSize),
	}
}

// set inserts or overwrites key and returns the number of entries evicted to
// make room.
func (p *primary[V]) set(key string, val V, ttl time.Duration, tags []string, now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var evicted int
	if _, ok := p.entries[key]; !ok && len(p.entries) >= p.maxSize {
		evicted = p.evictLocked(now)
	}

	p.seq++
	p.entries[key] = &entry[V]{
		key:      key,
		value:    val,
		storedAt: now,
		ttl:      ttl,
		tags:     slices.Clone(tags),
		seq:      p.seq,
	}
	return evicted
}

// evictLocked frees at least one slot. Must be called with p.mu held.
func (p *primary[V]) evictLocked(now time.Time) int {
	var n int
	for k, e := range p.entries {
		if e.expired(now) {
			delete(p.entries, k)
			n++
		}
	}
	if len(p.entries) < p.maxSize {
		return n
	}

	target := max(p.maxSize-1-p.margin, 0)
	oldest := make([]*entry[V], 0, len(p.entries))
	for _, e := range p.entries {
		oldest = append(oldest, e)
	}
	slices.SortFunc(oldest, func(a, b *entry[V]) int {
		if c := a.storedAt.Compare(b.storedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	for _, e := range oldest[:len(oldest)-target] {
		delete(p.entries, e.key)
		n++
	}
	return n
}

// get returns the live value for key. An expired entry is removed.
func (p *primary[V]) get(key string, now time.Time) (V, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero V
	e, ok := p.entries[key]
	if !ok {
		return zero, false
	}
	if e.expired(now) {
		delete(p.entries, key)
		return zero, false
	}
	return e.value, true
}

func (p *primary[V]) delete(key string) {
	p.mu.Lock()
	delete(p.entries, key)
	p.mu.Unlock()
}

func (p *primary[V]) invalidateTag(tag string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var n int
	for k, e := range p.entries {
		if e.hasTag(tag) {
			delete(p.entries, k)
			n++
		}
	}
	return n
}

func (p *primary[V]) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *primary[V]) clear() {
	p.mu.Lock()
	clear(p.entries)
	p.mu.Unlock()
}
