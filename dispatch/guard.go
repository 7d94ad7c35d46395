package dispatch

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// deliveryGuard remembers job IDs whose delivery succeeded. It covers the gap
// between a successful Send and a failed MarkSent: once the job is reclaimed
// it is completed without a second delivery. Admission is best effort.
type deliveryGuard struct {
	rc  *ristretto.Cache[string, struct{}]
	ttl time.Duration
}

func newDeliveryGuard(size int64, ttl time.Duration) (*deliveryGuard, error) {
	if size <= 0 {
		return nil, nil
	}
	rc, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters:        size * 10,
		MaxCost:            size,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create delivery guard: %w", err)
	}
	return &deliveryGuard{rc: rc, ttl: ttl}, nil
}

func (g *deliveryGuard) delivered(id string) bool {
	if g == nil {
		return false
	}
	_, ok := g.rc.Get(id)
	return ok
}

func (g *deliveryGuard) remember(id string) {
	if g == nil {
		return
	}
	g.rc.SetWithTTL(id, struct{}{}, 1, g.ttl)
	g.rc.Wait()
}

func (g *deliveryGuard) close() {
	if g != nil {
		g.rc.Close()
	}
}
