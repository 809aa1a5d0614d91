package rest

import (
	"sync"
	"time"
)

// bucket tracks the quota of a single route key. Buckets are created
// lazily on first use and refreshed from response headers; before the
// first response the quota is unknown and requests go out freely.
type bucket struct {
	mu        sync.Mutex
	routeKey  string
	remaining int
	limit     int
	resetAt   time.Time
	known     bool
}

func newBucket(routeKey string) *bucket {
	return &bucket{routeKey: routeKey}
}

// delay reports how long the caller must wait before the bucket permits
// another send. Zero means sendable now.
func (b *bucket) delay(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known {
		return 0
	}
	if b.remaining > 0 || !now.Before(b.resetAt) {
		return 0
	}
	return b.resetAt.Sub(now)
}

// update refreshes the bucket from a response's rate-limit metadata.
// Responses without quota headers leave the bucket untouched.
func (b *bucket) update(rl RateLimit, now time.Time) {
	if rl.Remaining < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.known = true
	b.remaining = rl.Remaining
	if rl.Limit >= 0 {
		b.limit = rl.Limit
	}
	if rl.ResetAfter > 0 {
		b.resetAt = now.Add(rl.ResetAfter)
	}
}
