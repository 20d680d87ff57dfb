package engine

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Buckets is a registry of named token buckets. Buckets are keyed by the
// rateLimit construct's bucketId: every wrapped node naming the same bucket
// draws permits from the same limiter, across executions and engines using
// the same registry. The default registry is process-wide, matching the
// bucket contract.
type Buckets struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewBuckets constructs an empty registry.
func NewBuckets() *Buckets {
	return &Buckets{limiters: make(map[string]*rate.Limiter)}
}

// Get returns the limiter for the bucket, creating it on first use. When a
// later caller names the same bucket with a different rate the limiter is
// retuned in place so already-queued waiters keep their reservations.
func (b *Buckets) Get(id string, permits int, interval time.Duration) *rate.Limiter {
	if permits < 1 {
		permits = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	limit := rate.Limit(float64(permits) / interval.Seconds())

	b.mu.Lock()
	defer b.mu.Unlock()
	lim, ok := b.limiters[id]
	if !ok {
		lim = rate.NewLimiter(limit, permits)
		b.limiters[id] = lim
		return lim
	}
	if lim.Limit() != limit {
		lim.SetLimit(limit)
	}
	if lim.Burst() != permits {
		lim.SetBurst(permits)
	}
	return lim
}

// defaultBuckets backs engines built without WithBuckets.
var defaultBuckets = NewBuckets()
