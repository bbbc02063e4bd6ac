// Package ratelimit provides per-key token buckets.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleTTL is how long an unused bucket is kept before it is pruned.
const idleTTL = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed hands out one token bucket per key. A zero rate disables limiting.
type Keyed struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

// NewKeyed creates a limiter allowing rps sustained requests per key with
// the given burst.
func NewKeyed(rps float64, burst int) *Keyed {
	if burst <= 0 {
		burst = 1
	}
	return &Keyed{
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes one token from key's bucket.
func (k *Keyed) Allow(key string) bool {
	if k == nil || k.limit <= 0 {
		return true
	}
	now := k.now()
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pruneLocked(now)
	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Len reports the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

func (k *Keyed) pruneLocked(now time.Time) {
	if now.Sub(k.lastPrune) < idleTTL {
		return
	}
	k.lastPrune = now
	for key, b := range k.buckets {
		if now.Sub(b.lastSeen) >= idleTTL {
			delete(k.buckets, key)
		}
	}
}
