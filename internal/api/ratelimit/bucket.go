// Token-bucket rate limiting keyed by credential, client IP and route.
// Buckets refill proportionally to elapsed wall-clock time over a fixed
// window rather than on a ticker, so an idle key pays no upkeep cost.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens     int
	lastRefill time.Time
}

type BucketStore struct {
	*sync.Mutex

	capacity int
	window   time.Duration
	buckets  map[string]*bucket

	// now is swapped out by tests
	now func() time.Time
}

func NewBucketStore(capacity int, window time.Duration) *BucketStore {
	return &BucketStore{
		Mutex:    &sync.Mutex{},
		capacity: capacity,
		window:   window,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// Allow takes one token from the bucket for the given key, reporting
// whether the request may proceed. New buckets start full; existing
// buckets are topped up with floor(elapsed/window * capacity) tokens,
// capped at capacity.
func (store *BucketStore) Allow(key string) bool {
	store.Lock()
	defer store.Unlock()

	now := store.now()
	b, ok := store.buckets[key]
	if !ok {
		b = &bucket{tokens: store.capacity, lastRefill: now}
		store.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastRefill)
		refill := int(int64(store.capacity) * elapsed.Milliseconds() / store.window.Milliseconds())
		if refill > 0 {
			b.tokens = min(store.capacity, b.tokens+refill)
			b.lastRefill = now
		}
	}

	if b.tokens <= 0 {
		return false
	}

	b.tokens--
	return true
}

// RunCleanup periodically drops buckets which have been idle for at
// least two windows, bounding memory under rotating keys. Blocks until
// the context is cancelled.
func (store *BucketStore) RunCleanup(ctx context.Context) error {
	ticker := time.NewTicker(store.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			store.prune()
		case <-ctx.Done():
			return nil
		}
	}
}

func (store *BucketStore) prune() {
	store.Lock()
	defer store.Unlock()

	cutoff := store.now().Add(-2 * store.window)
	for key, b := range store.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(store.buckets, key)
		}
	}
}

func min(a int, b int) int {
	if a < b {
		return a
	}

	return b
}
