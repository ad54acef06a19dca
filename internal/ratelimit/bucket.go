package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BucketStore is a per-identity token bucket cache. Refill is lazy:
// tokens accrue at access time from the elapsed wall clock, never via
// a background timer. First access initializes a full bucket.
type BucketStore struct {
	mu      sync.Mutex
	entries map[string]*bucketEntry

	capacity int
	refill   rate.Limit
	idleTTL  time.Duration
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewBucketStore creates a store whose buckets hold capacity tokens
// and refill at refillPerSecond tokens per second.
func NewBucketStore(capacity int, refillPerSecond float64) *BucketStore {
	return &BucketStore{
		entries:  make(map[string]*bucketEntry),
		capacity: capacity,
		refill:   rate.Limit(refillPerSecond),
		idleTTL:  15 * time.Minute,
	}
}

// Capacity returns the configured burst capacity.
func (s *BucketStore) Capacity() int { return s.capacity }

// Consume takes cost tokens from the identity's bucket. Returns false
// without mutating the balance when the bucket cannot cover the cost.
func (s *BucketStore) Consume(identity string, cost int) bool {
	return s.limiter(identity).AllowN(time.Now(), cost)
}

// Peek reports the identity's current whole-token balance.
func (s *BucketStore) Peek(identity string) int {
	tokens := s.limiter(identity).Tokens()
	if tokens < 0 {
		return 0
	}
	return int(math.Floor(tokens))
}

func (s *BucketStore) limiter(identity string) *rate.Limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[identity]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(s.refill, s.capacity)
	s.entries[identity] = &bucketEntry{lim: lim, lastSeen: now}
	return lim
}

// Cleanup drops buckets idle longer than the store's TTL. Purely a
// memory reclamation concern; a reaped identity reappears full.
func (s *BucketStore) Cleanup() int {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked identities.
func (s *BucketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
