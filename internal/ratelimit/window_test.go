package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowStore_IncrementCountsWithinWindow(t *testing.T) {
	store := NewWindowStore()

	count, resetAt := store.Increment("ip:203.0.113.5", time.Minute)
	assert.Equal(t, 1, count)
	assert.WithinDuration(t, time.Now().Add(time.Minute), resetAt, time.Second)

	count, second := store.Increment("ip:203.0.113.5", time.Minute)
	assert.Equal(t, 2, count)
	assert.Equal(t, resetAt, second, "reset time is fixed for the window's lifetime")
}

func TestWindowStore_StaleEntryIsReplacedNotIncremented(t *testing.T) {
	store := NewWindowStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		store.Increment("ip:203.0.113.5", time.Minute)
	}

	// Advance past the window boundary
	now = now.Add(time.Minute + time.Second)

	count, resetAt := store.Increment("ip:203.0.113.5", time.Minute)
	assert.Equal(t, 1, count, "stale window restarts from scratch")
	assert.Equal(t, now.Add(time.Minute), resetAt)
}

func TestWindowStore_PeekDoesNotCount(t *testing.T) {
	store := NewWindowStore()

	store.Increment("ip:203.0.113.5", time.Minute)
	count, _ := store.Peek("ip:203.0.113.5", time.Minute)
	assert.Equal(t, 1, count)

	count, _ = store.Peek("ip:203.0.113.5", time.Minute)
	assert.Equal(t, 1, count)
}

func TestWindowStore_PeekUnknownIdentityReadsEmpty(t *testing.T) {
	store := NewWindowStore()

	count, resetAt := store.Peek("ip:198.51.100.7", time.Minute)
	assert.Equal(t, 0, count)
	assert.WithinDuration(t, time.Now().Add(time.Minute), resetAt, time.Second)
}

func TestWindowStore_CleanupRemovesExpiredWindows(t *testing.T) {
	store := NewWindowStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	store.Increment("ip:203.0.113.5", time.Minute)
	store.Increment("ip:203.0.113.6", time.Hour)

	now = now.Add(2 * time.Minute)

	removed := store.Cleanup()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())
}
