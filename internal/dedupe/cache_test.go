// ABOUTME: Tests for the event-id dedupe cache.
// ABOUTME: Covers atomic check-and-mark, TTL expiry, and size eviction.

package dedupe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_CheckAndMark(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("ev-1"), "first sighting is not a duplicate")
	assert.True(t, cache.CheckAndMark("ev-1"), "second sighting is a duplicate")
	assert.False(t, cache.CheckAndMark("ev-2"))
}

func TestCache_TTLExpiry(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("ev-1"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, cache.CheckAndMark("ev-1"), "expired keys are fresh again")
}

func TestCache_Eviction(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.CheckAndMark("ev-1")
	cache.CheckAndMark("ev-2")
	cache.CheckAndMark("ev-3")
	cache.CheckAndMark("ev-4") // evicts ev-1

	assert.False(t, cache.CheckAndMark("ev-1"), "oldest key was evicted")
	assert.True(t, cache.CheckAndMark("ev-3"))
	assert.True(t, cache.CheckAndMark("ev-4"))
}

func TestCache_ConcurrentSingleWinner(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	fresh := 0
	var mu sync.Mutex
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !cache.CheckAndMark("same-event") {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh, "exactly one goroutine wins the mark")
}

func TestCache_CloseIdempotent(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	cache.Close()
}
