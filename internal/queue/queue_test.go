// ABOUTME: Tests for per-key FIFO serialization.
// ABOUTME: Verifies ordering, no overlap per key, parallelism across keys.

package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOPerKey(t *testing.T) {
	q := New()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		q.Enqueue("k", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	q.Wait()

	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestQueue_NoOverlapPerKey(t *testing.T) {
	q := New()

	var running, maxRunning int32
	for i := 0; i < 20; i++ {
		q.Enqueue("k", func() {
			cur := atomic.AddInt32(&running, 1)
			for {
				prev := atomic.LoadInt32(&maxRunning)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxRunning, prev, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	q.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestQueue_KeysRunConcurrently(t *testing.T) {
	q := New()

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	// Both tasks block until released; if keys serialized against each
	// other, the second would never reach the barrier.
	barrier := make(chan struct{}, 2)
	for _, key := range []string{"a", "b"} {
		q.Enqueue(key, func() {
			defer wg.Done()
			barrier <- struct{}{}
			<-start
		})
	}

	for i := 0; i < 2; i++ {
		select {
		case <-barrier:
		case <-time.After(2 * time.Second):
			t.Fatal("tasks on distinct keys did not run concurrently")
		}
	}
	close(start)
	wg.Wait()
}

func TestQueue_KeyRecordDeletedWhenDrained(t *testing.T) {
	q := New()
	q.Enqueue("k", func() {})
	q.Wait()
	assert.Equal(t, 0, q.Len())
}

func TestQueue_EnqueueDuringDrain(t *testing.T) {
	q := New()

	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	done := make(chan struct{})
	q.Enqueue("k", func() {
		record("first")
		q.Enqueue("k", func() {
			record("nested")
			close(done)
		})
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested enqueue never ran")
	}
	assert.Equal(t, []string{"first", "nested"}, order)
}
