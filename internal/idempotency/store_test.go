// ABOUTME: Tests for idempotent execution: replay, conflict, coalescing, TTL.
// ABOUTME: The clock is injected to exercise expiry deterministically.

package idempotency

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_FirstRunNotCached(t *testing.T) {
	s := New(0)

	res, cached, err := s.Execute("k1", "fp", func() (json.RawMessage, error) {
		return json.RawMessage(`{"reply":"hi"}`), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.JSONEq(t, `{"reply":"hi"}`, string(res))
}

func TestExecute_ReplayWithinTTL(t *testing.T) {
	s := New(0)

	runs := 0
	task := func() (json.RawMessage, error) {
		runs++
		return json.RawMessage(`{"n":1}`), nil
	}

	first, cached, err := s.Execute("k1", "fp", task)
	require.NoError(t, err)
	assert.False(t, cached)

	second, cached, err := s.Execute("k1", "fp", task)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, string(first), string(second))
	assert.Equal(t, 1, runs)
}

func TestExecute_FingerprintConflict(t *testing.T) {
	s := New(0)

	_, _, err := s.Execute("k1", "fp-a", func() (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	require.NoError(t, err)

	_, cached, err := s.Execute("k1", "fp-b", func() (json.RawMessage, error) {
		t.Fatal("conflicting task must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.True(t, cached)
}

func TestExecute_CoalescesInFlight(t *testing.T) {
	s := New(0)

	release := make(chan struct{})
	started := make(chan struct{})
	var runs int

	go func() {
		_, _, _ = s.Execute("k1", "fp", func() (json.RawMessage, error) {
			runs++
			close(started)
			<-release
			return json.RawMessage(`{"slow":true}`), nil
		})
	}()
	<-started

	var wg sync.WaitGroup
	results := make([]string, 3)
	cachedFlags := make([]bool, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, cached, err := s.Execute("k1", "fp", func() (json.RawMessage, error) {
				t.Error("coalesced task must not run")
				return nil, nil
			})
			require.NoError(t, err)
			results[i] = string(res)
			cachedFlags[i] = cached
		}(i)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, 1, runs)
	for i := 0; i < 3; i++ {
		assert.True(t, cachedFlags[i])
		assert.JSONEq(t, `{"slow":true}`, results[i])
	}
}

func TestExecute_ErrorsNotCached(t *testing.T) {
	s := New(0)

	boom := errors.New("agent exploded")
	_, cached, err := s.Execute("k1", "fp", func() (json.RawMessage, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, cached)

	// The key is free again: a retry executes.
	res, cached, err := s.Execute("k1", "fp", func() (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.JSONEq(t, `{"ok":true}`, string(res))
}

func TestExecute_TTLExpiry(t *testing.T) {
	s := New(time.Minute)
	current := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	_, _, err := s.Execute("k1", "fp", func() (json.RawMessage, error) {
		return json.RawMessage(`{"n":1}`), nil
	})
	require.NoError(t, err)

	// Within TTL: replayed.
	current = current.Add(30 * time.Second)
	_, cached, _ := s.Execute("k1", "fp", func() (json.RawMessage, error) {
		return json.RawMessage(`{"n":2}`), nil
	})
	assert.True(t, cached)

	// Past TTL: entry swept, task runs again, even with a new fingerprint.
	current = current.Add(2 * time.Minute)
	res, cached, err := s.Execute("k1", "other-fp", func() (json.RawMessage, error) {
		return json.RawMessage(`{"n":3}`), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.JSONEq(t, `{"n":3}`, string(res))
}
