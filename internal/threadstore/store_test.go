// ABOUTME: Tests for the JSON file thread store.
// ABOUTME: Covers init, round trips, ordering, corruption recovery, privacy.

package threadstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	s := NewFileStore(filepath.Join(t.TempDir(), "gateway", "threads.json"), nil)
	require.NoError(t, s.Init())
	return s
}

func record(id, updatedAt string) *Record {
	return &Record{
		ThreadID:         id,
		RoutingMode:      "per-peer",
		Provider:         "claude",
		ProviderThreadID: "sess-" + id,
		Channel:          "http",
		UserID:           "u",
		ChatType:         "direct",
		PeerID:           "u",
		CreatedAt:        "2026-01-01T00:00:00.000Z",
		UpdatedAt:        updatedAt,
	}
}

func TestFileStore_InitCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "threads.json")
	s := NewFileStore(path, nil)
	require.NoError(t, s.Init())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"threads":{}}`, string(data))
}

func TestFileStore_UpsertGetRoundTrip(t *testing.T) {
	s := newStore(t)

	r := record("agent:main:direct:u", "2026-01-02T00:00:00.000Z")
	require.NoError(t, s.Upsert(r))

	got, ok := s.Get(r.ThreadID)
	require.True(t, ok)
	assert.Equal(t, r, got)

	_, ok = s.Get("agent:main:direct:other")
	assert.False(t, ok)
}

func TestFileStore_GetReturnsCopy(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Upsert(record("a", "2026-01-02T00:00:00.000Z")))

	got, _ := s.Get("a")
	got.Provider = "mutated"

	again, _ := s.Get("a")
	assert.Equal(t, "claude", again.Provider)
}

func TestFileStore_ListOrderedByUpdatedAtDesc(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Upsert(record("old", "2026-01-01T10:00:00.000Z")))
	require.NoError(t, s.Upsert(record("newest", "2026-01-03T10:00:00.000Z")))
	require.NoError(t, s.Upsert(record("middle", "2026-01-02T10:00:00.000Z")))

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, "newest", list[0].ThreadID)
	assert.Equal(t, "middle", list[1].ThreadID)
	assert.Equal(t, "old", list[2].ThreadID)
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.json")
	s := NewFileStore(path, nil)
	require.NoError(t, s.Init())
	require.NoError(t, s.Upsert(record("a", "2026-01-02T00:00:00.000Z")))

	reopened := NewFileStore(path, nil)
	require.NoError(t, reopened.Init())
	got, ok := reopened.Get("a")
	require.True(t, ok)
	assert.Equal(t, "sess-a", got.ProviderThreadID)
}

func TestFileStore_CorruptFileResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := NewFileStore(path, nil)
	require.NoError(t, s.Init())
	assert.Empty(t, s.List())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"threads":{}}`, string(data))
}

func TestFileStore_PrettyPrinted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.json")
	s := NewFileStore(path, nil)
	require.NoError(t, s.Init())
	require.NoError(t, s.Upsert(record("a", "2026-01-02T00:00:00.000Z")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"threads\"")
}

func TestRecord_PublicOmitsProviderThreadID(t *testing.T) {
	r := record("a", "2026-01-02T00:00:00.000Z")
	data, err := json.Marshal(r.Public())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "providerThreadId")
	assert.Contains(t, string(data), `"threadId":"a"`)
}

func TestTimestamp_LexicographicOrder(t *testing.T) {
	earlier := Timestamp(time.Date(2026, 2, 18, 3, 0, 0, 0, time.UTC))
	later := Timestamp(time.Date(2026, 2, 18, 5, 0, 0, 0, time.UTC))
	assert.Less(t, earlier, later)
	assert.Equal(t, "2026-02-18T03:00:00.000Z", earlier)
}
