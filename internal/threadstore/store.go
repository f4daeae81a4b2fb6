// ABOUTME: Thread record model and the JSON file store behind the gateway.
// ABOUTME: Overwrite-on-write persistence; corrupt files reset to empty.

package threadstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Record is the persisted state of a thread. ProviderThreadID is the
// agent's own session identifier and is never exposed externally.
type Record struct {
	ThreadID         string   `json:"threadId"`
	RoutingMode      string   `json:"routingMode"`
	Provider         string   `json:"provider"`
	ProviderThreadID string   `json:"providerThreadId"`
	Model            string   `json:"model,omitempty"`
	MCPProfileIDs    []string `json:"mcpProfileIds,omitempty"`
	Channel          string   `json:"channel"`
	UserID           string   `json:"userId"`
	ChatType         string   `json:"chatType"`
	PeerID           string   `json:"peerId"`
	AccountID        string   `json:"accountId,omitempty"`
	IdentityID       string   `json:"identityId,omitempty"`
	ChannelThreadID  string   `json:"channelThreadId,omitempty"`
	CreatedAt        string   `json:"createdAt"`
	UpdatedAt        string   `json:"updatedAt"`
}

// PublicRecord is a Record stripped of the agent session identifier, safe
// to return to external callers.
type PublicRecord struct {
	ThreadID        string   `json:"threadId"`
	RoutingMode     string   `json:"routingMode"`
	Provider        string   `json:"provider"`
	Model           string   `json:"model,omitempty"`
	MCPProfileIDs   []string `json:"mcpProfileIds,omitempty"`
	Channel         string   `json:"channel"`
	UserID          string   `json:"userId"`
	ChatType        string   `json:"chatType"`
	PeerID          string   `json:"peerId"`
	AccountID       string   `json:"accountId,omitempty"`
	IdentityID      string   `json:"identityId,omitempty"`
	ChannelThreadID string   `json:"channelThreadId,omitempty"`
	CreatedAt       string   `json:"createdAt"`
	UpdatedAt       string   `json:"updatedAt"`
}

// Public returns the externally visible view of the record.
func (r *Record) Public() PublicRecord {
	return PublicRecord{
		ThreadID:        r.ThreadID,
		RoutingMode:     r.RoutingMode,
		Provider:        r.Provider,
		Model:           r.Model,
		MCPProfileIDs:   r.MCPProfileIDs,
		Channel:         r.Channel,
		UserID:          r.UserID,
		ChatType:        r.ChatType,
		PeerID:          r.PeerID,
		AccountID:       r.AccountID,
		IdentityID:      r.IdentityID,
		ChannelThreadID: r.ChannelThreadID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// timeLayout produces ISO-8601 timestamps that sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t for record fields.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Store is the persistence interface for thread records.
type Store interface {
	Init() error
	Get(threadID string) (*Record, bool)
	List() []*Record
	Upsert(record *Record) error
}

// fileDoc is the on-disk document shape.
type fileDoc struct {
	Threads map[string]*Record `json:"threads"`
}

// FileStore keeps all records in one pretty-printed JSON file. Writers
// are serialized by the gateway's per-thread queue; the internal lock
// guards the occasional cross-thread reader.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	threads map[string]*Record
}

// NewFileStore creates a store backed by the file at path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:    path,
		logger:  logger,
		threads: make(map[string]*Record),
	}
}

// Init loads the file, creating the parent directory and an empty file
// when absent. A corrupt file is reset to empty and rewritten.
func (s *FileStore) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.threads = make(map[string]*Record)
		return s.persistLocked()
	}
	if err != nil {
		return fmt.Errorf("reading thread store: %w", err)
	}

	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil || doc.Threads == nil {
		s.logger.Warn("thread store corrupt, resetting", "path", s.path, "error", err)
		s.threads = make(map[string]*Record)
		return s.persistLocked()
	}

	s.threads = doc.Threads
	return nil
}

// Get returns the record for threadID, if any.
func (s *FileStore) Get(threadID string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.threads[threadID]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

// List returns all records ordered by UpdatedAt descending.
func (s *FileStore) List() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.threads))
	for _, r := range s.threads {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ThreadID < out[j].ThreadID
	})
	return out
}

// Upsert stores the record and rewrites the file.
func (s *FileStore) Upsert(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *record
	s.threads[record.ThreadID] = &cp
	return s.persistLocked()
}

func (s *FileStore) persistLocked() error {
	data, err := json.MarshalIndent(fileDoc{Threads: s.threads}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding thread store: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing thread store: %w", err)
	}
	return nil
}
