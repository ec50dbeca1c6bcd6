// Package session remembers the last upload of each browser session so a report can be
// re-exported without uploading the workbook again.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNoUpload = errors.New("no previous upload for this session")

// Upload is what a re-export needs to rebuild the report.
type Upload struct {
	WorkbookPath string    `json:"workbookPath"`
	WorkbookName string    `json:"workbookName"`
	Zone         string    `json:"zone"`
	RunID        string    `json:"runId"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

type Store interface {
	RememberUpload(ctx context.Context, sessionID string, upload Upload) error
	LastUpload(ctx context.Context, sessionID string) (Upload, error)
	Close() error
}

// MemoryStore keeps uploads in process memory. It is used when Redis is unavailable.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	upload    Upload
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) RememberUpload(_ context.Context, sessionID string, upload Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{upload: upload}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}
	s.entries[sessionID] = entry
	return nil
}

func (s *MemoryStore) LastUpload(_ context.Context, sessionID string) (Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[sessionID]
	if !ok {
		return Upload{}, ErrNoUpload
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		delete(s.entries, sessionID)
		return Upload{}, ErrNoUpload
	}
	return entry.upload, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
