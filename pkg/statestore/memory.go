package statestore

import (
	"context"
	"sync"
	"time"

	"github.com/dataquill-ai/dataquill-engine/pkg/apperrors"
	"github.com/dataquill-ai/dataquill-engine/pkg/models"
)

// MemoryStore is an in-process ClarificationStore for tests and single-node
// development runs.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	contexts map[string]*models.ConversationContext
	ttl      time.Duration
}

type memoryEntry struct {
	pending *models.PendingClarification
	savedAt time.Time
}

// NewMemoryStore creates an in-memory store. A non-positive ttl disables
// expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
	}
}

// Save implements ClarificationStore.
func (s *MemoryStore) Save(_ context.Context, threadID string, pending *models.PendingClarification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[threadID] = memoryEntry{pending: pending, savedAt: time.Now()}
	return nil
}

// Load implements ClarificationStore.
func (s *MemoryStore) Load(_ context.Context, threadID string) (*models.PendingClarification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[threadID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if s.ttl > 0 && time.Since(e.savedAt) > s.ttl {
		delete(s.entries, threadID)
		return nil, apperrors.ErrNotFound
	}
	return e.pending, nil
}

// Delete implements ClarificationStore.
func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, threadID)
	return nil
}

var _ ClarificationStore = (*MemoryStore)(nil)
