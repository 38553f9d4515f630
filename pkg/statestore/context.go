package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dataquill-ai/dataquill-engine/pkg/apperrors"
	"github.com/dataquill-ai/dataquill-engine/pkg/models"
)

const contextKeyPrefix = "nl2sql:context:"

// ContextStore persists the per-thread conversation context between turns.
type ContextStore interface {
	SaveContext(ctx context.Context, threadID string, cc *models.ConversationContext) error
	LoadContext(ctx context.Context, threadID string) (*models.ConversationContext, error)
}

// SaveContext implements ContextStore.
func (s *RedisStore) SaveContext(ctx context.Context, threadID string, cc *models.ConversationContext) error {
	data, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("marshal conversation context: %w", err)
	}
	if err := s.client.Set(ctx, contextKeyPrefix+threadID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save conversation context: %w", err)
	}
	return nil
}

// LoadContext implements ContextStore. Returns apperrors.ErrNotFound for a
// thread with no recorded context.
func (s *RedisStore) LoadContext(ctx context.Context, threadID string) (*models.ConversationContext, error) {
	data, err := s.client.Get(ctx, contextKeyPrefix+threadID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation context: %w", err)
	}

	var cc models.ConversationContext
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, fmt.Errorf("unmarshal conversation context: %w", err)
	}
	return &cc, nil
}

// SaveContext implements ContextStore.
func (s *MemoryStore) SaveContext(_ context.Context, threadID string, cc *models.ConversationContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contexts == nil {
		s.contexts = make(map[string]*models.ConversationContext)
	}
	s.contexts[threadID] = cc
	return nil
}

// LoadContext implements ContextStore.
func (s *MemoryStore) LoadContext(_ context.Context, threadID string) (*models.ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc, ok := s.contexts[threadID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cc, nil
}

var (
	_ ContextStore = (*RedisStore)(nil)
	_ ContextStore = (*MemoryStore)(nil)
)
