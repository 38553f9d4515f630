package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dataquill-ai/dataquill-engine/pkg/apperrors"
	"github.com/dataquill-ai/dataquill-engine/pkg/models"
)

const keyPrefix = "nl2sql:pending:"

// RedisStore keeps pending clarifications in redis with a TTL, so abandoned
// conversations expire without cleanup jobs and state survives restarts.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger.Named("statestore"),
	}, nil
}

// Save implements ClarificationStore.
func (s *RedisStore) Save(ctx context.Context, threadID string, pending *models.PendingClarification) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal pending clarification: %w", err)
	}

	if err := s.client.Set(ctx, keyPrefix+threadID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save pending clarification: %w", err)
	}

	s.logger.Debug("pending clarification saved",
		zap.String("thread_id", threadID),
		zap.String("stage", pending.Stage))
	return nil
}

// Load implements ClarificationStore. Returns apperrors.ErrNotFound when no
// clarification is pending for the thread.
func (s *RedisStore) Load(ctx context.Context, threadID string) (*models.PendingClarification, error) {
	data, err := s.client.Get(ctx, keyPrefix+threadID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load pending clarification: %w", err)
	}

	var pending models.PendingClarification
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, fmt.Errorf("unmarshal pending clarification: %w", err)
	}
	return &pending, nil
}

// Delete implements ClarificationStore. Deleting a missing key is not an
// error.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, keyPrefix+threadID).Err(); err != nil {
		return fmt.Errorf("delete pending clarification: %w", err)
	}
	return nil
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ ClarificationStore = (*RedisStore)(nil)
