// Package statestore persists in-flight clarification state between
// conversational turns, keyed by thread.
package statestore

import (
	"context"

	"github.com/dataquill-ai/dataquill-engine/pkg/models"
)

// ClarificationStore saves pipeline state while a question is out to the
// user. Entries expire server-side; a missing entry means the turn starts
// fresh.
type ClarificationStore interface {
	Save(ctx context.Context, threadID string, pending *models.PendingClarification) error
	Load(ctx context.Context, threadID string) (*models.PendingClarification, error)
	Delete(ctx context.Context, threadID string) error
}
