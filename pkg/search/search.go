// Package search queries the pre-indexed template and table-metadata stores.
// Indexing happens out-of-band; this package only reads.
package search

import (
	"context"

	"github.com/dataquill-ai/dataquill-engine/pkg/models"
)

// TemplateMatch is one ranked result from the template index.
type TemplateMatch struct {
	Template models.QueryTemplate `json:"template"`
	Score    float64              `json:"score"`
}

// Searcher is the capability the coordinator depends on.
type Searcher interface {
	// SearchTemplates returns templates ranked by similarity to the
	// question, best first.
	SearchTemplates(ctx context.Context, question string) ([]TemplateMatch, error)

	// SearchTables returns ranked table metadata for the dynamic path.
	SearchTables(ctx context.Context, question string) ([]models.TableMetadata, error)
}

// MockSearcher is a configurable test double.
type MockSearcher struct {
	SearchTemplatesFunc func(ctx context.Context, question string) ([]TemplateMatch, error)
	SearchTablesFunc    func(ctx context.Context, question string) ([]models.TableMetadata, error)

	SearchTemplatesCalls int
	SearchTablesCalls    int
}

// SearchTemplates implements Searcher.
func (m *MockSearcher) SearchTemplates(ctx context.Context, question string) ([]TemplateMatch, error) {
	m.SearchTemplatesCalls++
	if m.SearchTemplatesFunc != nil {
		return m.SearchTemplatesFunc(ctx, question)
	}
	return nil, nil
}

// SearchTables implements Searcher.
func (m *MockSearcher) SearchTables(ctx context.Context, question string) ([]models.TableMetadata, error) {
	m.SearchTablesCalls++
	if m.SearchTablesFunc != nil {
		return m.SearchTablesFunc(ctx, question)
	}
	return nil, nil
}

var _ Searcher = (*MockSearcher)(nil)
