// Package pipeline implements the NL2SQL request processor: template search,
// parameter extraction with confidence scoring, validation, dynamic SQL
// synthesis, and the confidence-gated coordinator that routes between them.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dataquill-ai/dataquill-engine/pkg/config"
	"github.com/dataquill-ai/dataquill-engine/pkg/datasource"
	"github.com/dataquill-ai/dataquill-engine/pkg/llm"
	"github.com/dataquill-ai/dataquill-engine/pkg/search"
	"github.com/dataquill-ai/dataquill-engine/pkg/statestore"
)

// AllowedValuesProvider hydrates distinct column values for parameters
// declared with a database allowed-values source. The bool result flags a
// partial (truncated) list.
type AllowedValuesProvider interface {
	Get(ctx context.Context, table, column string) ([]string, bool, error)
}

// Dependencies bundles everything the coordinator needs. Constructed once at
// startup and shared across requests; the progress reporter is per-request
// and passed separately.
type Dependencies struct {
	Searcher      search.Searcher
	LLM           llm.Client
	Values        AllowedValuesProvider
	Executor      datasource.QueryExecutor
	Store         statestore.ClarificationStore
	AllowedTables map[string]struct{}
	Pipeline      *config.PipelineConfig
	// ExecTimeout bounds one SQL execution. Zero means 30s.
	ExecTimeout time.Duration
	Logger      *zap.Logger
}
