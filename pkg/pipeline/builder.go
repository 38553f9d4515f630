package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dataquill-ai/dataquill-engine/pkg/llm"
	"github.com/dataquill-ai/dataquill-engine/pkg/models"
	"github.com/dataquill-ai/dataquill-engine/pkg/progress"
)

// defaultBuilderConfidence is used when the model omits or garbles its
// self-assessment; 0.5 lands in the confirmation tier rather than auto-run.
const defaultBuilderConfidence = 0.5

// Builder synthesizes SQL from ranked table metadata on the dynamic path.
type Builder struct {
	llm        llm.Client
	maxColumns int
	logger     *zap.Logger
}

// NewBuilder creates a query builder. maxColumns caps visible columns at the
// prompt level.
func NewBuilder(client llm.Client, maxColumns int, logger *zap.Logger) *Builder {
	if maxColumns <= 0 {
		maxColumns = 8
	}
	return &Builder{
		llm:        client,
		maxColumns: maxColumns,
		logger:     logger.Named("builder"),
	}
}

type builderResponse struct {
	SQL        string   `json:"sql"`
	Reasoning  string   `json:"reasoning"`
	Confidence *float64 `json:"confidence"`
	TablesUsed []string `json:"tables_used"`
}

// Build synthesizes a single-SELECT draft for the user's question.
// priorViolations, when present, are fed back from a failed validation so the
// retry attempt can correct itself.
func (b *Builder) Build(
	ctx context.Context,
	userText, threadID string,
	tables []models.TableMetadata,
	priorViolations []models.Violation,
	reporter progress.Reporter,
) (*models.SQLDraft, error) {
	reporter.StepStart("query_builder", true)
	start := time.Now()
	defer func() { reporter.StepEnd("query_builder", true, time.Since(start)) }()

	prompt := buildBuilderPrompt(userText, tables, b.maxColumns, priorViolations)

	response, err := b.llm.Run(ctx, prompt, builderSystemMessage, threadID)
	if err != nil {
		return nil, fmt.Errorf("query builder llm call: %w", err)
	}

	parsed, err := llm.ParseJSONResponse[builderResponse](response)
	if err != nil {
		return nil, fmt.Errorf("query builder response: %w", err)
	}
	if parsed.SQL == "" {
		return nil, fmt.Errorf("query builder response: %w", llm.NewError(llm.ErrorTypeInvalidResponse, "empty sql", false, nil))
	}

	confidence := defaultBuilderConfidence
	if parsed.Confidence != nil && *parsed.Confidence > 0 && *parsed.Confidence <= 1 {
		confidence = *parsed.Confidence
	}

	b.logger.Debug("query synthesized",
		zap.Float64("confidence", confidence),
		zap.Strings("tables_used", parsed.TablesUsed))

	return &models.SQLDraft{
		SQLText:     parsed.SQL,
		Tables:      parsed.TablesUsed,
		QuerySource: models.QuerySourceDynamic,
		Confidence:  confidence,
		Reasoning:   parsed.Reasoning,
		// No template parameters on the dynamic path; nothing to validate.
		ParamsValidated: true,
	}, nil
}
