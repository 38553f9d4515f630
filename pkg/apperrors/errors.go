package apperrors

import "errors"

// Sentinel errors for the pipeline's error taxonomy. Stages attach these with
// %w where the failure originates; the coordinator is the only place that
// decides whether one of them is recoverable.
var (
	ErrTemplateMatchMiss   = errors.New("no template matched above threshold")
	ErrCacheUnavailable    = errors.New("allowed-values cache unavailable")
	ErrLLMTimeout          = errors.New("llm call timed out")
	ErrLLMInvalidResponse  = errors.New("llm returned an unusable response")
	ErrParameterValidation = errors.New("parameter validation failed")
	ErrQueryValidation     = errors.New("query validation failed")
	ErrSQLExecution        = errors.New("sql execution failed")
	ErrNotFound            = errors.New("not found")
)
