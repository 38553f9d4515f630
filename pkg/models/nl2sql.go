package models

import "time"

// QueryRequest is the pipeline coordinator's input for one turn.
type QueryRequest struct {
	Question string
	ThreadID string
	TurnID   string

	Context *ConversationContext

	// Resume carries the pending clarification state when this turn answers a
	// question the pipeline asked on the previous turn.
	Resume *PendingClarification

	// IsRefinement is true for follow-up turns that revise an earlier data
	// question; refinement turns skip the dynamic-path confidence gate.
	IsRefinement bool
}

// Pending clarification stages.
const (
	StageClarifyParameter = "clarify_parameter"
	StageConfirmDynamic   = "confirm_dynamic"
)

// PendingClarification is the serialized context persisted when the pipeline
// asks the user a question, keyed by thread ID in the external state store.
// Already-confirmed parameters are carried here and never re-extracted.
type PendingClarification struct {
	Stage      string         `json:"stage"`
	TemplateID string         `json:"template_id,omitempty"`
	Template   *QueryTemplate `json:"template,omitempty"`
	Parameter  string         `json:"parameter,omitempty"`
	// BestGuess is the hypothesis offered to the user; an affirmative answer
	// on the next turn confirms it without re-extraction.
	BestGuess   string                      `json:"best_guess,omitempty"`
	Extracted   map[string]any              `json:"extracted_so_far,omitempty"`
	Confidences map[string]float64          `json:"confidences_so_far,omitempty"`
	Methods     map[string]ResolutionMethod `json:"methods_so_far,omitempty"`
	RawUserText string                      `json:"raw_user_text"`
	// Draft holds the synthesized SQL awaiting the user's go-ahead on the
	// dynamic path; acceptance resumes with it and skips re-synthesis.
	Draft     *SQLDraft `json:"draft,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ClarificationRequest is a terminal outcome for a turn: the pipeline needs
// one answer from the user before it can continue. Clarifications are
// hypothesis-first: BestGuess is presented as a confirmable choice.
type ClarificationRequest struct {
	Question     string                `json:"question"`
	Parameter    string                `json:"parameter,omitempty"`
	BestGuess    string                `json:"best_guess,omitempty"`
	Alternatives []string              `json:"alternatives,omitempty"`
	Confidence   float64               `json:"confidence"`
	Pending      *PendingClarification `json:"-"`
}

// SchemaSuggestion is a follow-up the UI renders as a clickable pill.
type SchemaSuggestion struct {
	Title  string `json:"title"`
	Prompt string `json:"prompt"`
}

// NL2SQLResponse is the terminal result payload for a data turn.
type NL2SQLResponse struct {
	Columns       []string `json:"columns"`
	HiddenColumns []string `json:"hidden_columns,omitempty"`
	// Rows carry all columns, hidden ones included, so revealing a hidden
	// column is a client-only toggle.
	Rows              []map[string]any   `json:"rows"`
	SQLExecuted       string             `json:"sql_executed,omitempty"`
	TablesUsed        []string           `json:"tables_used,omitempty"`
	QuerySource       string             `json:"query_source,omitempty"`
	QueryConfidence   float64            `json:"query_confidence,omitempty"`
	QuerySummary      string             `json:"query_summary,omitempty"`
	NeedsConfirmation bool               `json:"needs_confirmation"`
	Suggestions       []SchemaSuggestion `json:"suggestions,omitempty"`
	ErrorSuggestions  []SchemaSuggestion `json:"error_suggestions,omitempty"`
	Error             string             `json:"error,omitempty"`
}
