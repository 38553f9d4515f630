package models

// ResolutionMethod identifies how a parameter value was resolved.
type ResolutionMethod string

const (
	ResolutionExactMatch          ResolutionMethod = "exact_match"
	ResolutionFuzzyMatch          ResolutionMethod = "fuzzy_match"
	ResolutionLLMValidated        ResolutionMethod = "llm_validated"
	ResolutionDefaultValue        ResolutionMethod = "default_value"
	ResolutionDefaultPolicy       ResolutionMethod = "default_policy"
	ResolutionLLMUnvalidated      ResolutionMethod = "llm_unvalidated"
	ResolutionLLMFailedValidation ResolutionMethod = "llm_failed_validation"
)

// baseConfidence maps each resolution method to its base score.
var baseConfidence = map[ResolutionMethod]float64{
	ResolutionExactMatch:          1.00,
	ResolutionFuzzyMatch:          0.85,
	ResolutionLLMValidated:        0.75,
	ResolutionDefaultValue:        0.70,
	ResolutionDefaultPolicy:       0.70,
	ResolutionLLMUnvalidated:      0.65,
	ResolutionLLMFailedValidation: 0.30,
}

// BaseConfidence returns the base score for a resolution method.
func (m ResolutionMethod) BaseConfidence() float64 {
	return baseConfidence[m]
}

// EffectiveConfidence applies a parameter's confidence weight to the base
// score. The 0.3 floor keeps a misconfigured weight of 0 from zeroing the
// whole request.
func EffectiveConfidence(method ResolutionMethod, weight float64) float64 {
	w := weight
	if w < 0.3 {
		w = 0.3
	}
	return method.BaseConfidence() * w
}

// Query sources.
const (
	QuerySourceTemplate = "template"
	QuerySourceDynamic  = "dynamic"
)

// Violation kinds reported by the parameter and query validators.
const (
	ViolationOutOfRange              = "OutOfRange"
	ViolationTypeMismatch            = "TypeMismatch"
	ViolationPatternMismatch         = "PatternMismatch"
	ViolationNotAllowedValue         = "NotAllowedValue"
	ViolationDisallowedStatementType = "DisallowedStatementType"
	ViolationMultipleStatements      = "MultipleStatements"
	ViolationInjectionPattern        = "InjectionPattern"
	ViolationDisallowedTable         = "DisallowedTable"
	ViolationDataModification        = "DataModification"
)

// Violation is one validation failure.
type Violation struct {
	Parameter string `json:"parameter,omitempty"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
}

// SQLDraft is the carrier passed between pipeline stages. Stages return a new
// draft (or the same draft with replaced fields); nothing mutates a draft
// after it crosses a component boundary.
type SQLDraft struct {
	SQLText              string                      `json:"sql_text"`
	Parameters           map[string]any              `json:"parameters_extracted,omitempty"`
	ParameterConfidences map[string]float64          `json:"parameter_confidences,omitempty"`
	ResolutionMethods    map[string]ResolutionMethod `json:"resolution_methods,omitempty"`
	// PartialParams flags parameters whose allowed-values list was truncated
	// by the cache; the validator skips strict membership checks for them.
	PartialParams map[string]bool `json:"partial_params,omitempty"`

	Tables      []string `json:"tables_referenced,omitempty"`
	QuerySource string   `json:"query_source"`

	// Confidence is the builder-assessed scalar, dynamic path only.
	Confidence float64 `json:"confidence,omitempty"`
	// Reasoning carries the builder's natural-language paraphrase; used only
	// for the dynamic confirmation gate.
	Reasoning string `json:"reasoning,omitempty"`

	ParamsValidated   bool        `json:"params_validated"`
	QueryValidated    bool        `json:"query_validated"`
	NeedsConfirmation bool        `json:"needs_confirmation"`
	Violations        []Violation `json:"violations,omitempty"`
}

// MinConfidence returns the smallest per-parameter effective confidence and
// the parameter name that carries it. Ties are broken by name order; callers
// that need ask_if_missing-first or declaration-order tie-breaks iterate the
// template themselves.
func (d *SQLDraft) MinConfidence() (string, float64) {
	name, minimum := "", 2.0
	for n, c := range d.ParameterConfidences {
		if c < minimum || (c == minimum && n < name) {
			name, minimum = n, c
		}
	}
	if name == "" {
		return "", 1.0
	}
	return name, minimum
}
