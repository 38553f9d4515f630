package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/dataquill-ai/dataquill-engine/pkg/llm"
	"github.com/dataquill-ai/dataquill-engine/pkg/models"
	"github.com/dataquill-ai/dataquill-engine/pkg/progress"
	sqlpkg "github.com/dataquill-ai/dataquill-engine/pkg/sql"
)

// maxAlternatives caps the alternatives offered in a clarification.
const maxAlternatives = 4

// ExtractionRequest is the input to one extraction run.
type ExtractionRequest struct {
	UserText string
	ThreadID string
	Template *models.QueryTemplate

	// Prior carries parameters already confirmed on an earlier clarification
	// turn. Confirmed parameters are never re-extracted.
	Prior *models.PendingClarification
}

// Extractor resolves template parameters from user text: deterministic fast
// paths first (exact, fuzzy, defaults), then one batched LLM call for
// whatever remains.
type Extractor struct {
	llm    llm.Client
	values AllowedValuesProvider
	logger *zap.Logger
}

// NewExtractor creates a parameter extractor.
func NewExtractor(client llm.Client, values AllowedValuesProvider, logger *zap.Logger) *Extractor {
	return &Extractor{
		llm:    client,
		values: values,
		logger: logger.Named("extractor"),
	}
}

// Extract resolves every parameter of the template and returns a draft with
// the template SQL substituted, or a clarification when a value cannot be
// determined. Exactly one of the results is non-nil on success.
func (e *Extractor) Extract(ctx context.Context, req *ExtractionRequest, reporter progress.Reporter) (*models.SQLDraft, *models.ClarificationRequest, error) {
	reporter.StepStart("parameter_extraction", true)
	start := time.Now()
	defer func() { reporter.StepEnd("parameter_extraction", true, time.Since(start)) }()

	params, partial := e.hydrate(ctx, req.Template)

	resolved := make(map[string]any)
	confidences := make(map[string]float64)
	methods := make(map[string]models.ResolutionMethod)

	if req.Prior != nil {
		for name, value := range req.Prior.Extracted {
			resolved[name] = value
			confidences[name] = req.Prior.Confidences[name]
			methods[name] = req.Prior.Methods[name]
		}
	}

	// Deterministic fast paths, in template-declaration order.
	var unresolved []models.ParameterDefinition
	for i := range params {
		def := &params[i]
		if _, done := resolved[def.Name]; done {
			continue
		}

		value, method, ok := e.fastPath(def, req.UserText)
		if !ok {
			unresolved = append(unresolved, *def)
			continue
		}
		resolved[def.Name] = value
		methods[def.Name] = method
		confidences[def.Name] = models.EffectiveConfidence(method, def.Weight())
	}

	// One batched LLM call for the remainder.
	if len(unresolved) > 0 {
		clar, err := e.resolveWithLLM(ctx, req, unresolved, resolved, confidences, methods)
		if err != nil {
			return nil, nil, err
		}
		if clar != nil {
			return nil, clar, nil
		}
	}

	// Anything still unresolved that the template wants asked about becomes a
	// clarification; the rest falls through at failed-validation confidence so
	// the coordinator's gate drives the conversation.
	for i := range params {
		def := &params[i]
		if _, done := resolved[def.Name]; done {
			continue
		}
		if def.AskIfMissing && allowedValuesOf(def) != nil {
			return nil, e.buildClarification(req, def, "", 0, resolved, confidences, methods), nil
		}
		resolved[def.Name] = ""
		methods[def.Name] = models.ResolutionLLMFailedValidation
		confidences[def.Name] = models.EffectiveConfidence(models.ResolutionLLMFailedValidation, def.Weight())
	}

	// Screen every resolved value, including ones carried from a prior turn.
	// A tainted value is kept but demoted below the clarify gate, so the user
	// is asked instead of the value silently reaching SQL.
	for _, hit := range sqlpkg.CheckAllParameterValues(resolved) {
		e.logger.Warn("parameter value failed injection screening",
			zap.String("parameter", hit.ParamName),
			zap.String("fingerprint", hit.Fingerprint))
		methods[hit.ParamName] = models.ResolutionLLMFailedValidation
		confidences[hit.ParamName] = models.EffectiveConfidence(
			models.ResolutionLLMFailedValidation, weightByName(params, hit.ParamName))
	}

	sqlText, err := sqlpkg.SubstituteTokens(req.Template.SQLText, resolved)
	if err != nil {
		return nil, nil, fmt.Errorf("substitute template parameters: %w", err)
	}

	draft := &models.SQLDraft{
		SQLText:              sqlText,
		Parameters:           resolved,
		ParameterConfidences: confidences,
		ResolutionMethods:    methods,
		PartialParams:        partial,
		Tables:               req.Template.Tables,
		QuerySource:          models.QuerySourceTemplate,
	}
	return draft, nil, nil
}

// HydratedParameters returns the template's parameter definitions with
// database-sourced allowed values filled in. The coordinator validates
// against the same hydrated view the extractor resolved against.
func (e *Extractor) HydratedParameters(ctx context.Context, template *models.QueryTemplate) []models.ParameterDefinition {
	params, _ := e.hydrate(ctx, template)
	return params
}

// hydrate copies the parameter definitions and fills in allowed values from
// the cache for parameters declared with a database source. Hydration applies
// to this request only; templates are never mutated. A cache failure leaves
// the parameter unhydrated so it falls through to the LLM path with no strict
// allowed-values check.
func (e *Extractor) hydrate(ctx context.Context, template *models.QueryTemplate) ([]models.ParameterDefinition, map[string]bool) {
	params := make([]models.ParameterDefinition, len(template.Parameters))
	copy(params, template.Parameters)
	partial := make(map[string]bool)

	for i := range params {
		def := &params[i]
		if def.AllowedValuesSource != models.AllowedValuesSourceDatabase {
			continue
		}

		if def.Validation != nil && len(def.Validation.AllowedValues) > 0 {
			e.logger.Warn("template declares both static allowed values and a database source; hydration wins",
				zap.String("template_id", template.ID),
				zap.String("parameter", def.Name))
		}

		// Clone validation so hydration never writes through to the template.
		v := models.ParameterValidation{}
		if def.Validation != nil {
			v = *def.Validation
		}
		v.AllowedValues = nil
		def.Validation = &v

		values, isPartial, err := e.values.Get(ctx, def.Table, def.Column)
		if err != nil {
			e.logger.Warn("allowed-values hydration failed, falling through to llm extraction",
				zap.String("parameter", def.Name),
				zap.Error(err))
			continue
		}
		v.AllowedValues = values
		if isPartial {
			partial[def.Name] = true
		}
	}
	return params, partial
}

// fastPath attempts the deterministic resolutions: exact match, fuzzy match,
// declared default. Returns ok=false when the parameter needs the LLM.
func (e *Extractor) fastPath(def *models.ParameterDefinition, userText string) (any, models.ResolutionMethod, bool) {
	allowed := allowedValuesOf(def)

	if len(allowed) > 0 {
		if v, ok := exactMatch(userText, allowed); ok {
			return v, models.ResolutionExactMatch, true
		}
		if v, ok := fuzzyMatch(userText, allowed); ok {
			return v, models.ResolutionFuzzyMatch, true
		}
	} else if def.Validation != nil && def.Validation.Type == models.ParamTypeInt {
		if n, ok := singleIntToken(userText); ok {
			return n, models.ResolutionExactMatch, true
		}
	}

	if def.DefaultValue != "" {
		return convertDefault(def, def.DefaultValue), models.ResolutionDefaultValue, true
	}
	if def.DefaultPolicy == "today" {
		return time.Now().Format("2006-01-02"), models.ResolutionDefaultPolicy, true
	}

	return nil, "", false
}

type extractionResponse struct {
	Parameters         map[string]any     `json:"parameters"`
	NeedsClarification bool               `json:"needs_clarification"`
	Missing            []missingParameter `json:"missing"`
}

type missingParameter struct {
	Name            string   `json:"name"`
	BestGuess       string   `json:"best_guess"`
	GuessConfidence float64  `json:"guess_confidence"`
	Alternatives    []string `json:"alternatives"`
}

// resolveWithLLM makes the single batched call for all unresolved parameters
// and folds the results into the resolution maps. An LLM failure is
// recoverable: unresolved parameters get failed-validation confidence and the
// gate downstream asks the user. Returns a clarification when the model
// reports it cannot determine a value.
func (e *Extractor) resolveWithLLM(
	ctx context.Context,
	req *ExtractionRequest,
	unresolved []models.ParameterDefinition,
	resolved map[string]any,
	confidences map[string]float64,
	methods map[string]models.ResolutionMethod,
) (*models.ClarificationRequest, error) {
	prompt := buildExtractionPrompt(req.Template, unresolved, req.UserText)

	response, err := e.llm.Run(ctx, prompt, extractionSystemMessage, req.ThreadID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("extraction llm call failed, falling back to low-confidence resolution",
			zap.Error(err))
		return nil, nil
	}

	parsed, err := llm.ParseJSONResponse[extractionResponse](response)
	if err != nil {
		e.logger.Warn("extraction llm returned unusable response", zap.Error(err))
		return nil, nil
	}

	if parsed.NeedsClarification && len(parsed.Missing) > 0 {
		m := parsed.Missing[0]
		for i := range unresolved {
			if unresolved[i].Name == m.Name {
				return e.buildClarificationFromLLM(req, &unresolved[i], &m, resolved, confidences, methods), nil
			}
		}
		return e.buildClarificationFromLLM(req, &unresolved[0], &m, resolved, confidences, methods), nil
	}

	for i := range unresolved {
		def := &unresolved[i]
		value, ok := parsed.Parameters[def.Name]
		if !ok {
			continue
		}

		method := classifyLLMValue(def, value, false)
		resolved[def.Name] = value
		methods[def.Name] = method
		confidences[def.Name] = models.EffectiveConfidence(method, def.Weight())
	}
	return nil, nil
}

// classifyLLMValue runs an LLM-provided value through the declared validation
// rules: pass, no rule, and fail map to distinct confidence tiers.
func classifyLLMValue(def *models.ParameterDefinition, value any, partial bool) models.ResolutionMethod {
	if def.Validation == nil || def.Validation.Type == "" {
		return models.ResolutionLLMUnvalidated
	}
	if v := validateValue(def, value, partial); v != nil {
		return models.ResolutionLLMFailedValidation
	}
	return models.ResolutionLLMValidated
}

// buildClarification produces the hypothesis-first question for a parameter
// the deterministic path could not resolve. bestGuess may be empty; the
// closest fuzzy candidate or the first allowed value is used.
func (e *Extractor) buildClarification(
	req *ExtractionRequest,
	def *models.ParameterDefinition,
	bestGuess string,
	guessConfidence float64,
	resolved map[string]any,
	confidences map[string]float64,
	methods map[string]models.ResolutionMethod,
) *models.ClarificationRequest {
	allowed := allowedValuesOf(def)

	if bestGuess == "" {
		if v, ok := fuzzyMatch(req.UserText, allowed); ok {
			bestGuess = v.(string)
			guessConfidence = models.EffectiveConfidence(models.ResolutionFuzzyMatch, def.Weight())
		} else if len(allowed) > 0 {
			bestGuess = allowed[0]
			guessConfidence = 0.5
		}
	}

	alternatives := make([]string, 0, maxAlternatives)
	for _, v := range allowed {
		if strings.EqualFold(v, bestGuess) {
			continue
		}
		alternatives = append(alternatives, v)
		if len(alternatives) == maxAlternatives {
			break
		}
	}

	return &models.ClarificationRequest{
		Question:     hypothesisQuestion(def, bestGuess, alternatives),
		Parameter:    def.Name,
		BestGuess:    bestGuess,
		Alternatives: alternatives,
		Confidence:   guessConfidence,
		Pending: &models.PendingClarification{
			Stage:       models.StageClarifyParameter,
			TemplateID:  req.Template.ID,
			Template:    req.Template,
			Parameter:   def.Name,
			BestGuess:   bestGuess,
			Extracted:   resolved,
			Confidences: confidences,
			Methods:     methods,
			RawUserText: originalText(req),
			CreatedAt:   time.Now().UTC(),
		},
	}
}

func (e *Extractor) buildClarificationFromLLM(
	req *ExtractionRequest,
	def *models.ParameterDefinition,
	m *missingParameter,
	resolved map[string]any,
	confidences map[string]float64,
	methods map[string]models.ResolutionMethod,
) *models.ClarificationRequest {
	clar := e.buildClarification(req, def, m.BestGuess, m.GuessConfidence, resolved, confidences, methods)
	if len(m.Alternatives) > 0 {
		alts := m.Alternatives
		if len(alts) > maxAlternatives {
			alts = alts[:maxAlternatives]
		}
		clar.Alternatives = alts
		clar.Question = hypothesisQuestion(def, clar.BestGuess, alts)
	}
	return clar
}

// hypothesisQuestion words the clarification as a confirmable guess rather
// than an open-ended question.
func hypothesisQuestion(def *models.ParameterDefinition, bestGuess string, alternatives []string) string {
	label := humanLabel(def)
	if bestGuess == "" {
		return fmt.Sprintf("Which %s should I use?", label)
	}
	if len(alternatives) == 0 {
		return fmt.Sprintf("It looks like you want %s for the %s. Is that right?", displayValue(bestGuess), label)
	}
	return fmt.Sprintf("It looks like you want %s for the %s. Is that right, or did you mean %s?",
		displayValue(bestGuess), label, orList(alternatives))
}

func humanLabel(def *models.ParameterDefinition) string {
	if def.Description != "" {
		return def.Description
	}
	return strings.ReplaceAll(def.Name, "_", " ")
}

func displayValue(v string) string {
	return strings.ReplaceAll(v, "_", " ")
}

func orList(values []string) string {
	display := make([]string, len(values))
	for i, v := range values {
		display[i] = displayValue(v)
	}
	if len(display) == 1 {
		return display[0]
	}
	return strings.Join(display[:len(display)-1], ", ") + " or " + display[len(display)-1]
}

func originalText(req *ExtractionRequest) string {
	if req.Prior != nil && req.Prior.RawUserText != "" {
		return req.Prior.RawUserText
	}
	return req.UserText
}

func weightByName(params []models.ParameterDefinition, name string) float64 {
	for i := range params {
		if params[i].Name == name {
			return params[i].Weight()
		}
	}
	return 1.0
}

func allowedValuesOf(def *models.ParameterDefinition) []string {
	if def.Validation == nil {
		return nil
	}
	return def.Validation.AllowedValues
}

// exactMatch reports a case-insensitive literal match of an allowed value
// against the user text. Underscores in candidates are treated as spaces so
// "order_count" matches "order count".
func exactMatch(userText string, allowed []string) (any, bool) {
	normText := normalizePhrase(userText)
	for _, candidate := range allowed {
		normCand := normalizePhrase(candidate)
		if normCand == "" {
			continue
		}
		pattern := `\b` + regexp.QuoteMeta(normCand) + `\b`
		if matched, _ := regexp.MatchString(pattern, normText); matched {
			return candidate, true
		}
	}
	return nil, false
}

// fuzzyMatch accepts a candidate when a normalized (lowercased, singularized)
// user token equals or is a prefix of a normalized candidate token, and no
// other candidate shares that match. Ambiguous matches fall through.
func fuzzyMatch(userText string, allowed []string) (any, bool) {
	userTokens := normalizeTokens(userText)

	var matched string
	count := 0
	for _, candidate := range allowed {
		candTokens := normalizeTokens(candidate)
		if tokensOverlap(userTokens, candTokens) {
			matched = candidate
			count++
		}
	}
	if count == 1 {
		return matched, true
	}
	return nil, false
}

func tokensOverlap(userTokens, candTokens []string) bool {
	for _, ut := range userTokens {
		if len(ut) < 3 {
			continue
		}
		for _, ct := range candTokens {
			if ut == ct || strings.HasPrefix(ct, ut) {
				return true
			}
		}
	}
	return false
}

var tokenSplitPattern = regexp.MustCompile(`[^a-z0-9]+`)

func normalizePhrase(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", " "))
}

func normalizeTokens(s string) []string {
	parts := tokenSplitPattern.Split(normalizePhrase(s), -1)
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		tokens = append(tokens, inflection.Singular(p))
	}
	return tokens
}

// singleIntToken extracts the integer from the user text when exactly one
// appears; multiple integers are ambiguous and fall through to the LLM.
var intTokenPattern = regexp.MustCompile(`\b\d+\b`)

func singleIntToken(userText string) (int64, bool) {
	hits := intTokenPattern.FindAllString(userText, -1)
	if len(hits) != 1 {
		return 0, false
	}
	n, err := strconv.ParseInt(hits[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// convertDefault renders a declared default in the parameter's value type.
func convertDefault(def *models.ParameterDefinition, raw string) any {
	if def.Validation != nil && def.Validation.Type == models.ParamTypeInt {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	}
	return raw
}
