package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dataquill-ai/dataquill-engine/pkg/apperrors"
	"github.com/dataquill-ai/dataquill-engine/pkg/datasource"
	"github.com/dataquill-ai/dataquill-engine/pkg/logging"
	"github.com/dataquill-ai/dataquill-engine/pkg/models"
	"github.com/dataquill-ai/dataquill-engine/pkg/progress"
	sqlpkg "github.com/dataquill-ai/dataquill-engine/pkg/sql"
)

// User-safe error lines. Raw SQL, violations, and driver errors go to logs
// only.
const (
	msgNoTables    = "I couldn't find the right tables for that question."
	msgUnsafeQuery = "I couldn't produce a safe query for that question. Try narrowing your question to a single table."
	msgLLMTrouble  = "I had trouble understanding that question. Try rephrasing it."
	msgExecution   = "Something went wrong while running the query. Please try again."
)

// Coordinator owns the confidence-gated state machine that routes a question
// through template search, extraction, validation, synthesis, and execution.
// Strictly sequential within a request; no stage mutates shared state.
type Coordinator struct {
	deps      Dependencies
	extractor *Extractor
	builder   *Builder
	logger    *zap.Logger
}

// NewCoordinator wires the pipeline from its dependencies.
func NewCoordinator(deps Dependencies) *Coordinator {
	return &Coordinator{
		deps:      deps,
		extractor: NewExtractor(deps.LLM, deps.Values, deps.Logger),
		builder:   NewBuilder(deps.LLM, deps.Pipeline.MaxDisplayColumns, deps.Logger),
		logger:    deps.Logger.Named("coordinator"),
	}
}

// ProcessQuery runs one data turn. Exactly one of the response or the
// clarification is non-nil on success; an error is returned only for
// cancellation or internal failures, never for user-recoverable conditions.
func (c *Coordinator) ProcessQuery(ctx context.Context, req *models.QueryRequest, reporter progress.Reporter) (*models.NL2SQLResponse, *models.ClarificationRequest, error) {
	if req.Resume != nil {
		switch req.Resume.Stage {
		case models.StageConfirmDynamic:
			return c.resumeDynamic(ctx, req, reporter)
		case models.StageClarifyParameter:
			return c.resumeTemplate(ctx, req, reporter)
		}
	}

	template, err := c.searchTemplate(ctx, req.Question, reporter)
	switch {
	case err == nil:
		return c.runTemplate(ctx, req, template, nil, reporter)
	case errors.Is(err, apperrors.ErrTemplateMatchMiss):
		return c.runDynamic(ctx, req, req.Question, reporter)
	default:
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		c.logger.Warn("template search failed, routing to dynamic path", zap.Error(err))
		return c.runDynamic(ctx, req, req.Question, reporter)
	}
}

// searchTemplate returns the best template at or above the match threshold. A
// below-threshold or empty result is an ErrTemplateMatchMiss; any other error
// is a search infrastructure failure.
func (c *Coordinator) searchTemplate(ctx context.Context, question string, reporter progress.Reporter) (*models.QueryTemplate, error) {
	reporter.StepStart("template_search", true)
	start := time.Now()
	defer func() { reporter.StepEnd("template_search", true, time.Since(start)) }()

	matches, err := c.deps.Searcher.SearchTemplates(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("search templates: %w", err)
	}
	if len(matches) == 0 || matches[0].Score < c.deps.Pipeline.TemplateMatchThreshold {
		return nil, apperrors.ErrTemplateMatchMiss
	}

	template := &matches[0].Template
	if !tokensDeclared(template) {
		c.logger.Warn("template SQL carries undeclared tokens, treating as a miss",
			zap.String("template_id", template.ID))
		return nil, fmt.Errorf("template %s is malformed: %w", template.ID, apperrors.ErrTemplateMatchMiss)
	}
	return template, nil
}

// tokensDeclared reports whether every %{token}% in the template SQL has a
// matching parameter definition. A mismatch is a template authoring error.
func tokensDeclared(template *models.QueryTemplate) bool {
	declared := make(map[string]bool, len(template.Parameters))
	for i := range template.Parameters {
		declared[template.Parameters[i].Name] = true
	}
	for _, name := range sqlpkg.ExtractTokens(template.SQLText) {
		if !declared[name] {
			return false
		}
	}
	return true
}

// runTemplate drives the template path: extraction, parameter validation, the
// confidence gate, query validation, execution.
func (c *Coordinator) runTemplate(ctx context.Context, req *models.QueryRequest, template *models.QueryTemplate, prior *models.PendingClarification, reporter progress.Reporter) (*models.NL2SQLResponse, *models.ClarificationRequest, error) {
	extReq := &ExtractionRequest{
		UserText: req.Question,
		ThreadID: req.ThreadID,
		Template: template,
		Prior:    prior,
	}

	draft, clar, err := c.extractor.Extract(ctx, extReq, reporter)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		c.logger.Error("parameter extraction failed", zap.Error(err))
		return errorResponse(msgLLMTrouble), nil, nil
	}
	if clar != nil {
		c.savePending(ctx, req.ThreadID, clar.Pending)
		return nil, clar, nil
	}

	params := c.extractor.HydratedParameters(ctx, template)
	validated := ValidateParameters(*draft, params)
	if !validated.ParamsValidated {
		clar := c.clarifyViolation(extReq, params, &validated)
		if clar != nil {
			c.savePending(ctx, req.ThreadID, clar.Pending)
			return nil, clar, nil
		}
		c.logger.Error("parameter validation failed with no clarifiable parameter",
			zap.Any("violations", validated.Violations))
		return nil, nil, fmt.Errorf("template %s: violations carry no parameter attribution: %w",
			template.ID, apperrors.ErrParameterValidation)
	}

	gateName, minConf := gateParameter(template, &validated)
	if gateName != "" && minConf < c.deps.Pipeline.ConfirmLow {
		clar := c.clarifyParameter(extReq, params, &validated, gateName)
		c.savePending(ctx, req.ThreadID, clar.Pending)
		return nil, clar, nil
	}
	validated.NeedsConfirmation = gateName != "" && minConf < c.deps.Pipeline.ConfirmHigh

	validated = sqlpkg.ValidateQuery(validated, c.deps.AllowedTables)
	if !validated.QueryValidated {
		// Templates are vetted; a validation failure here is a template or
		// allowlist misconfiguration, not something a retry can fix.
		c.logger.Error("template query failed validation",
			zap.String("template_id", template.ID),
			zap.Any("violations", validated.Violations))
		return errorResponse(msgUnsafeQuery), nil, nil
	}

	resp := c.execute(ctx, &validated, reporter)
	resp.QueryConfidence = minConf
	if resp.Error == "" {
		if validated.NeedsConfirmation {
			resp.QuerySummary = assumptionNote(template, &validated)
		}
		c.clearPending(ctx, req.ThreadID)
	}
	return resp, nil, nil
}

// runDynamic drives the dynamic path: table search, synthesis, validation
// with one retry, the builder confidence gate, execution.
func (c *Coordinator) runDynamic(ctx context.Context, req *models.QueryRequest, intentText string, reporter progress.Reporter) (*models.NL2SQLResponse, *models.ClarificationRequest, error) {
	reporter.StepStart("table_search", false)
	searchStart := time.Now()
	tables, err := c.deps.Searcher.SearchTables(ctx, intentText)
	reporter.StepEnd("table_search", false, time.Since(searchStart))

	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		c.logger.Warn("table search failed", zap.Error(err))
		return errorResponse(msgNoTables), nil, nil
	}
	if len(tables) == 0 {
		return errorResponse(msgNoTables), nil, nil
	}

	draft, err := c.buildValidated(ctx, req, intentText, tables, reporter)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		var vErr *validationError
		if errors.As(err, &vErr) {
			if hasViolation(vErr.violations, models.ViolationDisallowedTable) {
				return errorResponse(msgNoTables), nil, nil
			}
			return errorResponse(msgUnsafeQuery), nil, nil
		}
		c.logger.Warn("query builder failed", zap.Error(err))
		return errorResponse(msgLLMTrouble), nil, nil
	}

	if draft.Confidence < c.deps.Pipeline.DynamicConfidenceThreshold && !req.IsRefinement {
		return c.confirmDynamic(ctx, req, intentText, draft)
	}

	resp := c.execute(ctx, draft, reporter)
	resp.QueryConfidence = draft.Confidence
	resp.QuerySummary = draft.Reasoning
	if resp.Error == "" {
		c.clearPending(ctx, req.ThreadID)
	}
	return resp, nil, nil
}

// buildValidated synthesizes and validates a dynamic draft. An allowlist miss
// is retried exactly once with the violations fed back; shape and injection
// failures are terminal, since a model that produced unsafe SQL once is not
// trusted with a second attempt.
func (c *Coordinator) buildValidated(ctx context.Context, req *models.QueryRequest, intentText string, tables []models.TableMetadata, reporter progress.Reporter) (*models.SQLDraft, error) {
	draft, err := c.builder.Build(ctx, intentText, req.ThreadID, tables, nil, reporter)
	if err != nil {
		return nil, err
	}

	validated := sqlpkg.ValidateQuery(*draft, c.deps.AllowedTables)
	validated.Confidence = draft.Confidence
	validated.Reasoning = draft.Reasoning
	if validated.QueryValidated {
		return &validated, nil
	}
	if !onlyDisallowedTables(validated.Violations) {
		return nil, &validationError{violations: validated.Violations}
	}

	c.logger.Info("dynamic query referenced disallowed tables, retrying builder once",
		zap.Any("violations", validated.Violations))

	retry, err := c.builder.Build(ctx, intentText, req.ThreadID, tables, validated.Violations, reporter)
	if err != nil {
		return nil, err
	}
	revalidated := sqlpkg.ValidateQuery(*retry, c.deps.AllowedTables)
	revalidated.Confidence = retry.Confidence
	revalidated.Reasoning = retry.Reasoning
	if !revalidated.QueryValidated {
		return nil, &validationError{violations: revalidated.Violations}
	}
	return &revalidated, nil
}

// validationError carries a rejected dynamic draft's violations to the
// message selection in runDynamic.
type validationError struct {
	violations []models.Violation
}

func (e *validationError) Error() string {
	kinds := make([]string, len(e.violations))
	for i, v := range e.violations {
		kinds[i] = v.Kind
	}
	return "dynamic draft rejected: " + strings.Join(kinds, ", ")
}

func (e *validationError) Unwrap() error {
	return apperrors.ErrQueryValidation
}

// onlyDisallowedTables reports whether every violation is an allowlist miss,
// the one failure kind the builder is allowed to retry.
func onlyDisallowedTables(violations []models.Violation) bool {
	for _, v := range violations {
		if v.Kind != models.ViolationDisallowedTable {
			return false
		}
	}
	return len(violations) > 0
}

// confirmDynamic holds a low-confidence synthesized query for the user's
// go-ahead. The draft is persisted so acceptance skips re-synthesis.
func (c *Coordinator) confirmDynamic(ctx context.Context, req *models.QueryRequest, intentText string, draft *models.SQLDraft) (*models.NL2SQLResponse, *models.ClarificationRequest, error) {
	summary := draft.Reasoning
	if summary == "" {
		summary = "A query over " + strings.Join(draft.Tables, ", ")
	}

	c.savePending(ctx, req.ThreadID, &models.PendingClarification{
		Stage:       models.StageConfirmDynamic,
		RawUserText: intentText,
		Draft:       draft,
		CreatedAt:   time.Now().UTC(),
	})

	return &models.NL2SQLResponse{
		Columns:           []string{},
		Rows:              []map[string]any{},
		SQLExecuted:       draft.SQLText,
		TablesUsed:        draft.Tables,
		QuerySource:       models.QuerySourceDynamic,
		QueryConfidence:   draft.Confidence,
		QuerySummary:      summary,
		NeedsConfirmation: true,
	}, nil, nil
}

// resumeDynamic handles the turn after a dynamic confirmation: an affirmative
// answer executes the stored draft; anything else is treated as a revision
// and re-enters synthesis as a refinement turn.
func (c *Coordinator) resumeDynamic(ctx context.Context, req *models.QueryRequest, reporter progress.Reporter) (*models.NL2SQLResponse, *models.ClarificationRequest, error) {
	pending := req.Resume

	if isAffirmative(req.Question) && pending.Draft != nil {
		draft := sqlpkg.ValidateQuery(*pending.Draft, c.deps.AllowedTables)
		draft.Confidence = pending.Draft.Confidence
		draft.Reasoning = pending.Draft.Reasoning
		if !draft.QueryValidated {
			c.logger.Error("stored draft no longer passes validation",
				zap.Any("violations", draft.Violations))
			return errorResponse(msgUnsafeQuery), nil, nil
		}

		resp := c.execute(ctx, &draft, reporter)
		resp.QueryConfidence = draft.Confidence
		resp.QuerySummary = draft.Reasoning
		if resp.Error == "" {
			c.clearPending(ctx, req.ThreadID)
		}
		return resp, nil, nil
	}

	c.clearPending(ctx, req.ThreadID)
	revised := *req
	revised.Resume = nil
	revised.IsRefinement = true
	return c.runDynamic(ctx, &revised, req.Question, reporter)
}

// resumeTemplate handles the turn after a parameter clarification. An
// affirmative answer confirms the stored best guess; otherwise the answer
// text itself resolves the parameter through the normal extraction paths.
func (c *Coordinator) resumeTemplate(ctx context.Context, req *models.QueryRequest, reporter progress.Reporter) (*models.NL2SQLResponse, *models.ClarificationRequest, error) {
	pending := req.Resume
	if pending.Template == nil {
		c.clearPending(ctx, req.ThreadID)
		fresh := *req
		fresh.Resume = nil
		return c.ProcessQuery(ctx, &fresh, reporter)
	}

	if isAffirmative(req.Question) && pending.BestGuess != "" {
		if pending.Extracted == nil {
			pending.Extracted = make(map[string]any)
		}
		if pending.Confidences == nil {
			pending.Confidences = make(map[string]float64)
		}
		if pending.Methods == nil {
			pending.Methods = make(map[string]models.ResolutionMethod)
		}
		// The user confirmed the hypothesis; that is as good as an exact match.
		pending.Extracted[pending.Parameter] = pending.BestGuess
		pending.Methods[pending.Parameter] = models.ResolutionExactMatch
		pending.Confidences[pending.Parameter] = weightedExact(pending.Template, pending.Parameter)
	}

	return c.runTemplate(ctx, req, pending.Template, pending, reporter)
}

// execute runs a fully validated draft and shapes the terminal response,
// applying the display column cap.
func (c *Coordinator) execute(ctx context.Context, draft *models.SQLDraft, reporter progress.Reporter) *models.NL2SQLResponse {
	if !draft.ParamsValidated || !draft.QueryValidated || sqlpkg.HasTokens(draft.SQLText) {
		c.logger.Error("draft reached execution without passing validation",
			zap.Bool("params_validated", draft.ParamsValidated),
			zap.Bool("query_validated", draft.QueryValidated))
		return errorResponse(msgUnsafeQuery)
	}

	timeout := c.deps.ExecTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reporter.StepStart("sql_execute", false)
	start := time.Now()
	result, err := c.deps.Executor.Query(execCtx, draft.SQLText, datasource.MaxQueryLimit)
	reporter.StepEnd("sql_execute", false, time.Since(start))

	if err != nil {
		c.logger.Error("sql execution failed",
			zap.String("sql", logging.TruncateSQL(draft.SQLText)),
			zap.String("error", logging.SanitizeError(err)))
		return errorResponse(msgExecution)
	}

	visible, hidden := capColumns(result.Columns, c.deps.Pipeline.MaxDisplayColumns)

	return &models.NL2SQLResponse{
		Columns:           visible,
		HiddenColumns:     hidden,
		Rows:              result.Rows,
		SQLExecuted:       draft.SQLText,
		TablesUsed:        draft.Tables,
		QuerySource:       draft.QuerySource,
		NeedsConfirmation: draft.NeedsConfirmation,
	}
}

// clarifyViolation turns the first parameter validation failure into a
// clarification so the user can correct the value.
func (c *Coordinator) clarifyViolation(extReq *ExtractionRequest, params []models.ParameterDefinition, draft *models.SQLDraft) *models.ClarificationRequest {
	for _, v := range draft.Violations {
		if v.Parameter == "" {
			continue
		}
		return c.clarifyParameter(extReq, params, draft, v.Parameter)
	}
	return nil
}

// clarifyParameter re-asks one parameter, carrying every other resolution
// forward so nothing is re-extracted.
func (c *Coordinator) clarifyParameter(extReq *ExtractionRequest, params []models.ParameterDefinition, draft *models.SQLDraft, name string) *models.ClarificationRequest {
	var def *models.ParameterDefinition
	for i := range params {
		if params[i].Name == name {
			def = &params[i]
			break
		}
	}
	if def == nil {
		def = &models.ParameterDefinition{Name: name}
	}

	resolved := make(map[string]any, len(draft.Parameters))
	confidences := make(map[string]float64, len(draft.ParameterConfidences))
	methods := make(map[string]models.ResolutionMethod, len(draft.ResolutionMethods))
	for k, v := range draft.Parameters {
		if k == name {
			continue
		}
		resolved[k] = v
		confidences[k] = draft.ParameterConfidences[k]
		methods[k] = draft.ResolutionMethods[k]
	}

	bestGuess := ""
	if v, ok := draft.Parameters[name]; ok {
		if s, isStr := v.(string); isStr {
			bestGuess = s
		}
	}

	return c.extractor.buildClarification(extReq, def, bestGuess, draft.ParameterConfidences[name], resolved, confidences, methods)
}

func (c *Coordinator) savePending(ctx context.Context, threadID string, pending *models.PendingClarification) {
	if pending == nil || threadID == "" {
		return
	}
	if err := c.deps.Store.Save(ctx, threadID, pending); err != nil {
		c.logger.Warn("failed to persist pending clarification",
			zap.String("thread_id", threadID),
			zap.Error(err))
	}
}

func (c *Coordinator) clearPending(ctx context.Context, threadID string) {
	if threadID == "" {
		return
	}
	if err := c.deps.Store.Delete(ctx, threadID); err != nil {
		c.logger.Warn("failed to clear pending clarification",
			zap.String("thread_id", threadID),
			zap.Error(err))
	}
}

// gateParameter finds the lowest effective confidence across the template's
// parameters. Ties prefer ask_if_missing parameters, then earlier
// declaration, so exactly one question is asked deterministically.
func gateParameter(template *models.QueryTemplate, draft *models.SQLDraft) (string, float64) {
	name, minimum := "", 1.0
	var nameDef *models.ParameterDefinition

	for i := range template.Parameters {
		def := &template.Parameters[i]
		conf, ok := draft.ParameterConfidences[def.Name]
		if !ok {
			continue
		}
		switch {
		case name == "" || conf < minimum:
			name, minimum, nameDef = def.Name, conf, def
		case conf == minimum && def.AskIfMissing && !nameDef.AskIfMissing:
			name, nameDef = def.Name, def
		}
	}
	return name, minimum
}

// assumptionNote words the confirmation tier's note: which values were
// assumed rather than stated.
func assumptionNote(template *models.QueryTemplate, draft *models.SQLDraft) string {
	var assumed []string
	for i := range template.Parameters {
		def := &template.Parameters[i]
		switch draft.ResolutionMethods[def.Name] {
		case models.ResolutionExactMatch:
			continue
		default:
			if v, ok := draft.Parameters[def.Name]; ok {
				assumed = append(assumed, humanLabel(def)+" = "+valueString(v))
			}
		}
	}
	if len(assumed) == 0 {
		return ""
	}
	return "I assumed " + andList(assumed) + ". Is that right?"
}

func andList(values []string) string {
	if len(values) == 1 {
		return values[0]
	}
	return strings.Join(values[:len(values)-1], ", ") + " and " + values[len(values)-1]
}

func valueString(v any) string {
	if s, ok := v.(string); ok {
		return displayValue(s)
	}
	return strings.TrimSpace(strings.ReplaceAll(fmtAny(v), "\n", " "))
}

func fmtAny(v any) string {
	switch t := v.(type) {
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func weightedExact(template *models.QueryTemplate, name string) float64 {
	for i := range template.Parameters {
		if template.Parameters[i].Name == name {
			return models.EffectiveConfidence(models.ResolutionExactMatch, template.Parameters[i].Weight())
		}
	}
	return models.ResolutionExactMatch.BaseConfidence()
}

func hasViolation(violations []models.Violation, kind string) bool {
	for _, v := range violations {
		if v.Kind == kind {
			return true
		}
	}
	return false
}

// capColumns splits result columns into visible and hidden, preserving
// order. A count exactly at the cap hides nothing.
func capColumns(columns []string, maxVisible int) ([]string, []string) {
	if maxVisible <= 0 || len(columns) <= maxVisible {
		return columns, nil
	}
	return columns[:maxVisible], columns[maxVisible:]
}

// isAffirmative recognizes a confirmation answer to a hypothesis or a
// held dynamic query.
func isAffirmative(text string) bool {
	t := strings.ToLower(strings.TrimSpace(strings.TrimRight(strings.TrimSpace(text), ".!")))
	switch t {
	case "yes", "y", "yep", "yeah", "ok", "okay", "sure", "correct", "right",
		"that's right", "thats right", "looks good", "go ahead", "do it",
		"run it", "run this", "run the query", "confirm", "confirmed":
		return true
	}
	return strings.HasPrefix(t, "yes,") || strings.HasPrefix(t, "yes ")
}

func errorResponse(msg string) *models.NL2SQLResponse {
	return &models.NL2SQLResponse{
		Columns: []string{},
		Rows:    []map[string]any{},
		Error:   msg,
	}
}
