// Package assistant is the per-thread layer between the chat edge and the
// pipeline: it classifies turns, tracks schema-area context, and enriches
// responses with follow-up suggestions.
package assistant

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dataquill-ai/dataquill-engine/pkg/llm"
	"github.com/dataquill-ai/dataquill-engine/pkg/models"
	sqlpkg "github.com/dataquill-ai/dataquill-engine/pkg/sql"
)

// Intent classifies one chat turn.
type Intent string

const (
	IntentData Intent = "data"
	IntentChat Intent = "chat"
)

// crossAreaDepth is the exploration depth at which a cross-area suggestion is
// appended to broaden the conversation.
const crossAreaDepth = 3

// Assistant delegates all SQL work to the pipeline coordinator; it owns only
// classification, context, and presentation.
type Assistant struct {
	llm    llm.Client
	logger *zap.Logger
}

// New creates a data assistant.
func New(client llm.Client, logger *zap.Logger) *Assistant {
	return &Assistant{
		llm:    client,
		logger: logger.Named("assistant"),
	}
}

const classifySystemMessage = `You decide whether a chat message is a question about business data or general conversation.
Respond with JSON only: {"kind": "data"} or {"kind": "chat"}.`

type intentResponse struct {
	Kind string `json:"kind"`
}

// ClassifyIntent decides whether a turn is a data question. Classification
// failures default to data so a real question is never silently dropped.
func (a *Assistant) ClassifyIntent(ctx context.Context, text, threadID string) Intent {
	prompt := fmt.Sprintf("Message: %q", text)

	response, err := a.llm.Run(ctx, prompt, classifySystemMessage, threadID)
	if err != nil {
		a.logger.Warn("intent classification failed, assuming data turn", zap.Error(err))
		return IntentData
	}

	parsed, err := llm.ParseJSONResponse[intentResponse](response)
	if err != nil {
		a.logger.Warn("intent classification returned unusable response", zap.Error(err))
		return IntentData
	}
	if strings.EqualFold(parsed.Kind, string(IntentChat)) {
		return IntentChat
	}
	return IntentData
}

const chatSystemMessage = `You are a helpful assistant for a business data product.
Answer briefly. When relevant, suggest asking a concrete question about the data.`

// Chat answers a general conversation turn that is not a data question.
func (a *Assistant) Chat(ctx context.Context, text, threadID string) (string, error) {
	return a.llm.Run(ctx, text, chatSystemMessage, threadID)
}

// BuildRequest constructs the pipeline input for one turn, threading in the
// pending clarification and the refinement flag.
func (a *Assistant) BuildRequest(text, threadID, turnID string, pending *models.PendingClarification, cctx *models.ConversationContext) *models.QueryRequest {
	return &models.QueryRequest{
		Question:     text,
		ThreadID:     threadID,
		TurnID:       turnID,
		Context:      cctx,
		Resume:       pending,
		IsRefinement: pending == nil && isRefinementTurn(text, cctx),
	}
}

// UpdateContext records the schema area of a successful data turn. Held
// confirmations and clarification turns never change the context.
func (a *Assistant) UpdateContext(cctx *models.ConversationContext, resp *models.NL2SQLResponse) {
	if cctx == nil || resp == nil {
		return
	}
	if resp.Error != "" || len(resp.Columns) == 0 || resp.SQLExecuted == "" {
		return
	}

	primary := sqlpkg.PrimaryTable(resp.SQLExecuted)
	area := schemaAreaForTable(primary)
	if area == models.AreaNone {
		return
	}

	if area == cctx.CurrentSchemaArea {
		cctx.SchemaExplorationDepth++
	} else {
		cctx.CurrentSchemaArea = area
		cctx.SchemaExplorationDepth = 1
	}
}

// EnrichResponse attaches schema-area suggestions, or error suggestions when
// the response carries a failure. At exploration depth 3 or more, one
// cross-area suggestion is appended to broaden the conversation.
func (a *Assistant) EnrichResponse(resp *models.NL2SQLResponse, cctx *models.ConversationContext) {
	if resp == nil {
		return
	}

	area := models.AreaNone
	if cctx != nil {
		area = cctx.CurrentSchemaArea
	}
	if resp.SQLExecuted != "" {
		if a2 := schemaAreaForTable(sqlpkg.PrimaryTable(resp.SQLExecuted)); a2 != models.AreaNone {
			area = a2
		}
	}

	picks := pickSuggestions(area, 3)

	if resp.Error != "" {
		resp.ErrorSuggestions = picks
		return
	}

	if cctx != nil && cctx.SchemaExplorationDepth >= crossAreaDepth {
		if cross := crossAreaSuggestion(area); cross != nil {
			if len(picks) >= 3 {
				picks = picks[:2]
			}
			picks = append(picks, *cross)
		}
	}
	resp.Suggestions = picks
}

// RenderResponse produces the user-visible assistant text for a terminal
// response.
func (a *Assistant) RenderResponse(resp *models.NL2SQLResponse) string {
	switch {
	case resp.Error != "":
		return resp.Error
	case resp.NeedsConfirmation && len(resp.Columns) == 0:
		return fmt.Sprintf("%s Run this query?", ensureSentence(resp.QuerySummary))
	case resp.NeedsConfirmation:
		return ensureSentence(resp.QuerySummary)
	case len(resp.Rows) == 0:
		return "The query ran but returned no rows."
	default:
		return fmt.Sprintf("Here are the results: %d rows.", len(resp.Rows))
	}
}

func pickSuggestions(area models.SchemaArea, n int) []models.SchemaSuggestion {
	pool := SchemaSuggestions[area]
	if len(pool) == 0 {
		pool = genericSuggestions
	}
	if len(pool) > n {
		pool = pool[:n]
	}
	out := make([]models.SchemaSuggestion, len(pool))
	copy(out, pool)
	return out
}

// crossAreaSuggestion picks the first suggestion from a different area.
func crossAreaSuggestion(current models.SchemaArea) *models.SchemaSuggestion {
	order := []models.SchemaArea{models.AreaSales, models.AreaWarehouse, models.AreaPurchasing, models.AreaApplication}
	for _, area := range order {
		if area == current {
			continue
		}
		if pool := SchemaSuggestions[area]; len(pool) > 0 {
			s := pool[0]
			return &s
		}
	}
	return nil
}

var refinementCues = []string{
	"instead", "also show", "also include", "add ", "remove ", "without ",
	"only ", "just ", "sort by", "order by", "filter", "narrow", "same but",
}

func isRefinementTurn(text string, cctx *models.ConversationContext) bool {
	if cctx == nil || cctx.SchemaExplorationDepth == 0 {
		return false
	}
	t := strings.ToLower(text)
	for _, cue := range refinementCues {
		if strings.Contains(t, cue) {
			return true
		}
	}
	return false
}

func ensureSentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "?") && !strings.HasSuffix(s, "!") {
		s += "."
	}
	return s
}
