package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dataquill-ai/dataquill-engine/pkg/apperrors"
	"github.com/dataquill-ai/dataquill-engine/pkg/config"
	"github.com/dataquill-ai/dataquill-engine/pkg/datasource"
	"github.com/dataquill-ai/dataquill-engine/pkg/llm"
	"github.com/dataquill-ai/dataquill-engine/pkg/models"
	"github.com/dataquill-ai/dataquill-engine/pkg/progress"
	"github.com/dataquill-ai/dataquill-engine/pkg/search"
	"github.com/dataquill-ai/dataquill-engine/pkg/statestore"
)

type coordFixture struct {
	searcher *search.MockSearcher
	llm      *llm.MockClient
	exec     *datasource.MockExecutor
	store    *statestore.MemoryStore
	coord    *Coordinator
}

func newCoordFixture() *coordFixture {
	f := &coordFixture{
		searcher: &search.MockSearcher{},
		llm:      llm.NewMockClient(),
		exec:     &datasource.MockExecutor{},
		store:    statestore.NewMemoryStore(0),
	}
	f.coord = NewCoordinator(Dependencies{
		Searcher: f.searcher,
		LLM:      f.llm,
		Values:   &stubValues{},
		Executor: f.exec,
		Store:    f.store,
		AllowedTables: map[string]struct{}{
			"warehouse.stockitems": {},
			"sales.orders":         {},
		},
		Pipeline: &config.PipelineConfig{
			MaxDisplayColumns:          8,
			DynamicConfidenceThreshold: 0.70,
			ConfirmLow:                 0.60,
			ConfirmHigh:                0.85,
			TemplateMatchThreshold:     0.62,
		},
		Logger: zap.NewNop(),
	})
	return f
}

func (f *coordFixture) templateHit(score float64) {
	f.searcher.SearchTemplatesFunc = func(context.Context, string) ([]search.TemplateMatch, error) {
		return []search.TemplateMatch{{Template: *metricTemplate(), Score: score}}, nil
	}
}

func (f *coordFixture) process(t *testing.T, req *models.QueryRequest) (*models.NL2SQLResponse, *models.ClarificationRequest) {
	t.Helper()
	resp, clar, err := f.coord.ProcessQuery(context.Background(), req, progress.NoopReporter{})
	require.NoError(t, err)
	return resp, clar
}

func (f *coordFixture) pending(t *testing.T, threadID string) *models.PendingClarification {
	t.Helper()
	p, err := f.store.Load(context.Background(), threadID)
	require.NoError(t, err)
	return p
}

func (f *coordFixture) noPending(t *testing.T, threadID string) {
	t.Helper()
	_, err := f.store.Load(context.Background(), threadID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestProcessQueryTemplateAutoRun(t *testing.T) {
	f := newCoordFixture()
	f.templateHit(0.9)
	f.exec.QueryFunc = func(context.Context, string, int) (*datasource.QueryResult, error) {
		return &datasource.QueryResult{
			Columns: []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8", "c9"},
			Rows:    []map[string]any{{"c1": "x"}},
		}, nil
	}

	resp, clar := f.process(t, &models.QueryRequest{Question: "top 5 stock items by order count", ThreadID: "t1"})
	require.Nil(t, clar)
	require.NotNil(t, resp)

	assert.Empty(t, resp.Error)
	assert.Equal(t, models.QuerySourceTemplate, resp.QuerySource)
	assert.InDelta(t, 1.0, resp.QueryConfidence, 1e-9)
	assert.False(t, resp.NeedsConfirmation)
	assert.Empty(t, resp.QuerySummary)

	assert.Len(t, resp.Columns, 8)
	assert.Equal(t, []string{"c9"}, resp.HiddenColumns)
	assert.Len(t, resp.Rows, 1)

	assert.Zero(t, f.llm.RunCalls)
	assert.Equal(t, 1, f.exec.QueryCalls)
	f.noPending(t, "t1")
}

func TestProcessQueryTemplateConfirmTier(t *testing.T) {
	f := newCoordFixture()
	f.templateHit(0.9)

	// No count in the text; the declared default resolves it at 0.70, inside
	// the confirmation band, so the query runs with an assumption note.
	resp, clar := f.process(t, &models.QueryRequest{Question: "top stock items by order count", ThreadID: "t1"})
	require.Nil(t, clar)
	require.NotNil(t, resp)

	assert.Empty(t, resp.Error)
	assert.True(t, resp.NeedsConfirmation)
	assert.InDelta(t, 0.70, resp.QueryConfidence, 1e-9)
	assert.Contains(t, resp.QuerySummary, "I assumed")
	assert.Contains(t, resp.QuerySummary, "number of items = 10")
	assert.Equal(t, 1, f.exec.QueryCalls)
}

func TestProcessQueryTemplateClarifyAndConfirm(t *testing.T) {
	f := newCoordFixture()
	f.templateHit(0.9)
	f.llm.RunFunc = func(context.Context, string, string, string) (string, error) {
		return "", errors.New("model unavailable")
	}

	resp, clar := f.process(t, &models.QueryRequest{Question: "top 5 stock items by worth", ThreadID: "t1"})
	require.Nil(t, resp)
	require.NotNil(t, clar)
	assert.Equal(t, "metric", clar.Parameter)
	assert.Equal(t, "order_count", clar.BestGuess)
	assert.Zero(t, f.exec.QueryCalls)

	pending := f.pending(t, "t1")
	assert.Equal(t, models.StageClarifyParameter, pending.Stage)
	assert.Equal(t, "order_count", pending.BestGuess)

	// "yes" confirms the hypothesis; every parameter is now carried forward,
	// so the model is not consulted again.
	llmCallsBefore := f.llm.RunCalls
	resp, clar = f.process(t, &models.QueryRequest{Question: "yes", ThreadID: "t1", Resume: pending})
	require.Nil(t, clar)
	require.NotNil(t, resp)

	assert.Empty(t, resp.Error)
	assert.InDelta(t, 1.0, resp.QueryConfidence, 1e-9)
	assert.Equal(t, llmCallsBefore, f.llm.RunCalls)
	assert.Equal(t, 1, f.exec.QueryCalls)
	f.noPending(t, "t1")
}

func TestProcessQueryTemplateClarifyAnsweredWithValue(t *testing.T) {
	f := newCoordFixture()
	f.templateHit(0.9)
	f.llm.RunFunc = func(context.Context, string, string, string) (string, error) {
		return "", errors.New("model unavailable")
	}

	_, clar := f.process(t, &models.QueryRequest{Question: "top 5 stock items by worth", ThreadID: "t1"})
	require.NotNil(t, clar)
	pending := f.pending(t, "t1")

	// The user answers with a different value; it resolves through the normal
	// exact-match path against the allowed list.
	resp, clar := f.process(t, &models.QueryRequest{Question: "quantity", ThreadID: "t1", Resume: pending})
	require.Nil(t, clar)
	require.NotNil(t, resp)

	assert.Empty(t, resp.Error)
	require.Equal(t, 1, f.exec.QueryCalls)
	assert.Contains(t, f.exec.QueriesRun[0], "'quantity'")
	f.noPending(t, "t1")
}

func TestProcessQueryDynamicAutoRun(t *testing.T) {
	f := newCoordFixture()
	f.templateHit(0.3) // below the match threshold
	f.searcher.SearchTablesFunc = func(context.Context, string) ([]models.TableMetadata, error) {
		return stockItemsMetadata(), nil
	}
	f.llm.RunFunc = func(context.Context, string, string, string) (string, error) {
		return `{"sql":"SELECT TOP 10 StockItemName FROM Warehouse.StockItems","reasoning":"Ten stock items.","confidence":0.9,"tables_used":["Warehouse.StockItems"]}`, nil
	}

	resp, clar := f.process(t, &models.QueryRequest{Question: "what is in the warehouse", ThreadID: "t1"})
	require.Nil(t, clar)
	require.NotNil(t, resp)

	assert.Empty(t, resp.Error)
	assert.Equal(t, models.QuerySourceDynamic, resp.QuerySource)
	assert.InDelta(t, 0.9, resp.QueryConfidence, 1e-9)
	assert.Equal(t, "Ten stock items.", resp.QuerySummary)
	assert.False(t, resp.NeedsConfirmation)
	assert.Equal(t, 1, f.exec.QueryCalls)
	assert.Equal(t, 1, f.searcher.SearchTablesCalls)
}

func TestProcessQueryDynamicHoldAndAccept(t *testing.T) {
	f := newCoordFixture()
	f.templateHit(0.3)
	f.searcher.SearchTablesFunc = func(context.Context, string) ([]models.TableMetadata, error) {
		return stockItemsMetadata(), nil
	}
	f.llm.RunFunc = func(context.Context, string, string, string) (string, error) {
		return `{"sql":"SELECT StockItemName FROM Warehouse.StockItems","reasoning":"All stock item names.","confidence":0.5,"tables_used":["Warehouse.StockItems"]}`, nil
	}

	resp, clar := f.process(t, &models.QueryRequest{Question: "something vague", ThreadID: "t1"})
	require.Nil(t, clar)
	require.NotNil(t, resp)

	// Held, not executed: the SQL and summary are shown for the user's
	// go-ahead and the result set is empty.
	assert.True(t, resp.NeedsConfirmation)
	assert.Empty(t, resp.Columns)
	assert.Empty(t, resp.Rows)
	assert.Equal(t, "SELECT StockItemName FROM Warehouse.StockItems", resp.SQLExecuted)
	assert.Equal(t, "All stock item names.", resp.QuerySummary)
	assert.Zero(t, f.exec.QueryCalls)

	pending := f.pending(t, "t1")
	assert.Equal(t, models.StageConfirmDynamic, pending.Stage)
	require.NotNil(t, pending.Draft)

	// Acceptance executes the stored draft without re-synthesis.
	llmCallsBefore := f.llm.RunCalls
	resp, clar = f.process(t, &models.QueryRequest{Question: "run it", ThreadID: "t1", Resume: pending})
	require.Nil(t, clar)
	require.NotNil(t, resp)

	assert.Empty(t, resp.Error)
	assert.Equal(t, llmCallsBefore, f.llm.RunCalls)
	require.Equal(t, 1, f.exec.QueryCalls)
	assert.Equal(t, "SELECT StockItemName FROM Warehouse.StockItems", f.exec.QueriesRun[0])
	f.noPending(t, "t1")
}

func TestProcessQueryDynamicHoldRevised(t *testing.T) {
	f := newCoordFixture()
	f.templateHit(0.3)
	f.searcher.SearchTablesFunc = func(context.Context, string) ([]models.TableMetadata, error) {
		return stockItemsMetadata(), nil
	}
	f.llm.RunFunc = func(context.Context, string, string, string) (string, error) {
		return `{"sql":"SELECT StockItemName FROM Warehouse.StockItems","reasoning":"All stock item names.","confidence":0.5,"tables_used":["Warehouse.StockItems"]}`, nil
	}

	_, _ = f.process(t, &models.QueryRequest{Question: "something vague", ThreadID: "t1"})
	pending := f.pending(t, "t1")

	// A non-affirmative answer is a revision: synthesis runs again, and the
	// refinement turn skips the confidence hold even at the same confidence.
	resp, clar := f.process(t, &models.QueryRequest{Question: "just the expensive ones", ThreadID: "t1", Resume: pending})
	require.Nil(t, clar)
	require.NotNil(t, resp)

	assert.Empty(t, resp.Error)
	assert.False(t, resp.NeedsConfirmation)
	assert.Equal(t, 1, f.exec.QueryCalls)
	assert.Equal(t, 2, f.llm.RunCalls)
}

func TestProcessQueryDynamicRetriesAllowlistMissOnce(t *testing.T) {
	f := newCoordFixture()
	f.templateHit(0.3)
	f.searcher.SearchTablesFunc = func(context.Context, string) ([]models.TableMetadata, error) {
		return stockItemsMetadata(), nil
	}

	call := 0
	f.llm.RunFunc = func(_ context.Context, prompt, _, _ string) (string, error) {
		call++
		if call == 1 {
			return `{"sql":"SELECT * FROM Secret.Stuff","confidence":0.9}`, nil
		}
		return `{"sql":"SELECT StockItemName FROM Warehouse.StockItems","confidence":0.9,"tables_used":["Warehouse.StockItems"]}`, nil
	}

	resp, clar := f.process(t, &models.QueryRequest{Question: "show me the stock", ThreadID: "t1"})
	require.Nil(t, clar)
	require.NotNil(t, resp)

	assert.Empty(t, resp.Error)
	assert.Equal(t, 2, f.llm.RunCalls)
	assert.Equal(t, 1, f.exec.QueryCalls)
	// The retry prompt carries the rejection reason.
	assert.Contains(t, f.llm.RunPrompts[1], "previous attempt was rejected")
}

func TestProcessQueryDynamicUnsafeNoRetry(t *testing.T) {
	f := newCoordFixture()
	f.templateHit(0.3)
	f.searcher.SearchTablesFunc = func(context.Context, string) ([]models.TableMetadata, error) {
		return stockItemsMetadata(), nil
	}
	f.llm.RunFunc = func(context.Context, string, string, string) (string, error) {
		return `{"sql":"UPDATE Warehouse.StockItems SET Price = 1","confidence":0.9,"tables_used":["Warehouse.StockItems"]}`, nil
	}

	resp, clar := f.process(t, &models.QueryRequest{Question: "change the warehouse", ThreadID: "t1"})
	require.Nil(t, clar)
	require.NotNil(t, resp)

	// A statement-shape rejection is terminal: no second synthesis attempt,
	// nothing executed, and the user gets the unsafe-query line.
	assert.Equal(t, msgUnsafeQuery, resp.Error)
	assert.Equal(t, 1, f.llm.RunCalls)
	assert.Zero(t, f.exec.QueryCalls)
}

func TestBuildValidatedTagsRejection(t *testing.T) {
	f := newCoordFixture()
	f.llm.RunFunc = func(context.Context, string, string, string) (string, error) {
		return `{"sql":"DROP TABLE Warehouse.StockItems","confidence":0.9}`, nil
	}

	_, err := f.coord.buildValidated(context.Background(),
		&models.QueryRequest{Question: "drop it", ThreadID: "t1"},
		"drop it", stockItemsMetadata(), progress.NoopReporter{})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrQueryValidation)
	assert.Equal(t, 1, f.llm.RunCalls)
}

func TestProcessQueryDynamicDisallowedTable(t *testing.T) {
	f := newCoordFixture()
	f.templateHit(0.3)
	f.searcher.SearchTablesFunc = func(context.Context, string) ([]models.TableMetadata, error) {
		return stockItemsMetadata(), nil
	}
	f.llm.RunFunc = func(context.Context, string, string, string) (string, error) {
		return `{"sql":"SELECT * FROM Secret.Stuff","confidence":0.9}`, nil
	}

	resp, clar := f.process(t, &models.QueryRequest{Question: "show me secrets", ThreadID: "t1"})
	require.Nil(t, clar)
	require.NotNil(t, resp)

	assert.Equal(t, msgNoTables, resp.Error)
	assert.Equal(t, 2, f.llm.RunCalls)
	assert.Zero(t, f.exec.QueryCalls)
}

func TestProcessQueryNoTablesFound(t *testing.T) {
	f := newCoordFixture()
	f.templateHit(0.3)
	f.searcher.SearchTablesFunc = func(context.Context, string) ([]models.TableMetadata, error) {
		return nil, nil
	}

	resp, clar := f.process(t, &models.QueryRequest{Question: "quarterly kumquat futures", ThreadID: "t1"})
	require.Nil(t, clar)
	require.NotNil(t, resp)

	assert.Equal(t, msgNoTables, resp.Error)
	assert.Zero(t, f.llm.RunCalls)
}

func TestProcessQuerySearchFailureRoutesDynamic(t *testing.T) {
	f := newCoordFixture()
	f.searcher.SearchTemplatesFunc = func(context.Context, string) ([]search.TemplateMatch, error) {
		return nil, errors.New("index offline")
	}
	f.searcher.SearchTablesFunc = func(context.Context, string) ([]models.TableMetadata, error) {
		return stockItemsMetadata(), nil
	}
	f.llm.RunFunc = func(context.Context, string, string, string) (string, error) {
		return `{"sql":"SELECT StockItemName FROM Warehouse.StockItems","confidence":0.9,"tables_used":["Warehouse.StockItems"]}`, nil
	}

	resp, clar := f.process(t, &models.QueryRequest{Question: "stock items", ThreadID: "t1"})
	require.Nil(t, clar)
	require.NotNil(t, resp)
	assert.Empty(t, resp.Error)
	assert.Equal(t, 1, f.searcher.SearchTablesCalls)
}

func TestSearchTemplateMiss(t *testing.T) {
	f := newCoordFixture()
	f.templateHit(0.3)

	_, err := f.coord.searchTemplate(context.Background(), "stock items", progress.NoopReporter{})
	assert.ErrorIs(t, err, apperrors.ErrTemplateMatchMiss)

	f.searcher.SearchTemplatesFunc = func(context.Context, string) ([]search.TemplateMatch, error) {
		return nil, nil
	}
	_, err = f.coord.searchTemplate(context.Background(), "stock items", progress.NoopReporter{})
	assert.ErrorIs(t, err, apperrors.ErrTemplateMatchMiss)

	// An index outage is not a miss; the caller logs it before falling back.
	f.searcher.SearchTemplatesFunc = func(context.Context, string) ([]search.TemplateMatch, error) {
		return nil, errors.New("index offline")
	}
	_, err = f.coord.searchTemplate(context.Background(), "stock items", progress.NoopReporter{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, apperrors.ErrTemplateMatchMiss))
}

func TestSearchTemplateUndeclaredTokenIsMiss(t *testing.T) {
	f := newCoordFixture()
	tmpl := metricTemplate()
	tmpl.SQLText += " HAVING COUNT(*) > %{floor}%"
	f.searcher.SearchTemplatesFunc = func(context.Context, string) ([]search.TemplateMatch, error) {
		return []search.TemplateMatch{{Template: *tmpl, Score: 0.9}}, nil
	}

	_, err := f.coord.searchTemplate(context.Background(), "top stock items", progress.NoopReporter{})
	assert.ErrorIs(t, err, apperrors.ErrTemplateMatchMiss)
}

func TestProcessQueryConfidenceExactlyConfirmHigh(t *testing.T) {
	f := newCoordFixture()
	f.templateHit(0.9)

	// "quantities" resolves the metric by fuzzy match at exactly 0.85, the
	// auto-run gate. The boundary belongs to the higher tier: no confirmation.
	resp, clar := f.process(t, &models.QueryRequest{Question: "top 5 stock items by quantities", ThreadID: "t1"})
	require.Nil(t, clar)
	require.NotNil(t, resp)

	assert.Empty(t, resp.Error)
	assert.InDelta(t, 0.85, resp.QueryConfidence, 1e-9)
	assert.False(t, resp.NeedsConfirmation)
	assert.Empty(t, resp.QuerySummary)
	assert.Equal(t, 1, f.exec.QueryCalls)
}

func TestProcessQueryConfidenceExactlyConfirmLow(t *testing.T) {
	f := newCoordFixture()
	tmpl := metricTemplate()
	tmpl.Parameters[1].ConfidenceWeight = floatPtr(0.8)
	f.searcher.SearchTemplatesFunc = func(context.Context, string) ([]search.TemplateMatch, error) {
		return []search.TemplateMatch{{Template: *tmpl, Score: 0.9}}, nil
	}
	f.llm.RunFunc = func(context.Context, string, string, string) (string, error) {
		return `{"parameters":{"metric":"order_count"}}`, nil
	}

	// A model-validated metric at weight 0.8 lands at 0.75 * 0.8 = 0.60, the
	// clarify gate. The boundary confirms rather than asks.
	resp, clar := f.process(t, &models.QueryRequest{Question: "top 5 stock items by worth", ThreadID: "t1"})
	require.Nil(t, clar)
	require.NotNil(t, resp)

	assert.Empty(t, resp.Error)
	assert.True(t, resp.NeedsConfirmation)
	assert.InDelta(t, 0.60, resp.QueryConfidence, 1e-9)
	assert.Equal(t, 1, f.exec.QueryCalls)
}

func TestProcessQueryDynamicConfidenceExactlyThreshold(t *testing.T) {
	f := newCoordFixture()
	f.templateHit(0.3)
	f.searcher.SearchTablesFunc = func(context.Context, string) ([]models.TableMetadata, error) {
		return stockItemsMetadata(), nil
	}
	f.llm.RunFunc = func(context.Context, string, string, string) (string, error) {
		return `{"sql":"SELECT StockItemName FROM Warehouse.StockItems","confidence":0.7,"tables_used":["Warehouse.StockItems"]}`, nil
	}

	// Exactly at the dynamic threshold executes without the confirmation hold.
	resp, clar := f.process(t, &models.QueryRequest{Question: "stock item names", ThreadID: "t1"})
	require.Nil(t, clar)
	require.NotNil(t, resp)

	assert.Empty(t, resp.Error)
	assert.False(t, resp.NeedsConfirmation)
	assert.InDelta(t, 0.70, resp.QueryConfidence, 1e-9)
	assert.Equal(t, 1, f.exec.QueryCalls)
}

func TestProcessQueryExecutionFailure(t *testing.T) {
	f := newCoordFixture()
	f.templateHit(0.9)
	f.exec.QueryFunc = func(context.Context, string, int) (*datasource.QueryResult, error) {
		return nil, fmt.Errorf("login failed for user 'engine_reader'")
	}

	resp, clar := f.process(t, &models.QueryRequest{Question: "top 5 stock items by order count", ThreadID: "t1"})
	require.Nil(t, clar)
	require.NotNil(t, resp)

	assert.Equal(t, msgExecution, resp.Error)
	assert.Empty(t, resp.Columns)
}

func TestGateParameterTieBreak(t *testing.T) {
	template := &models.QueryTemplate{Parameters: []models.ParameterDefinition{
		{Name: "a"},
		{Name: "b", AskIfMissing: true},
	}}
	draft := &models.SQLDraft{ParameterConfidences: map[string]float64{"a": 0.5, "b": 0.5}}

	name, conf := gateParameter(template, draft)
	assert.Equal(t, "b", name)
	assert.InDelta(t, 0.5, conf, 1e-9)
}

func TestCapColumns(t *testing.T) {
	cols := []string{"a", "b", "c"}

	visible, hidden := capColumns(cols, 3)
	assert.Equal(t, cols, visible)
	assert.Nil(t, hidden)

	visible, hidden = capColumns(cols, 2)
	assert.Equal(t, []string{"a", "b"}, visible)
	assert.Equal(t, []string{"c"}, hidden)

	visible, hidden = capColumns(cols, 0)
	assert.Equal(t, cols, visible)
	assert.Nil(t, hidden)
}

func TestIsAffirmative(t *testing.T) {
	for _, s := range []string{"yes", "Yes.", "yep", "run it", "go ahead", "looks good", "yes, please", "OKAY"} {
		assert.True(t, isAffirmative(s), s)
	}
	for _, s := range []string{"no", "use quantity instead", "yesterday's orders", "not quite"} {
		assert.False(t, isAffirmative(s), s)
	}
}
