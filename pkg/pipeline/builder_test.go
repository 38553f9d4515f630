package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dataquill-ai/dataquill-engine/pkg/llm"
	"github.com/dataquill-ai/dataquill-engine/pkg/models"
	"github.com/dataquill-ai/dataquill-engine/pkg/progress"
)

func stockItemsMetadata() []models.TableMetadata {
	return []models.TableMetadata{{
		Schema:      "Warehouse",
		Name:        "StockItems",
		Description: "Items held in stock",
		Columns: []models.ColumnMetadata{
			{Name: "StockItemID", DataType: "int", IsPrimary: true},
			{Name: "StockItemName", DataType: "nvarchar"},
			{Name: "SupplierID", DataType: "int", References: "Purchasing.Suppliers.SupplierID"},
			{Name: "QuantityPerOuter", DataType: "int", IsNullable: true},
		},
	}}
}

func TestBuilderBuild(t *testing.T) {
	mock := llm.NewMockClient()
	mock.RunFunc = func(context.Context, string, string, string) (string, error) {
		return `{"sql":"SELECT TOP 10 StockItemName FROM Warehouse.StockItems","reasoning":"The ten stock items by name.","confidence":0.9,"tables_used":["Warehouse.StockItems"]}`, nil
	}
	b := NewBuilder(mock, 8, zap.NewNop())

	draft, err := b.Build(context.Background(), "show stock items", "t1", stockItemsMetadata(), nil, progress.NoopReporter{})
	require.NoError(t, err)

	assert.Equal(t, "SELECT TOP 10 StockItemName FROM Warehouse.StockItems", draft.SQLText)
	assert.Equal(t, []string{"Warehouse.StockItems"}, draft.Tables)
	assert.Equal(t, models.QuerySourceDynamic, draft.QuerySource)
	assert.InDelta(t, 0.9, draft.Confidence, 1e-9)
	assert.Equal(t, "The ten stock items by name.", draft.Reasoning)
	assert.True(t, draft.ParamsValidated)
	assert.False(t, draft.QueryValidated)
}

func TestBuilderConfidenceDefaults(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     float64
	}{
		{"omitted", `{"sql":"SELECT 1"}`, defaultBuilderConfidence},
		{"zero", `{"sql":"SELECT 1","confidence":0}`, defaultBuilderConfidence},
		{"above one", `{"sql":"SELECT 1","confidence":1.5}`, defaultBuilderConfidence},
		{"valid", `{"sql":"SELECT 1","confidence":0.42}`, 0.42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := llm.NewMockClient()
			mock.RunFunc = func(context.Context, string, string, string) (string, error) {
				return tt.response, nil
			}
			b := NewBuilder(mock, 8, zap.NewNop())

			draft, err := b.Build(context.Background(), "q", "t1", stockItemsMetadata(), nil, progress.NoopReporter{})
			require.NoError(t, err)
			assert.InDelta(t, tt.want, draft.Confidence, 1e-9)
		})
	}
}

func TestBuilderEmptySQLIsError(t *testing.T) {
	mock := llm.NewMockClient()
	mock.RunFunc = func(context.Context, string, string, string) (string, error) {
		return `{"sql":"","reasoning":"could not decide"}`, nil
	}
	b := NewBuilder(mock, 8, zap.NewNop())

	_, err := b.Build(context.Background(), "q", "t1", stockItemsMetadata(), nil, progress.NoopReporter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty sql")
}

func TestBuilderLLMErrorPropagates(t *testing.T) {
	mock := llm.NewMockClient()
	mock.RunFunc = func(context.Context, string, string, string) (string, error) {
		return "", errors.New("timeout")
	}
	b := NewBuilder(mock, 8, zap.NewNop())

	_, err := b.Build(context.Background(), "q", "t1", stockItemsMetadata(), nil, progress.NoopReporter{})
	require.Error(t, err)
}

func TestBuilderFeedsViolationsBack(t *testing.T) {
	mock := llm.NewMockClient()
	mock.RunFunc = func(context.Context, string, string, string) (string, error) {
		return `{"sql":"SELECT 1","confidence":0.8}`, nil
	}
	b := NewBuilder(mock, 8, zap.NewNop())

	violations := []models.Violation{{
		Kind:   models.ViolationDisallowedTable,
		Detail: "Secret.Stuff",
	}}
	_, err := b.Build(context.Background(), "q", "t1", stockItemsMetadata(), violations, progress.NoopReporter{})
	require.NoError(t, err)

	require.Len(t, mock.RunPrompts, 1)
	assert.Contains(t, mock.RunPrompts[0], "Secret.Stuff")
}

func TestBuilderPromptCarriesSchema(t *testing.T) {
	mock := llm.NewMockClient()
	mock.RunFunc = func(context.Context, string, string, string) (string, error) {
		return `{"sql":"SELECT 1","confidence":0.8}`, nil
	}
	b := NewBuilder(mock, 8, zap.NewNop())

	_, err := b.Build(context.Background(), "how many stock items", "t1", stockItemsMetadata(), nil, progress.NoopReporter{})
	require.NoError(t, err)

	prompt := mock.RunPrompts[0]
	assert.Contains(t, prompt, "Warehouse.StockItems")
	assert.Contains(t, prompt, "StockItemID")
	assert.Contains(t, prompt, "Purchasing.Suppliers.SupplierID")
	assert.Contains(t, prompt, "how many stock items")
}
