package datasource

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dataquill-ai/dataquill-engine/pkg/apperrors"
)

func TestExecErrorTaxonomy(t *testing.T) {
	cause := errors.New("login failed for user 'engine_reader'")
	err := execError(cause)

	assert.ErrorIs(t, err, apperrors.ErrSQLExecution)
	assert.ErrorIs(t, err, cause)
}

func TestMSSQLQuoteIdentifier(t *testing.T) {
	e := &MSSQLExecutor{}

	assert.Equal(t, "[StockItemName]", e.QuoteIdentifier("StockItemName"))
	assert.Equal(t, "[odd]]name]", e.QuoteIdentifier("odd]name"))
	assert.Equal(t, "[Warehouse].[StockItems]", e.quoteQualified("Warehouse.StockItems"))
}

func TestPostgresQuoteIdentifier(t *testing.T) {
	e := &PostgresExecutor{}

	assert.Equal(t, `"stock_item_name"`, e.QuoteIdentifier("stock_item_name"))
	assert.Equal(t, `"odd""name"`, e.QuoteIdentifier(`odd"name`))
	assert.Equal(t, `"warehouse"."stock_items"`, e.quoteQualified("warehouse.stock_items"))
}

func TestIsTextType(t *testing.T) {
	assert.True(t, isTextType("NVARCHAR"))
	assert.True(t, isTextType("varchar"))
	assert.True(t, isTextType("UNIQUEIDENTIFIER"))
	assert.False(t, isTextType("INT"))
	assert.False(t, isTextType("VARBINARY"))
}
