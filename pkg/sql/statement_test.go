package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectStatementType(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want StatementType
	}{
		{"plain select", "SELECT * FROM Sales.Orders", StatementSelect},
		{"lowercase select", "select 1", StatementSelect},
		{"leading whitespace", "   \n\tSELECT 1", StatementSelect},
		{"cte select", "WITH top_orders AS (SELECT * FROM Sales.Orders) SELECT * FROM top_orders", StatementSelect},
		{"modifying cte", "WITH removed AS (DELETE FROM Sales.Orders OUTPUT deleted.*) SELECT * FROM removed", StatementUnknown},
		{"insert", "INSERT INTO Sales.Orders VALUES (1)", StatementInsert},
		{"update", "UPDATE Sales.Orders SET x = 1", StatementUpdate},
		{"delete", "DELETE FROM Sales.Orders", StatementDelete},
		{"drop", "DROP TABLE Sales.Orders", StatementDDL},
		{"truncate", "TRUNCATE TABLE Sales.Orders", StatementDDL},
		{"empty", "", StatementUnknown},
		{"garbage", "HELLO WORLD", StatementUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectStatementType(tt.sql))
		})
	}
}

func TestNormalizeStatement(t *testing.T) {
	assert.Equal(t, "SELECT 1", NormalizeStatement("  SELECT 1;  \n"))
	assert.Equal(t, "SELECT 1", NormalizeStatement("SELECT 1"))
	assert.Equal(t, "", NormalizeStatement("   "))
}

func TestHasMultipleStatements(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want bool
	}{
		{"single statement", "SELECT * FROM Sales.Orders", false},
		{"stacked statements", "SELECT 1; DROP TABLE Sales.Orders", true},
		{"semicolon inside literal", "SELECT * FROM Sales.Orders WHERE Note = 'a;b'", false},
		{"semicolon inside doubled quotes", "SELECT * FROM t WHERE Name = 'O''Brien; Jr'", false},
		{"semicolon in double-quoted identifier", `SELECT "a;b" FROM t`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasMultipleStatements(tt.sql))
		})
	}
}

func TestContainsDataModification(t *testing.T) {
	assert.True(t, ContainsDataModification("SELECT 1; DELETE FROM t"))
	assert.True(t, ContainsDataModification("SELECT * FROM t WHERE EXISTS (UPDATE x SET y=1)"))
	assert.False(t, ContainsDataModification("SELECT * FROM Sales.Orders"))
	// Modification verbs inside string literals are data, not SQL.
	assert.False(t, ContainsDataModification("SELECT * FROM t WHERE Action = 'DELETE'"))
	// Word boundaries: column names containing verbs do not trip the scan.
	assert.False(t, ContainsDataModification("SELECT UpdatedAt FROM Sales.Orders"))
}
