// Package datasource provides bounded, read-only SQL execution against the
// curated business database.
package datasource

import (
	"context"
	"fmt"

	"github.com/dataquill-ai/dataquill-engine/pkg/apperrors"
)

// MaxQueryLimit is the hard cap on rows returned by Query. Protects against
// unbounded queries.
const MaxQueryLimit = 1000

// execError tags a driver failure with the execution sentinel so callers can
// errors.Is without inspecting driver error strings.
func execError(err error) error {
	return fmt.Errorf("%w: %w", apperrors.ErrSQLExecution, err)
}

// QueryExecutor executes validated SELECT statements. Each implementation
// owns its connection pool and must be closed when done.
type QueryExecutor interface {
	// Query runs a SELECT and returns bounded results. The query is always
	// wrapped with a dialect-specific limit:
	//   - SQL Server: SELECT TOP (n) * FROM (query) AS _q
	//   - PostgreSQL: SELECT * FROM (query) AS _q LIMIT n
	// limit <= 0 or > MaxQueryLimit uses MaxQueryLimit.
	Query(ctx context.Context, sqlQuery string, limit int) (*QueryResult, error)

	// LoadDistinct returns up to limit distinct non-null values from a
	// column, sorted, rendered as strings. Used by the allowed-values cache.
	LoadDistinct(ctx context.Context, table, column string, limit int) ([]string, error)

	// QuoteIdentifier safely quotes a table/column identifier for this
	// dialect.
	QuoteIdentifier(name string) string

	// Close releases the connection pool.
	Close() error
}

// QueryResult holds the results of a query execution. Rows carry every
// column; the column cap applied later is presentation-only.
type QueryResult struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}
