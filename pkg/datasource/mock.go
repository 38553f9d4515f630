package datasource

import "context"

// MockExecutor is a configurable test double for QueryExecutor.
type MockExecutor struct {
	QueryFunc        func(ctx context.Context, sqlQuery string, limit int) (*QueryResult, error)
	LoadDistinctFunc func(ctx context.Context, table, column string, limit int) ([]string, error)

	QueryCalls        int
	QueriesRun        []string
	LoadDistinctCalls int
}

// Query implements QueryExecutor.
func (m *MockExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*QueryResult, error) {
	m.QueryCalls++
	m.QueriesRun = append(m.QueriesRun, sqlQuery)
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, sqlQuery, limit)
	}
	return &QueryResult{Columns: []string{}, Rows: []map[string]any{}}, nil
}

// LoadDistinct implements QueryExecutor.
func (m *MockExecutor) LoadDistinct(ctx context.Context, table, column string, limit int) ([]string, error) {
	m.LoadDistinctCalls++
	if m.LoadDistinctFunc != nil {
		return m.LoadDistinctFunc(ctx, table, column, limit)
	}
	return nil, nil
}

// QuoteIdentifier implements QueryExecutor.
func (m *MockExecutor) QuoteIdentifier(name string) string {
	return "[" + name + "]"
}

// Close implements QueryExecutor.
func (m *MockExecutor) Close() error { return nil }

var _ QueryExecutor = (*MockExecutor)(nil)
