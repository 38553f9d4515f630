package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/dataquill-ai/dataquill-engine/pkg/logging"
)

// MSSQLExecutor runs queries against SQL Server.
type MSSQLExecutor struct {
	db *sql.DB
}

// MSSQLConfig holds SQL Server connection settings.
type MSSQLConfig struct {
	Server   string
	Port     int
	Database string
	User     string
	Password string
}

// NewMSSQLExecutor opens a SQL Server connection pool.
func NewMSSQLExecutor(cfg *MSSQLConfig) (*MSSQLExecutor, error) {
	if cfg.Server == "" || cfg.Database == "" {
		return nil, fmt.Errorf("server and database are required")
	}

	port := cfg.Port
	if port == 0 {
		port = 1433
	}

	u := &url.URL{
		Scheme: "sqlserver",
		Host:   fmt.Sprintf("%s:%d", cfg.Server, port),
		RawQuery: url.Values{
			"database": {cfg.Database},
		}.Encode(),
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}

	db, err := sql.Open("sqlserver", u.String())
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection to %s: %w", logging.SanitizeConnectionString(u.String()), err)
	}

	return &MSSQLExecutor{db: db}, nil
}

// Query implements QueryExecutor.
func (e *MSSQLExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*QueryResult, error) {
	effectiveLimit := limit
	if effectiveLimit <= 0 || effectiveLimit > MaxQueryLimit {
		effectiveLimit = MaxQueryLimit
	}
	wrapped := fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", effectiveLimit, sqlQuery)

	rows, err := e.db.QueryContext(ctx, wrapped)
	if err != nil {
		return nil, execError(err)
	}
	defer rows.Close()

	return collectRows(rows)
}

// LoadDistinct implements QueryExecutor. table must be a fully qualified
// "Schema.Table" name; both parts are bracket-quoted.
func (e *MSSQLExecutor) LoadDistinct(ctx context.Context, table, column string, limit int) ([]string, error) {
	query := fmt.Sprintf(
		"SELECT DISTINCT TOP (%d) %s FROM %s WHERE %s IS NOT NULL ORDER BY %s",
		limit,
		e.QuoteIdentifier(column),
		e.quoteQualified(table),
		e.QuoteIdentifier(column),
		e.QuoteIdentifier(column),
	)

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load distinct values: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct value: %w", err)
		}
		if v.Valid {
			values = append(values, v.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distinct values: %w", err)
	}
	return values, nil
}

// QuoteIdentifier uses SQL Server's square bracket syntax.
func (e *MSSQLExecutor) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (e *MSSQLExecutor) quoteQualified(table string) string {
	parts := strings.Split(table, ".")
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = e.QuoteIdentifier(p)
	}
	return strings.Join(quoted, ".")
}

// Close implements QueryExecutor.
func (e *MSSQLExecutor) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

// collectRows scans every row into field->value maps, converting []byte text
// columns to strings.
func collectRows(rows *sql.Rows) (*QueryResult, error) {
	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("get column types: %w", err)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columnNames))
		for i, col := range columnNames {
			val := values[i]
			if b, ok := val.([]byte); ok && isTextType(columnTypes[i].DatabaseTypeName()) {
				val = string(b)
			}
			rowMap[col] = val
		}
		resultRows = append(resultRows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return &QueryResult{
		Columns:  columnNames,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

func isTextType(dbType string) bool {
	switch strings.ToUpper(dbType) {
	case "CHAR", "VARCHAR", "NCHAR", "NVARCHAR", "TEXT", "NTEXT", "BPCHAR", "NAME", "UUID", "UNIQUEIDENTIFIER":
		return true
	default:
		return false
	}
}

var _ QueryExecutor = (*MSSQLExecutor)(nil)
