package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dataquill-ai/dataquill-engine/pkg/logging"
)

// PostgresExecutor runs queries against PostgreSQL. Deployments whose curated
// database lives in Postgres select this dialect in configuration.
type PostgresExecutor struct {
	db *sql.DB
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// NewPostgresExecutor opens a PostgreSQL connection pool via the pgx stdlib
// driver.
func NewPostgresExecutor(cfg *PostgresConfig) (*PostgresExecutor, error) {
	if cfg.Host == "" || cfg.Database == "" {
		return nil, fmt.Errorf("host and database are required")
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, port, cfg.User, cfg.Password, cfg.Database,
	)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection to %s: %w", logging.SanitizeConnectionString(connStr), err)
	}

	return &PostgresExecutor{db: db}, nil
}

// Query implements QueryExecutor.
func (e *PostgresExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*QueryResult, error) {
	effectiveLimit := limit
	if effectiveLimit <= 0 || effectiveLimit > MaxQueryLimit {
		effectiveLimit = MaxQueryLimit
	}
	wrapped := fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", sqlQuery, effectiveLimit)

	rows, err := e.db.QueryContext(ctx, wrapped)
	if err != nil {
		return nil, execError(err)
	}
	defer rows.Close()

	return collectRows(rows)
}

// LoadDistinct implements QueryExecutor.
func (e *PostgresExecutor) LoadDistinct(ctx context.Context, table, column string, limit int) ([]string, error) {
	query := fmt.Sprintf(
		"SELECT DISTINCT %s::text FROM %s WHERE %s IS NOT NULL ORDER BY 1 LIMIT %d",
		e.QuoteIdentifier(column),
		e.quoteQualified(table),
		e.QuoteIdentifier(column),
		limit,
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

// QuoteIdentifier uses PostgreSQL double-quote syntax.
func (e *PostgresExecutor) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (e *PostgresExecutor) quoteQualified(table string) string {
	parts := strings.Split(table, ".")
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = e.QuoteIdentifier(p)
	}
	return strings.Join(quoted, ".")
}

// Close implements QueryExecutor.
func (e *PostgresExecutor) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

var _ QueryExecutor = (*PostgresExecutor)(nil)
