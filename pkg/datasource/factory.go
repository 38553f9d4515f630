package datasource

import (
	"fmt"

	"github.com/dataquill-ai/dataquill-engine/pkg/config"
)

// NewExecutor builds the executor for the configured dialect.
func NewExecutor(cfg *config.DatabaseConfig) (QueryExecutor, error) {
	switch cfg.Dialect {
	case "mssql", "":
		return NewMSSQLExecutor(&MSSQLConfig{
			Server:   cfg.Server,
			Port:     cfg.Port,
			Database: cfg.Database,
			User:     cfg.User,
			Password: cfg.Password,
		})
	case "postgres":
		return NewPostgresExecutor(&PostgresConfig{
			Host:     cfg.Server,
			Port:     cfg.Port,
			Database: cfg.Database,
			User:     cfg.User,
			Password: cfg.Password,
		})
	default:
		return nil, fmt.Errorf("unknown sql dialect %q", cfg.Dialect)
	}
}
