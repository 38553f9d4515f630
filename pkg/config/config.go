package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for dataquill-engine.
// Values come from config.yaml with environment variable overrides; secrets
// (passwords, API keys) must only come from environment variables.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"`

	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Search   SearchConfig   `yaml:"search"`
	LLM      LLMConfig      `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Redis    RedisConfig    `yaml:"redis"`
	Threads  ThreadsConfig  `yaml:"threads"`
}

// AuthConfig holds bearer-token verification settings.
type AuthConfig struct {
	// EnableVerification controls whether bearer tokens are validated.
	// Off by default for local development.
	EnableVerification bool   `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"false"`
	JWKSURL            string `yaml:"jwks_url" env:"AUTH_JWKS_URL" env-default:""`
	Issuer             string `yaml:"issuer" env:"AUTH_ISSUER" env-default:""`
}

// DatabaseConfig holds the curated business database connection settings.
type DatabaseConfig struct {
	Server   string `yaml:"server" env:"SQL_SERVER"`
	Database string `yaml:"database" env:"SQL_DATABASE"`
	User     string `yaml:"user" env:"SQL_USER" env-default:""`
	Password string `yaml:"-" env:"SQL_PASSWORD"` // Secret - not in YAML
	Dialect  string `yaml:"dialect" env:"SQL_DIALECT" env-default:"mssql"`
	Port     int    `yaml:"port" env:"SQL_PORT" env-default:"1433"`

	// AllowedTablesStr is a comma-separated allowlist of fully qualified
	// table names this deployment may query.
	AllowedTablesStr string   `yaml:"allowed_tables" env:"ALLOWED_TABLES" env-default:""`
	AllowedTables    []string `yaml:"-"`

	ExecTimeoutSec int `yaml:"exec_timeout_sec" env:"SQL_EXEC_TIMEOUT_SEC" env-default:"30"`
}

// SearchConfig holds the template/table index endpoint settings.
type SearchConfig struct {
	Endpoint      string `yaml:"endpoint" env:"SEARCH_ENDPOINT"`
	APIKey        string `yaml:"-" env:"SEARCH_API_KEY"` // Secret - not in YAML
	TemplateIndex string `yaml:"template_index" env:"SEARCH_TEMPLATE_INDEX" env-default:"query-templates"`
	TableIndex    string `yaml:"table_index" env:"SEARCH_TABLE_INDEX" env-default:"table-metadata"`
	TimeoutSec    int    `yaml:"timeout_sec" env:"SEARCH_TIMEOUT_SEC" env-default:"5"`
}

// LLMConfig holds the chat model endpoint settings.
type LLMConfig struct {
	Endpoint       string `yaml:"endpoint" env:"LLM_ENDPOINT"`
	Deployment     string `yaml:"deployment" env:"LLM_MODEL_DEPLOYMENT_NAME"`
	APIKey         string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Provider       string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	EmbeddingModel string `yaml:"embedding_model" env:"LLM_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	TimeoutSec     int    `yaml:"timeout_sec" env:"LLM_TIMEOUT_SEC" env-default:"60"`
}

// PipelineConfig holds the confidence gates and cache tunables.
type PipelineConfig struct {
	MaxDisplayColumns          int     `yaml:"max_display_columns" env:"MAX_DISPLAY_COLUMNS" env-default:"8"`
	DynamicConfidenceThreshold float64 `yaml:"dynamic_confidence_threshold" env:"DYNAMIC_CONFIDENCE_THRESHOLD" env-default:"0.70"`
	ConfirmLow                 float64 `yaml:"confirm_low" env:"CONFIRM_LOW" env-default:"0.60"`
	ConfirmHigh                float64 `yaml:"confirm_high" env:"CONFIRM_HIGH" env-default:"0.85"`
	TemplateMatchThreshold     float64 `yaml:"template_match_threshold" env:"TEMPLATE_MATCH_THRESHOLD" env-default:"0.62"`
	AllowedValuesTTLSec        int     `yaml:"allowed_values_ttl_sec" env:"ALLOWED_VALUES_TTL_SEC" env-default:"600"`
	AllowedValuesMax           int     `yaml:"allowed_values_max" env:"ALLOWED_VALUES_MAX" env-default:"500"`
	EnableInstrumentation      bool    `yaml:"enable_instrumentation" env:"ENABLE_INSTRUMENTATION" env-default:"false"`
}

// RedisConfig holds the clarification state store settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// PendingTTLSec bounds how long pending clarification state survives;
	// roughly one conversation session.
	PendingTTLSec int `yaml:"pending_ttl_sec" env:"PENDING_CLARIFICATION_TTL_SEC" env-default:"3600"`
}

// ThreadsConfig holds the external thread store settings.
type ThreadsConfig struct {
	Endpoint   string `yaml:"endpoint" env:"THREADS_ENDPOINT" env-default:""`
	APIKey     string `yaml:"-" env:"THREADS_API_KEY"` // Secret - not in YAML
	TimeoutSec int    `yaml:"timeout_sec" env:"THREADS_TIMEOUT_SEC" env-default:"10"`
}

// Load reads configuration from config.yaml with environment overrides.
// The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.Database.AllowedTables = splitCommaList(cfg.Database.AllowedTablesStr)

	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.Database.Server == "" {
		missing = append(missing, "SQL_SERVER")
	}
	if c.Database.Database == "" {
		missing = append(missing, "SQL_DATABASE")
	}
	if c.Search.Endpoint == "" {
		missing = append(missing, "SEARCH_ENDPOINT")
	}
	if c.LLM.Endpoint == "" {
		missing = append(missing, "LLM_ENDPOINT")
	}
	if c.LLM.Deployment == "" {
		missing = append(missing, "LLM_MODEL_DEPLOYMENT_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// AllowedTableSet returns the allowlist as a set keyed by lowercased
// fully qualified name.
func (c *DatabaseConfig) AllowedTableSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.AllowedTables))
	for _, t := range c.AllowedTables {
		set[strings.ToLower(t)] = struct{}{}
	}
	return set
}

func splitCommaList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
