package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dataquill-ai/dataquill-engine/pkg/assistant"
	"github.com/dataquill-ai/dataquill-engine/pkg/auth"
	"github.com/dataquill-ai/dataquill-engine/pkg/cache"
	"github.com/dataquill-ai/dataquill-engine/pkg/config"
	"github.com/dataquill-ai/dataquill-engine/pkg/datasource"
	"github.com/dataquill-ai/dataquill-engine/pkg/handlers"
	"github.com/dataquill-ai/dataquill-engine/pkg/llm"
	"github.com/dataquill-ai/dataquill-engine/pkg/pipeline"
	"github.com/dataquill-ai/dataquill-engine/pkg/search"
	"github.com/dataquill-ai/dataquill-engine/pkg/statestore"
	"github.com/dataquill-ai/dataquill-engine/pkg/threads"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("sql_dialect", cfg.Database.Dialect),
		zap.Int("allowed_tables", len(cfg.Database.AllowedTables)))

	llmClient, err := llm.NewClient(cfg.LLM.Provider, &llm.Config{
		Endpoint:       cfg.LLM.Endpoint,
		Model:          cfg.LLM.Deployment,
		APIKey:         cfg.LLM.APIKey,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create llm client", zap.Error(err))
	}

	executor, err := datasource.NewExecutor(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to create sql executor", zap.Error(err))
	}
	defer func() { _ = executor.Close() }()

	searcher, err := search.NewClient(&search.ClientConfig{
		Endpoint:      cfg.Search.Endpoint,
		APIKey:        cfg.Search.APIKey,
		TemplateIndex: cfg.Search.TemplateIndex,
		TableIndex:    cfg.Search.TableIndex,
		Timeout:       time.Duration(cfg.Search.TimeoutSec) * time.Second,
	}, llmClient, logger)
	if err != nil {
		logger.Fatal("failed to create search client", zap.Error(err))
	}

	store, err := statestore.NewRedisStore(context.Background(), &statestore.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      time.Duration(cfg.Redis.PendingTTLSec) * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	allowedValues := cache.NewAllowedValues(executor,
		time.Duration(cfg.Pipeline.AllowedValuesTTLSec)*time.Second,
		cfg.Pipeline.AllowedValuesMax,
		logger)

	coordinator := pipeline.NewCoordinator(pipeline.Dependencies{
		Searcher:      searcher,
		LLM:           llmClient,
		Values:        allowedValues,
		Executor:      executor,
		Store:         store,
		AllowedTables: cfg.Database.AllowedTableSet(),
		Pipeline:      &cfg.Pipeline,
		ExecTimeout:   time.Duration(cfg.Database.ExecTimeoutSec) * time.Second,
		Logger:        logger,
	})

	asst := assistant.New(llmClient, logger)
	threadClient := threads.NewClient(&cfg.Threads, logger)

	validator, err := auth.NewValidator(&cfg.Auth)
	if err != nil {
		logger.Fatal("failed to create token validator", zap.Error(err))
	}
	authMiddleware := auth.NewMiddleware(validator, cfg.Auth.EnableVerification, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewChatHandler(coordinator, asst, store, threadClient, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewThreadsHandler(threadClient, logger).RegisterRoutes(mux, authMiddleware)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("starting dataquill-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
