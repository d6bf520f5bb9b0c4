// Package memflow provides a top-level convenience entry point for opening
// a memory engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/memflow"
//
//	engine, err := memflow.Open(ctx, memflow.WithSQLite("memories.db"))
//	engine, err := memflow.Open(ctx, memflow.WithOpenAIEmbedder(apiKey))
//
// Open wires a SQLite store, a deterministic mock embedder and the default
// concept matcher unless options say otherwise, migrates the schema and
// rebuilds the knowledge graph mirror. For full control over drivers,
// migrations and metrics, assemble [memory.NewEngine] directly the way
// cmd/memflow does.
package memflow

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/memory"
)

// 默认的快速启动参数
const (
	defaultSQLitePath    = "memflow.db"
	defaultMockDimension = 64
)

type openOptions struct {
	db         *gorm.DB
	sqlitePath string
	embedder   embedding.Provider
	openaiKey  string
	matcherCfg *config.MatcherConfig
	logger     *zap.Logger
}

// Option configures the engine created by [Open].
type Option func(*openOptions)

// WithSQLite stores memories in the SQLite database at path.
func WithSQLite(path string) Option {
	return func(o *openOptions) { o.sqlitePath = path }
}

// WithDatabase uses a pre-built gorm connection instead of opening SQLite.
func WithDatabase(db *gorm.DB) Option {
	return func(o *openOptions) { o.db = db }
}

// WithEmbedder sets a pre-built embedding provider.
func WithEmbedder(p embedding.Provider) Option {
	return func(o *openOptions) { o.embedder = p }
}

// WithOpenAIEmbedder creates an OpenAI embedding provider with the given API
// key. The provider is built after all options apply, so it picks up a logger
// given via [WithLogger] regardless of option order. [WithEmbedder] takes
// precedence when both are set.
func WithOpenAIEmbedder(apiKey string) Option {
	return func(o *openOptions) { o.openaiKey = apiKey }
}

// WithMatcherConfig overrides the default concept matcher vocabulary and patterns.
func WithMatcherConfig(cfg config.MatcherConfig) Option {
	return func(o *openOptions) { o.matcherCfg = &cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *openOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Open creates a ready-to-use [memory.Engine]: schema migrated via
// [memory.AutoMigrate] and knowledge graph mirror loaded.
func Open(ctx context.Context, opts ...Option) (*memory.Engine, error) {
	o := &openOptions{
		sqlitePath: defaultSQLitePath,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	db := o.db
	if db == nil {
		var err error
		db, err = gorm.Open(sqlite.Open(o.sqlitePath), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
	}

	if err := memory.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	embedder := resolveEmbedder(o)

	matcherCfg := config.DefaultMatcherConfig()
	if o.matcherCfg != nil {
		matcherCfg = *o.matcherCfg
	}
	matcher, err := memory.NewVocabMatcher(matcherCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build concept matcher: %w", err)
	}

	engine := memory.NewEngine(db, embedder, matcher, memory.WithLogger(o.logger))
	if err := engine.LoadAll(ctx); err != nil {
		return nil, err
	}
	return engine, nil
}

// resolveEmbedder 在所有选项生效之后装配嵌入提供者，
// 保证 OpenAI 提供者拿到最终的 logger.
func resolveEmbedder(o *openOptions) embedding.Provider {
	if o.embedder != nil {
		return o.embedder
	}
	if o.openaiKey != "" {
		cfg := config.DefaultEmbeddingConfig()
		cfg.Provider = "openai"
		cfg.APIKey = o.openaiKey
		return embedding.NewHTTPProvider(cfg, o.logger)
	}
	return embedding.NewMockProvider(defaultMockDimension)
}
