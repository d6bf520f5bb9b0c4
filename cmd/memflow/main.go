// =============================================================================
// MemFlow 主入口
// =============================================================================
// 记忆引擎服务入口点，包含持久层初始化、嵌入提供者、保留策略调度
//
// 使用方法:
//
//	memflow serve                       # 启动服务
//	memflow serve --config config.yaml  # 指定配置文件
//	memflow version                     # 显示版本信息
//	memflow migrate up                  # 运行数据库迁移
//	memflow migrate down                # 回滚最后一次迁移
//	memflow migrate status              # 查看迁移状态
//
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/internal/cache"
	"github.com/BaSui01/memflow/internal/database"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/internal/migration"
	"github.com/BaSui01/memflow/internal/telemetry"
	"github.com/BaSui01/memflow/memory"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	// 加载配置
	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting MemFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// Initialize OpenTelemetry
	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	// 运行数据库迁移
	if err := applyMigrations(cfg); err != nil {
		logger.Fatal("Database migration failed", zap.Error(err))
	}

	// 打开数据库并配置连接池
	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}

	pool, err := database.NewPoolManager(db, poolConfigFrom(cfg.Database), logger)
	if err != nil {
		logger.Fatal("Failed to configure connection pool", zap.Error(err))
	}

	// 指标收集器
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
		pool.SetStatsRecorder(collector, cfg.Database.Driver)
	}

	// 嵌入提供者（可选 Redis 结果缓存）
	embedder, cacheManager, err := buildEmbedder(cfg, collector, logger)
	if err != nil {
		logger.Fatal("Failed to build embedding provider", zap.Error(err))
	}

	// 概念匹配器
	matcher, err := memory.NewVocabMatcher(cfg.Matcher)
	if err != nil {
		logger.Fatal("Failed to build concept matcher", zap.Error(err))
	}

	// 记忆引擎
	engine := memory.NewEngine(db, embedder, matcher,
		memory.WithLogger(logger),
		memory.WithMetrics(collector),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := engine.LoadAll(ctx); err != nil {
		cancel()
		logger.Fatal("Failed to load knowledge graph", zap.Error(err))
	}
	cancel()

	// 保留策略后台调度
	var scheduler *memory.RetentionScheduler
	if cfg.Retention.Enabled {
		scheduler = memory.NewRetentionScheduler(engine, cfg.Retention.Interval, cfg.Retention.MaxAgeDays, logger)
		scheduler.Start()
	}

	// 指标端点
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = startMetricsServer(cfg.Metrics.ListenAddr, pool, logger)
	}

	logger.Info("MemFlow started",
		zap.String("database", cfg.Database.Driver),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.Bool("retention", cfg.Retention.Enabled),
	)

	// 等待关闭信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if scheduler != nil {
		scheduler.Stop()
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}
	if err := engine.Close(); err != nil {
		logger.Warn("Engine close failed", zap.Error(err))
	}
	if cacheManager != nil {
		if err := cacheManager.Close(); err != nil {
			logger.Warn("Cache close failed", zap.Error(err))
		}
	}
	if err := pool.Close(); err != nil {
		logger.Warn("Database close failed", zap.Error(err))
	}
	if otelProviders != nil {
		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}

	logger.Info("MemFlow stopped")
}

// =============================================================================
// 🧩 组件装配
// =============================================================================

// applyMigrations 在服务启动前把数据库结构迁移到最新版本
func applyMigrations(cfg *config.Config) error {
	migrator, err := migration.NewMigratorFromConfig(cfg)
	if err != nil {
		return err
	}
	defer migrator.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	return migrator.Up(ctx)
}

// buildEmbedder 按配置装配嵌入提供者，缓存启用时包一层 Redis 结果缓存
func buildEmbedder(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (embedding.Provider, *cache.Manager, error) {
	var inner embedding.Provider
	switch cfg.Embedding.Provider {
	case "mock":
		inner = embedding.NewMockProvider(cfg.Embedding.Dimensions)
	case "openai":
		provider := embedding.NewHTTPProvider(cfg.Embedding, logger)
		if collector != nil {
			provider = provider.WithRecorder(collector)
		}
		inner = provider
	default:
		return nil, nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}

	if !cfg.Cache.Enabled {
		return inner, nil, nil
	}

	manager, err := cache.NewManager(cacheConfigFrom(cfg.Cache), logger)
	if err != nil {
		// 缓存是加速层而非依赖，连不上时降级为直连提供者
		logger.Warn("Embedding cache unavailable, running without cache", zap.Error(err))
		return inner, nil, nil
	}

	var recorder embedding.CacheRecorder
	if collector != nil {
		recorder = collector
	}
	return embedding.NewCachedProvider(inner, manager, recorder, logger), manager, nil
}

// startMetricsServer 启动 Prometheus 指标与健康检查端点
func startMetricsServer(addr string, pool *database.PoolManager, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Metrics server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return server
}

func poolConfigFrom(dbCfg config.DatabaseConfig) database.PoolConfig {
	poolCfg := database.DefaultPoolConfig()
	if dbCfg.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = dbCfg.MaxOpenConns
	}
	if dbCfg.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = dbCfg.MaxIdleConns
	}
	if dbCfg.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = dbCfg.ConnMaxLifetime
	}
	return poolCfg
}

func cacheConfigFrom(cacheCfg config.CacheConfig) cache.Config {
	c := cache.DefaultConfig()
	if cacheCfg.Addr != "" {
		c.Addr = cacheCfg.Addr
	}
	c.Password = cacheCfg.Password
	c.DB = cacheCfg.DB
	if cacheCfg.TTL > 0 {
		c.DefaultTTL = cacheCfg.TTL
	}
	if cacheCfg.PoolSize > 0 {
		c.PoolSize = cacheCfg.PoolSize
	}
	if cacheCfg.MinIdleConns > 0 {
		c.MinIdleConns = cacheCfg.MinIdleConns
	}
	return c
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("MemFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`MemFlow - Agent Long-Term Memory Engine

Usage:
  memflow <command> [options]

Commands:
  serve     Start the MemFlow memory engine
  migrate   Database migration commands
  version   Show version information
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate status    Show migration status
  migrate version   Show current migration version

Examples:
  memflow serve
  memflow serve --config /etc/memflow/config.yaml
  memflow migrate up
  memflow migrate status
  memflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// openDatabase 根据配置打开数据库连接
func openDatabase(dbCfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbCfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(dbCfg.DSN())
	case "postgres":
		dialector = postgres.Open(dbCfg.DSN())
	case "mysql":
		dialector = mysql.Open(dbCfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", dbCfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	logger.Info("Database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}
