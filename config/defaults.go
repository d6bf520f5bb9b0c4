// =============================================================================
// 📦 MemFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Database:  DefaultDatabaseConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Cache:     DefaultCacheConfig(),
		Matcher:   DefaultMatcherConfig(),
		Retention: DefaultRetentionConfig(),
		Metrics:   DefaultMetricsConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Path:            "memflow.db",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultEmbeddingConfig 返回默认嵌入配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:       "openai",
		BaseURL:        "https://api.openai.com",
		Model:          "text-embedding-3-small",
		Dimensions:     1536,
		Timeout:        30 * time.Second,
		RateLimitRPS:   10,
		MaxInputTokens: 8192,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		DB:           0,
		TTL:          24 * time.Hour,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultMatcherConfig 返回默认匹配器配置。
// 词汇表覆盖编程教学领域的基础概念，可按领域替换。
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		Vocabulary: []string{
			"python", "javascript", "recursion", "loops", "functions", "variables",
			"classes", "objects", "arrays", "strings", "algorithms", "data structures",
		},
		Patterns: []PatternRule{
			{Regex: `day\s*(\d+)`, Label: "day_$1"},
		},
	}
}

// DefaultRetentionConfig 返回默认保留策略配置
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Enabled:    true,
		Interval:   24 * time.Hour,
		MaxAgeDays: 30,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:    false,
		ListenAddr: ":9091",
		Namespace:  "memflow",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "memflow",
		SampleRate:   1.0,
	}
}
