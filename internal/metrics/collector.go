// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 记忆引擎指标
	memoryOpsTotal   *prometheus.CounterVec
	memoryOpDuration *prometheus.HistogramVec

	// 嵌入指标
	embeddingRequestsTotal   *prometheus.CounterVec
	embeddingRequestDuration *prometheus.HistogramVec
	embeddingTokensUsed      *prometheus.CounterVec

	// 检索指标
	searchResultsReturned *prometheus.HistogramVec
	graphEdgesTotal       *prometheus.CounterVec

	// 清理指标
	retentionSweepsTotal   prometheus.Counter
	retentionDeletedTotal  prometheus.Counter
	retentionSweepDuration prometheus.Histogram

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 记忆引擎指标
	c.memoryOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_operations_total",
			Help:      "Total number of memory engine operations",
		},
		[]string{"operation", "memory_type", "status"},
	)

	c.memoryOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_operation_duration_seconds",
			Help:      "Memory engine operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// 嵌入指标
	c.embeddingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.embeddingRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	c.embeddingTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_tokens_used_total",
			Help:      "Total number of tokens sent for embedding",
		},
		[]string{"provider", "model"},
	)

	// 检索指标
	c.searchResultsReturned = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results_returned",
			Help:      "Number of results returned per similarity search",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"operation"},
	)

	c.graphEdgesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_edges_total",
			Help:      "Total number of knowledge graph edges recorded",
		},
		[]string{"relationship"},
	)

	// 清理指标
	c.retentionSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_sweeps_total",
			Help:      "Total number of retention sweeps executed",
		},
	)

	c.retentionDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_entries_total",
			Help:      "Total number of entries deleted by retention sweeps",
		},
	)

	c.retentionSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retention_sweep_duration_seconds",
			Help:      "Retention sweep duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🧠 记忆引擎指标记录
// =============================================================================

// RecordMemoryOperation 记录记忆引擎操作
func (c *Collector) RecordMemoryOperation(operation, memoryType, status string, duration time.Duration) {
	c.memoryOpsTotal.WithLabelValues(operation, memoryType, status).Inc()
	c.memoryOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSearchResults 记录相似度检索返回的结果数
func (c *Collector) RecordSearchResults(operation string, count int) {
	c.searchResultsReturned.WithLabelValues(operation).Observe(float64(count))
}

// RecordGraphEdge 记录知识图谱边的写入
func (c *Collector) RecordGraphEdge(relationship string) {
	c.graphEdgesTotal.WithLabelValues(relationship).Inc()
}

// =============================================================================
// 🧮 嵌入指标记录
// =============================================================================

// RecordEmbeddingRequest 记录嵌入请求
func (c *Collector) RecordEmbeddingRequest(provider, model, status string, duration time.Duration, tokens int) {
	c.embeddingRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.embeddingRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.embeddingTokensUsed.WithLabelValues(provider, model).Add(float64(tokens))
}

// =============================================================================
// 🧹 清理指标记录
// =============================================================================

// RecordRetentionSweep 记录一次保留期清理
func (c *Collector) RecordRetentionSweep(deleted int64, duration time.Duration) {
	c.retentionSweepsTotal.Inc()
	c.retentionDeletedTotal.Add(float64(deleted))
	c.retentionSweepDuration.Observe(duration.Seconds())
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}
