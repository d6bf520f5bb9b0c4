package embedding

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/memflow/internal/cache"
)

// CacheRecorder 记录缓存命中情况，由指标收集器实现.
type CacheRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// CachedProvider 用 Redis 缓存包装内层提供者.
// 相同文本的并发请求通过 singleflight 合并为一次上游调用.
type CachedProvider struct {
	inner    Provider
	cache    *cache.Manager
	group    singleflight.Group
	recorder CacheRecorder
	logger   *zap.Logger
}

// NewCachedProvider 创建带缓存的嵌入提供者.
// recorder 可以为 nil，此时不记录命中指标.
func NewCachedProvider(inner Provider, c *cache.Manager, recorder CacheRecorder, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{
		inner:    inner,
		cache:    c,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "embedding_cache")),
	}
}

func (p *CachedProvider) Name() string    { return p.inner.Name() }
func (p *CachedProvider) Model() string   { return p.inner.Model() }
func (p *CachedProvider) Dimensions() int { return p.inner.Dimensions() }

// Embed 先查缓存，未命中时合并并发请求后调用内层提供者.
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	key := cache.VectorKey(p.inner.Name(), p.inner.Model(), text)

	if vector, err := p.cache.GetVector(ctx, key); err == nil {
		p.recordHit()
		return vector, nil
	} else if !cache.IsCacheMiss(err) {
		// 缓存故障不阻断嵌入，降级为直连上游
		p.logger.Warn("embedding cache lookup failed", zap.Error(err))
	}
	p.recordMiss()

	result, err, _ := p.group.Do(key, func() (any, error) {
		vector, err := p.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if err := p.cache.SetVector(ctx, key, vector, 0); err != nil {
			p.logger.Warn("embedding cache store failed", zap.Error(err))
		}
		return vector, nil
	})
	if err != nil {
		return nil, err
	}

	// singleflight 的结果在并发调用间共享，返回副本防止外部修改
	shared := result.([]float64)
	vector := make([]float64, len(shared))
	copy(vector, shared)
	return vector, nil
}

// EmbedBatch 逐条走缓存路径，保持每条文本独立的命中语义.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		v, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (p *CachedProvider) recordHit() {
	if p.recorder != nil {
		p.recorder.RecordCacheHit("embedding")
	}
}

func (p *CachedProvider) recordMiss() {
	if p.recorder != nil {
		p.recorder.RecordCacheMiss("embedding")
	}
}
