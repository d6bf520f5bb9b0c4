package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/internal/cache"
	"github.com/BaSui01/memflow/types"
)

// --- MockProvider ---

func TestMockProvider_Deterministic(t *testing.T) {
	p := NewMockProvider(64)
	ctx := context.Background()

	v1, err := p.Embed(ctx, "recursion basics")
	require.NoError(t, err)
	v2, err := p.Embed(ctx, "recursion basics")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 64)
}

func TestMockProvider_DistinctTexts(t *testing.T) {
	p := NewMockProvider(64)
	ctx := context.Background()

	v1, err := p.Embed(ctx, "python loops")
	require.NoError(t, err)
	v2, err := p.Embed(ctx, "javascript closures")
	require.NoError(t, err)

	assert.NotEqual(t, v1, v2)
}

func TestMockProvider_UnitNorm(t *testing.T) {
	p := NewMockProvider(32)

	v, err := p.Embed(context.Background(), "any text at all")
	require.NoError(t, err)

	var norm float64
	for _, x := range v {
		norm += x * x
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestMockProvider_EmptyInput(t *testing.T) {
	p := NewMockProvider(16)

	_, err := p.Embed(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
}

func TestMockProvider_DefaultDimensions(t *testing.T) {
	p := NewMockProvider(0)
	assert.Equal(t, 64, p.Dimensions())
	assert.Equal(t, "mock", p.Name())
}

// --- HTTPProvider ---

func newEmbedServer(t *testing.T, vector []float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Input)

		resp := map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": vector},
			},
			"model": req.Model,
			"usage": map[string]int{"prompt_tokens": 3, "total_tokens": 3},
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPProvider_Embed(t *testing.T) {
	want := []float64{0.1, 0.2, 0.3}
	srv := newEmbedServer(t, want)
	defer srv.Close()

	p := NewHTTPProvider(config.EmbeddingConfig{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		Model:      "text-embedding-3-small",
		Dimensions: 3,
		Timeout:    5 * time.Second,
	}, zap.NewNop())

	got, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHTTPProvider_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// 乱序返回，验证按 index 归位
		resp := map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float64{0.2}},
				{"index": 0, "embedding": []float64{0.1}},
			},
			"model": "m",
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewHTTPProvider(config.EmbeddingConfig{BaseURL: srv.URL, APIKey: "test-key"}, zap.NewNop())

	got, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.1}, {0.2}}, got)
}

func TestHTTPProvider_EmptyInput(t *testing.T) {
	p := NewHTTPProvider(config.EmbeddingConfig{BaseURL: "http://unused"}, zap.NewNop())

	_, err := p.Embed(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
}

func TestHTTPProvider_Defaults(t *testing.T) {
	p := NewHTTPProvider(config.EmbeddingConfig{}, nil)
	assert.Equal(t, "openai-embedding", p.Name())
	assert.Equal(t, "text-embedding-3-small", p.Model())
	assert.Equal(t, 1536, p.Dimensions())
}

func TestHTTPProvider_UpstreamError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  types.ErrorCode
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, types.ErrEmbeddingUnavailable, false},
		{"rate limited", http.StatusTooManyRequests, types.ErrEmbeddingUnavailable, true},
		{"bad request", http.StatusBadRequest, types.ErrInvalidInput, false},
		{"server error", http.StatusInternalServerError, types.ErrEmbeddingUnavailable, true},
		{"bad gateway", http.StatusBadGateway, types.ErrEmbeddingUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"upstream says no"}`))
			}))
			defer srv.Close()

			p := NewHTTPProvider(config.EmbeddingConfig{
				BaseURL: srv.URL,
				APIKey:  "test-key",
			}, zap.NewNop())

			_, err := p.Embed(context.Background(), "hello")
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.GetErrorCode(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
		})
	}
}

func TestHTTPProvider_NetworkError(t *testing.T) {
	// 端口已关闭的地址
	p := NewHTTPProvider(config.EmbeddingConfig{
		BaseURL: "http://127.0.0.1:1",
		APIKey:  "test-key",
		Timeout: time.Second,
	}, zap.NewNop())

	_, err := p.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, types.ErrEmbeddingUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestHTTPProvider_NoEmbeddingsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[],"model":"m"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(config.EmbeddingConfig{BaseURL: srv.URL, APIKey: "test-key"}, zap.NewNop())

	_, err := p.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, types.ErrEmbeddingUnavailable, types.GetErrorCode(err))
}

func TestMapHTTPError(t *testing.T) {
	err := mapHTTPError(http.StatusTooManyRequests, "slow down")
	assert.Equal(t, types.ErrEmbeddingUnavailable, err.Code)
	assert.True(t, err.Retryable)
	assert.Contains(t, err.Message, "slow down")

	err = mapHTTPError(http.StatusBadRequest, "bad input")
	assert.Equal(t, types.ErrInvalidInput, err.Code)
	assert.False(t, err.Retryable)
}

type fakeRequestRecorder struct {
	mu      sync.Mutex
	entries []recordedRequest
}

type recordedRequest struct {
	provider string
	model    string
	status   string
	duration time.Duration
	tokens   int
}

func (r *fakeRequestRecorder) RecordEmbeddingRequest(provider, model, status string, duration time.Duration, tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedRequest{provider, model, status, duration, tokens})
}

func (r *fakeRequestRecorder) recorded() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.entries...)
}

func TestHTTPProvider_RecordsSuccessfulRequest(t *testing.T) {
	srv := newEmbedServer(t, []float64{0.1, 0.2})
	defer srv.Close()

	recorder := &fakeRequestRecorder{}
	p := NewHTTPProvider(config.EmbeddingConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "text-embedding-3-small",
	}, zap.NewNop()).WithRecorder(recorder)

	_, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)

	entries := recorder.recorded()
	require.Len(t, entries, 1)
	assert.Equal(t, "openai-embedding", entries[0].provider)
	assert.Equal(t, "text-embedding-3-small", entries[0].model)
	assert.Equal(t, "success", entries[0].status)
	assert.Equal(t, 3, entries[0].tokens)
}

func TestHTTPProvider_RecordsFailedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	recorder := &fakeRequestRecorder{}
	p := NewHTTPProvider(config.EmbeddingConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
	}, zap.NewNop()).WithRecorder(recorder)

	_, err := p.Embed(context.Background(), "hello")
	require.Error(t, err)

	entries := recorder.recorded()
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].status)
	assert.Equal(t, 0, entries[0].tokens)
}

func TestHTTPProvider_RecordsBatchRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float64{0.1}},
				{"index": 1, "embedding": []float64{0.2}},
			},
			"model": "m",
			"usage": map[string]int{"prompt_tokens": 7, "total_tokens": 7},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	recorder := &fakeRequestRecorder{}
	p := NewHTTPProvider(config.EmbeddingConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
	}, zap.NewNop()).WithRecorder(recorder)

	_, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	entries := recorder.recorded()
	require.Len(t, entries, 1)
	assert.Equal(t, "success", entries[0].status)
	assert.Equal(t, 7, entries[0].tokens)
}

func TestHTTPProvider_NoRecorderIsNoop(t *testing.T) {
	srv := newEmbedServer(t, []float64{0.1})
	defer srv.Close()

	p := NewHTTPProvider(config.EmbeddingConfig{BaseURL: srv.URL, APIKey: "test-key"}, zap.NewNop())

	_, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
}

// --- CachedProvider ---

type countingProvider struct {
	inner Provider
	mu    sync.Mutex
	calls int
}

func (c *countingProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Embed(ctx, text)
}

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	c.mu.Lock()
	c.calls += len(texts)
	c.mu.Unlock()
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingProvider) Name() string    { return c.inner.Name() }
func (c *countingProvider) Model() string   { return c.inner.Model() }
func (c *countingProvider) Dimensions() int { return c.inner.Dimensions() }

func (c *countingProvider) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestCache(t *testing.T) *cache.Manager {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := cache.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0

	m, err := cache.NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return m
}

func TestCachedProvider_HitSkipsInner(t *testing.T) {
	counting := &countingProvider{inner: NewMockProvider(16)}
	cached := NewCachedProvider(counting, newTestCache(t), nil, zap.NewNop())
	ctx := context.Background()

	v1, err := cached.Embed(ctx, "same text")
	require.NoError(t, err)
	assert.Equal(t, 1, counting.callCount())

	v2, err := cached.Embed(ctx, "same text")
	require.NoError(t, err)
	assert.Equal(t, 1, counting.callCount())
	assert.Equal(t, v1, v2)
}

func TestCachedProvider_DistinctTextsMiss(t *testing.T) {
	counting := &countingProvider{inner: NewMockProvider(16)}
	cached := NewCachedProvider(counting, newTestCache(t), nil, zap.NewNop())
	ctx := context.Background()

	_, err := cached.Embed(ctx, "first")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "second")
	require.NoError(t, err)

	assert.Equal(t, 2, counting.callCount())
}

func TestCachedProvider_InnerErrorNotCached(t *testing.T) {
	counting := &countingProvider{inner: NewMockProvider(16)}
	cached := NewCachedProvider(counting, newTestCache(t), nil, zap.NewNop())
	ctx := context.Background()

	_, err := cached.Embed(ctx, "")
	require.Error(t, err)

	// 失败不会污染缓存，下一次合法输入正常工作
	_, err = cached.Embed(ctx, "valid text")
	require.NoError(t, err)
}

func TestCachedProvider_ReturnsCopy(t *testing.T) {
	cached := NewCachedProvider(NewMockProvider(8), newTestCache(t), nil, zap.NewNop())
	ctx := context.Background()

	v1, err := cached.Embed(ctx, "mutation test")
	require.NoError(t, err)

	v1[0] = 42

	v2, err := cached.Embed(ctx, "mutation test")
	require.NoError(t, err)
	assert.NotEqual(t, 42.0, v2[0])
}
