package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/types"
)

// RequestRecorder 记录上游嵌入请求情况，由指标收集器实现.
type RequestRecorder interface {
	RecordEmbeddingRequest(provider, model, status string, duration time.Duration, tokens int)
}

// HTTPProvider 通过 OpenAI 兼容的 /v1/embeddings 端点生成嵌入.
// 内置令牌桶限流与输入截断，失败时返回带 EMBEDDING_UNAVAILABLE
// 错误码的 types.Error.
type HTTPProvider struct {
	name       string
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	maxTokens  int
	limiter    *rate.Limiter
	recorder   RequestRecorder
	logger     *zap.Logger

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
}

// NewHTTPProvider 创建 OpenAI 兼容的嵌入提供者.
func NewHTTPProvider(cfg config.EmbeddingConfig, logger *zap.Logger) *HTTPProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = 1536
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	return &HTTPProvider{
		name:       "openai-embedding",
		client:     &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      model,
		dimensions: dims,
		maxTokens:  cfg.MaxInputTokens,
		limiter:    limiter,
		logger:     logger.With(zap.String("component", "embedding")),
	}
}

// WithRecorder 挂接请求指标记录器. recorder 为 nil 时不记录.
func (p *HTTPProvider) WithRecorder(recorder RequestRecorder) *HTTPProvider {
	p.recorder = recorder
	return p
}

func (p *HTTPProvider) Name() string    { return p.name }
func (p *HTTPProvider) Model() string   { return p.model }
func (p *HTTPProvider) Dimensions() int { return p.dimensions }

type embedRequest struct {
	Input      any    `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed 为给定文本生成嵌入向量.
func (p *HTTPProvider) Embed(ctx context.Context, text string) (vector []float64, err error) {
	if text == "" {
		return nil, types.NewError(types.ErrInvalidInput, "embedding input is empty")
	}

	input := p.truncate(text)

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, types.NewError(types.ErrEmbeddingUnavailable, "rate limiter wait aborted").
				WithCause(err).WithRetryable(true)
		}
	}

	start := time.Now()
	tokens := 0
	defer func() { p.record(start, tokens, err) }()

	body := embedRequest{
		Input:      input,
		Model:      p.model,
		Dimensions: p.dimensions,
	}

	respBody, err := p.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, types.NewError(types.ErrEmbeddingUnavailable, "failed to decode embedding response").
			WithCause(err).WithRetryable(true)
	}
	tokens = resp.Usage.TotalTokens
	if len(resp.Data) == 0 {
		return nil, types.NewError(types.ErrEmbeddingUnavailable, "no embeddings returned").
			WithRetryable(true)
	}

	return resp.Data[0].Embedding, nil
}

// EmbedBatch 为多个文本批量生成嵌入向量，结果与输入顺序一致.
func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) (vectors [][]float64, err error) {
	if len(texts) == 0 {
		return nil, types.NewError(types.ErrInvalidInput, "embedding batch input is empty")
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		if text == "" {
			return nil, types.NewError(types.ErrInvalidInput, "embedding input is empty")
		}
		inputs[i] = p.truncate(text)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, types.NewError(types.ErrEmbeddingUnavailable, "rate limiter wait aborted").
				WithCause(err).WithRetryable(true)
		}
	}

	start := time.Now()
	tokens := 0
	defer func() { p.record(start, tokens, err) }()

	body := embedRequest{
		Input:      inputs,
		Model:      p.model,
		Dimensions: p.dimensions,
	}

	respBody, err := p.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, types.NewError(types.ErrEmbeddingUnavailable, "failed to decode embedding response").
			WithCause(err).WithRetryable(true)
	}
	tokens = resp.Usage.TotalTokens
	if len(resp.Data) != len(texts) {
		return nil, types.NewError(types.ErrEmbeddingUnavailable,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data))).
			WithRetryable(true)
	}

	vectors = make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, types.NewError(types.ErrEmbeddingUnavailable,
				fmt.Sprintf("embedding index %d out of range", d.Index)).
				WithRetryable(true)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// record 上报一次上游请求的状态、耗时与消耗的 token 数.
func (p *HTTPProvider) record(start time.Time, tokens int, err error) {
	if p.recorder == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	p.recorder.RecordEmbeddingRequest(p.name, p.model, status, time.Since(start), tokens)
}

// doRequest 执行 HTTP 请求, 并进行常见错误处理.
func (p *HTTPProvider) doRequest(ctx context.Context, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "failed to marshal embedding request").
			WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "failed to create embedding request").
			WithCause(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrEmbeddingUnavailable, "embedding request failed").
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrEmbeddingUnavailable, "failed to read embedding response").
			WithCause(err).WithRetryable(true)
	}

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// mapHTTPError 将 HTTP 状态映射为 types.Error.
func mapHTTPError(status int, msg string) *types.Error {
	retryable := status >= 500 || status == http.StatusTooManyRequests

	if status == http.StatusBadRequest {
		return types.NewError(types.ErrInvalidInput,
			fmt.Sprintf("embedding endpoint rejected request: %s", msg))
	}

	return types.NewError(types.ErrEmbeddingUnavailable,
		fmt.Sprintf("embedding endpoint returned %d: %s", status, msg)).
		WithRetryable(retryable)
}

// truncate 将超过 maxTokens 的输入截断到上限.
// tiktoken 编码数据首次使用时才加载，加载失败则跳过截断并告警.
func (p *HTTPProvider) truncate(text string) string {
	if p.maxTokens <= 0 {
		return text
	}

	p.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			p.encErr = err
			return
		}
		p.enc = enc
	})
	if p.encErr != nil {
		p.logger.Warn("tiktoken encoding unavailable, skipping truncation", zap.Error(p.encErr))
		return text
	}

	tokens := p.enc.Encode(text, nil, nil)
	if len(tokens) <= p.maxTokens {
		return text
	}

	truncated := p.enc.Decode(tokens[:p.maxTokens])
	p.logger.Debug("embedding input truncated",
		zap.Int("original_tokens", len(tokens)),
		zap.Int("max_tokens", p.maxTokens),
	)
	return truncated
}
