package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/BaSui01/memflow/types"
)

// MockProvider 基于文本摘要生成确定性的单位向量，
// 用于测试与离线运行。相同文本总是得到相同向量.
type MockProvider struct {
	dimensions int
}

// NewMockProvider 创建确定性的模拟嵌入提供者.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &MockProvider{dimensions: dimensions}
}

func (p *MockProvider) Name() string    { return "mock" }
func (p *MockProvider) Model() string   { return "mock-deterministic" }
func (p *MockProvider) Dimensions() int { return p.dimensions }

// Embed 以 SHA-256 计数器模式展开文本摘要，归一化为单位向量.
func (p *MockProvider) Embed(_ context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, types.NewError(types.ErrInvalidInput, "embedding input is empty")
	}

	seed := sha256.Sum256([]byte(text))

	vector := make([]float64, p.dimensions)
	var block [40]byte
	copy(block[:32], seed[:])

	var norm float64
	for i := 0; i < p.dimensions; i++ {
		binary.BigEndian.PutUint64(block[32:], uint64(i))
		digest := sha256.Sum256(block[:])
		// 取摘要前 8 字节映射到 [-1, 1)
		raw := binary.BigEndian.Uint64(digest[:8])
		v := float64(int64(raw)) / math.MaxInt64
		vector[i] = v
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		vector[0] = 1
		return vector, nil
	}
	for i := range vector {
		vector[i] /= norm
	}

	return vector, nil
}

// EmbedBatch 为多个文本批量生成嵌入向量.
func (p *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
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
