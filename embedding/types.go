// Package embedding 提供统一的嵌入提供者接口和实现.
package embedding

import "context"

// Provider 定义统一的嵌入提供者接口.
type Provider interface {
	// Embed 为给定文本生成嵌入向量.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch 为多个文本批量生成嵌入向量，结果与输入顺序一致.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Name 返回提供者名称.
	Name() string

	// Model 返回使用的模型名称.
	Model() string

	// Dimensions 返回嵌入维度.
	Dimensions() int
}
