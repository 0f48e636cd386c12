// Package embedding 提供嵌入提供商抽象、OpenAI 兼容实现与带缓存的
// 批量嵌入器。向量按 float64 传递，顺序与输入一一对应。
package embedding

import "context"

// Provider 是嵌入提供商接口。实现必须并发安全，并保证同一
// provider/model 下相同文本得到相同向量（确定性，缓存的前提）。
type Provider interface {
	Name() string
	Model() string
	// Embed 返回与 texts 等长、顺序一致的向量切片。
	// len(texts) 不得超过 MaxBatchSize。
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Dimensions() int
	MaxBatchSize() int
}
