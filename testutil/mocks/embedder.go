package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/plankton/llm"
)

// MockEmbeddingProvider 是 embedding.Provider 的确定性模拟实现：
// 向量由文本内容哈希派生，相同文本恒得相同向量，且共享词越多的
// 文本余弦相似度越高。
type MockEmbeddingProvider struct {
	mu        sync.Mutex
	dims      int
	maxBatch  int
	err       error
	failTimes int // 前 N 次调用失败（配合重试测试）
	calls     int
}

// NewMockEmbeddingProvider 创建模拟嵌入提供商。
func NewMockEmbeddingProvider(dims, maxBatch int) *MockEmbeddingProvider {
	if dims <= 0 {
		dims = 16
	}
	if maxBatch <= 0 {
		maxBatch = 100
	}
	return &MockEmbeddingProvider{dims: dims, maxBatch: maxBatch}
}

// WithError 让所有调用返回 err。
func (m *MockEmbeddingProvider) WithError(err error) *MockEmbeddingProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// FailTimes 让前 n 次调用返回可重试错误，之后恢复正常。
func (m *MockEmbeddingProvider) FailTimes(n int) *MockEmbeddingProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTimes = n
	return m
}

// Calls 返回 Embed 被调用的次数。
func (m *MockEmbeddingProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockEmbeddingProvider) Name() string      { return "mock" }
func (m *MockEmbeddingProvider) Model() string     { return "mock-embed" }
func (m *MockEmbeddingProvider) Dimensions() int   { return m.dims }
func (m *MockEmbeddingProvider) MaxBatchSize() int { return m.maxBatch }

// Embed 返回基于词袋哈希的确定性向量。
func (m *MockEmbeddingProvider) Embed(_ context.Context, texts []string) ([][]float64, error) {
	m.mu.Lock()
	m.calls++
	if m.err != nil {
		defer m.mu.Unlock()
		return nil, m.err
	}
	if m.failTimes > 0 {
		m.failTimes--
		defer m.mu.Unlock()
		return nil, llm.NewError(llm.ErrUpstreamError, "transient failure").WithRetryable(true)
	}
	m.mu.Unlock()

	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vectors[i] = EmbedText(text, m.dims)
	}
	return vectors, nil
}

// EmbedText 词袋哈希嵌入：每个词按 FNV 哈希落到一个维度上累加。
// 共享词汇的文本向量相近，便于在测试中构造可预期的相似度。
func EmbedText(text string, dims int) []float64 {
	vec := make([]float64, dims)
	word := make([]rune, 0, 16)
	flush := func() {
		if len(word) == 0 {
			return
		}
		var h uint64 = 14695981039346656037
		for _, r := range word {
			h ^= uint64(r)
			h *= 1099511628211
		}
		vec[h%uint64(dims)]++
		word = word[:0]
	}
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '.' || r == ',' {
			flush()
			continue
		}
		word = append(word, r)
	}
	flush()
	return vec
}
