package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
)

// OpenAIProvider 调用 OpenAI 兼容的 /embeddings 端点。
type OpenAIProvider struct {
	*baseProvider
}

// NewOpenAIProvider 创建 OpenAI 嵌入提供商。
func NewOpenAIProvider(cfg BaseConfig) *OpenAIProvider {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1536
	}
	return &OpenAIProvider{baseProvider: newBaseProvider(cfg)}
}

type openaiEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed 嵌入一批文本，按输入顺序返回向量。
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > p.maxBatch {
		return nil, fmt.Errorf("batch of %d exceeds provider max %d", len(texts), p.maxBatch)
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	body, err := p.doRequest(ctx, http.MethodPost, "/embeddings", &openaiEmbeddingRequest{
		Model: p.model,
		Input: texts,
	}, headers)
	if err != nil {
		return nil, err
	}

	var resp openaiEmbeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// 上游按 index 标注顺序，显式排序后再取向量
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	vectors := make([][]float64, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}
