package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/plankton/llm"
	"github.com/BaSui01/plankton/llm/retry"
)

// VectorCache 是嵌入向量缓存的最小接口（internal/cache 提供 Redis 实现）。
// 未命中返回 (nil, false)；Set 失败只影响命中率，不影响正确性。
type VectorCache interface {
	GetVector(ctx context.Context, key string) ([]float64, bool)
	SetVector(ctx context.Context, key string, vector []float64)
}

// EmbedderConfig 配置批量嵌入器。
type EmbedderConfig struct {
	MaxConcurrency int          // 并发批次上限，默认 4
	Retry          retry.Policy // 退避策略，零值取 DefaultPolicy
}

// Embedder 在 Provider 之上做批次切分、并发、重试与缓存。
// 输出向量与输入文本逐位对应；重试耗尽报 EMBEDDING_UNAVAILABLE。
type Embedder struct {
	provider       Provider
	cache          VectorCache
	retryer        *retry.Retryer
	maxConcurrency int
	logger         *zap.Logger
}

// NewEmbedder 创建嵌入器。cache 可为 nil（不缓存），logger 可为 nil。
func NewEmbedder(provider Provider, cache VectorCache, cfg EmbedderConfig, logger *zap.Logger) *Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "embedding.embedder"))

	policy := cfg.Retry
	if policy.MaxRetries == 0 && policy.InitialDelay == 0 {
		policy = retry.DefaultPolicy()
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}

	return &Embedder{
		provider:       provider,
		cache:          cache,
		retryer:        retry.New(policy, logger),
		maxConcurrency: maxConcurrency,
		logger:         logger,
	}
}

// CacheKey 计算向量缓存键：sha256(provider|model|text)。
// 同一提供商与模型下嵌入是确定性的，键碰撞即命中。
func (e *Embedder) CacheKey(text string) string {
	sum := sha256.Sum256([]byte(e.provider.Name() + "|" + e.provider.Model() + "|" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

// Embed 嵌入任意数量文本：超过提供商批次上限时切分并发请求，
// 结果按原始顺序重组。任一批次重试耗尽则整体失败。
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float64, len(texts))

	// 先查缓存，收集未命中的下标
	var missIdx []int
	if e.cache != nil {
		for i, text := range texts {
			if vec, ok := e.cache.GetVector(ctx, e.CacheKey(text)); ok {
				vectors[i] = vec
				continue
			}
			missIdx = append(missIdx, i)
		}
	} else {
		missIdx = make([]int, len(texts))
		for i := range texts {
			missIdx[i] = i
		}
	}
	if len(missIdx) == 0 {
		return vectors, nil
	}

	batchSize := e.provider.MaxBatchSize()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrency)

	for start := 0; start < len(missIdx); start += batchSize {
		end := start + batchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		idx := missIdx[start:end]

		g.Go(func() error {
			batch := make([]string, len(idx))
			for i, j := range idx {
				batch[i] = texts[j]
			}

			got, err := retry.DoWithResult(gctx, e.retryer, "embed_batch", func(ctx context.Context) ([][]float64, error) {
				return e.provider.Embed(ctx, batch)
			})
			if err != nil {
				return llm.NewError(llm.ErrEmbeddingUnavailable,
					fmt.Sprintf("embedding provider %s unavailable", e.provider.Name())).
					WithCause(err)
			}
			if len(got) != len(batch) {
				return llm.NewError(llm.ErrEmbeddingUnavailable,
					fmt.Sprintf("provider returned %d vectors for %d texts", len(got), len(batch)))
			}
			for i, j := range idx {
				vectors[j] = got[i]
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if e.cache != nil {
		for _, j := range missIdx {
			e.cache.SetVector(ctx, e.CacheKey(texts[j]), vectors[j])
		}
	}
	return vectors, nil
}

// EmbedQuery 嵌入单条查询文本。
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
