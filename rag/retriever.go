package rag

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/plankton/llm/embedding"
)

// RetrieverConfig 检索配置。
type RetrieverConfig struct {
	K        int            `json:"k" yaml:"k"`               // 返回的块数，默认 3
	Strategy SearchStrategy `json:"strategy" yaml:"strategy"` // 默认 mmr
}

// DefaultRetrieverConfig 默认检索配置。
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{K: 3, Strategy: StrategyMMR}
}

// RetrievalObserver 接收每次检索的命中数（internal/metrics 实现）。
type RetrievalObserver interface {
	ObserveRetrieval(hits int)
}

// Retriever 组合嵌入器、索引与多查询扩展：对原查询及每条改写各检索
// 一次，按块 ID 去重取最高分，合并后按得分截断到 k。
type Retriever struct {
	embedder *embedding.Embedder
	index    *Index
	expander *MultiQueryExpander
	config   RetrieverConfig
	observer RetrievalObserver
	logger   *zap.Logger
}

// WithObserver 挂接检索指标观察者。
func (r *Retriever) WithObserver(observer RetrievalObserver) *Retriever {
	r.observer = observer
	return r
}

// NewRetriever 创建检索器。expander 可为 nil（纯单查询检索）。
func NewRetriever(embedder *embedding.Embedder, index *Index, expander *MultiQueryExpander, config RetrieverConfig, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.K <= 0 {
		config.K = 3
	}
	if config.Strategy == "" {
		config.Strategy = StrategyMMR
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		expander: expander,
		config:   config,
		logger:   logger.With(zap.String("component", "rag.retriever")),
	}
}

// Retrieve 执行多查询检索。空命中是合法结果（语料中无相关内容），
// 不视为错误；嵌入失败则向上返回。
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]RetrievalHit, error) {
	queries := []string{query}
	if r.expander != nil {
		queries = append(queries, r.expander.Expand(ctx, query)...)
	}

	best := make(map[string]RetrievalHit)
	var order []string
	for _, q := range queries {
		qvec, err := r.embedder.EmbedQuery(ctx, q)
		if err != nil {
			return nil, err
		}
		hits, err := r.index.Search(qvec, r.config.K, r.config.Strategy)
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			if prev, ok := best[hit.Chunk.ID]; ok {
				if hit.Score > prev.Score {
					best[hit.Chunk.ID] = hit
				}
				continue
			}
			best[hit.Chunk.ID] = hit
			order = append(order, hit.Chunk.ID)
		}
	}

	merged := make([]RetrievalHit, 0, len(best))
	for _, id := range order {
		merged = append(merged, best[id])
	}
	// 得分降序，同分保留首次发现顺序
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > r.config.K {
		merged = merged[:r.config.K]
	}

	if r.observer != nil {
		r.observer.ObserveRetrieval(len(merged))
	}
	r.logger.Debug("retrieval completed",
		zap.String("query", query),
		zap.Int("expanded_queries", len(queries)-1),
		zap.Int("hits", len(merged)))

	return merged, nil
}
