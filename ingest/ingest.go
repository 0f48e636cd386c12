// Package ingest 实现语料入库：读取目录下的文本文件，切块、嵌入并
// 写入向量索引。坏文档跳过并告警，不中断批量入库。
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/plankton/internal/metrics"
	"github.com/BaSui01/plankton/llm/embedding"
	"github.com/BaSui01/plankton/rag"
)

// 可入库的文件扩展名。
var textExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

// Result 一次入库的汇总。
type Result struct {
	Documents int      `json:"documents"`
	Chunks    int      `json:"chunks"`
	Skipped   []string `json:"skipped,omitempty"` // 被跳过文档的 ID
}

// Ingester 入库流水线：loader → chunker → embedder → index。
type Ingester struct {
	chunker  *rag.Chunker
	embedder *embedding.Embedder
	index    *rag.Index
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewIngester 创建入库器。metrics 可为 nil。
func NewIngester(chunker *rag.Chunker, embedder *embedding.Embedder, index *rag.Index, collector *metrics.Collector, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "ingest")),
	}
}

// LoadDirectory 读取目录下所有文本文件为文档。文件名（去扩展名）
// 作为文档 ID；按文件名排序保证入库顺序稳定。logger 可为 nil。
func LoadDirectory(dir string, logger *zap.Logger) ([]rag.Document, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data directory %s: %w", dir, err)
	}

	var docs []rag.Document
	for _, entry := range entries {
		if entry.IsDir() || !textExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			// 仍以空内容入列，由 Ingest 统一按坏文档跳过
			logger.Warn("failed to read document file",
				zap.String("path", path),
				zap.Error(err))
		}
		docs = append(docs, rag.Document{
			ID:      strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			Source:  path,
			Content: string(content),
			Metadata: map[string]string{
				"source": path,
			},
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Ingest 入库一批文档。rebuild 为 true 时先清空索引做全量重建。
// 单个坏文档（空、不可读、切块失败）跳过并计入 Skipped；
// 嵌入不可用则中止并返回错误。
func (ing *Ingester) Ingest(ctx context.Context, docs []rag.Document, rebuild bool) (*Result, error) {
	if rebuild {
		ing.index.DeleteAll()
		ing.logger.Info("index cleared for full rebuild")
	}

	result := &Result{}
	for _, doc := range docs {
		chunks, err := ing.chunker.Chunk(doc)
		if err != nil {
			ing.logger.Warn("skipping document",
				zap.String("document_id", doc.ID),
				zap.Error(err))
			result.Skipped = append(result.Skipped, doc.ID)
			if ing.metrics != nil {
				ing.metrics.ObserveSkippedDocument()
			}
			continue
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err := ing.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}

		for i, c := range chunks {
			if err := ing.index.Upsert(c, vectors[i]); err != nil {
				return nil, fmt.Errorf("index chunk %s: %w", c.ID, err)
			}
		}

		result.Documents++
		result.Chunks += len(chunks)
		if ing.metrics != nil {
			ing.metrics.ObserveIngestedDocument(len(chunks))
		}
	}

	ing.logger.Info("ingestion completed",
		zap.Int("documents", result.Documents),
		zap.Int("chunks", result.Chunks),
		zap.Int("skipped", len(result.Skipped)))

	return result, nil
}

// IngestDirectory 读取目录并入库。
func (ing *Ingester) IngestDirectory(ctx context.Context, dir string, rebuild bool) (*Result, error) {
	docs, err := LoadDirectory(dir, ing.logger)
	if err != nil {
		return nil, err
	}
	return ing.Ingest(ctx, docs, rebuild)
}
