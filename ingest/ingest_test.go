package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/plankton/llm/embedding"
	"github.com/BaSui01/plankton/llm/retry"
	"github.com/BaSui01/plankton/llm/tokenizer"
	"github.com/BaSui01/plankton/rag"
	"github.com/BaSui01/plankton/testutil/mocks"
)

const testDims = 32

func newTestIngester(t *testing.T) (*Ingester, *rag.Index) {
	t.Helper()
	chunker, err := rag.NewChunker(rag.ChunkingConfig{ChunkSize: 16, ChunkOverlap: 4},
		tokenizer.NewEstimator(), nil)
	require.NoError(t, err)

	idx := rag.NewIndex(rag.DefaultMMRConfig(), nil)
	embedder := embedding.NewEmbedder(mocks.NewMockEmbeddingProvider(testDims, 100), nil,
		embedding.EmbedderConfig{Retry: retry.Policy{MaxRetries: 1, InitialDelay: 1, MaxDelay: 1, Multiplier: 1}}, nil)
	return NewIngester(chunker, embedder, idx, nil, nil), idx
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.WarnLevel)
	return zap.New(core), logs
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b-law.txt", "second document")
	writeFile(t, dir, "a-law.md", "first document")
	writeFile(t, dir, "notes.pdf", "binary, ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o700))

	docs, err := LoadDirectory(dir, nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "a-law", docs[0].ID)
	assert.Equal(t, "first document", docs[0].Content)
	assert.Equal(t, filepath.Join(dir, "a-law.md"), docs[0].Metadata["source"])
	assert.Equal(t, "b-law", docs[1].ID)
}

func TestLoadDirectoryMissing(t *testing.T) {
	_, err := LoadDirectory(filepath.Join(t.TempDir(), "absent"), nil)
	assert.Error(t, err)
}

func TestLoadDirectoryUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.txt", "readable content")
	// 指向不存在目标的符号链接：ReadFile 失败
	require.NoError(t, os.Symlink(filepath.Join(dir, "absent-target"), filepath.Join(dir, "broken.txt")))

	logger, logs := observedLogger()
	docs, err := LoadDirectory(dir, logger)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "broken", docs[0].ID)
	assert.Empty(t, docs[0].Content)
	assert.Equal(t, "readable content", docs[1].Content)

	// 读取失败要在加载时告警，而不是只在入库阶段按空文档跳过
	require.Equal(t, 1, logs.FilterMessage("failed to read document file").Len())

	// 入库阶段按坏文档跳过
	ing, _ := newTestIngester(t)
	result, err := ing.Ingest(context.Background(), docs, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"broken"}, result.Skipped)
	assert.Equal(t, 1, result.Documents)
}

func TestIngestIndexesChunks(t *testing.T) {
	ing, idx := newTestIngester(t)

	docs := []rag.Document{
		{ID: "tax", Content: "Tax law sets a 5% rate for small businesses."},
		{ID: "minister", Content: "The minister of finance is Jane Doe."},
	}
	result, err := ing.Ingest(context.Background(), docs, false)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Documents)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, result.Chunks, idx.Len())
	assert.Greater(t, idx.Len(), 0)
}

func TestIngestSkipsEmptyDocuments(t *testing.T) {
	ing, idx := newTestIngester(t)

	docs := []rag.Document{
		{ID: "empty", Content: "   "},
		{ID: "good", Content: "usable content here"},
	}
	result, err := ing.Ingest(context.Background(), docs, false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Documents)
	assert.Equal(t, []string{"empty"}, result.Skipped)
	assert.Equal(t, result.Chunks, idx.Len())
}

func TestIngestRebuildClearsIndex(t *testing.T) {
	ing, idx := newTestIngester(t)
	ctx := context.Background()

	_, err := ing.Ingest(ctx, []rag.Document{{ID: "old", Content: "stale content"}}, false)
	require.NoError(t, err)
	before := idx.Len()
	require.Greater(t, before, 0)

	result, err := ing.Ingest(ctx, []rag.Document{{ID: "new", Content: "fresh content"}}, true)
	require.NoError(t, err)
	assert.Equal(t, result.Chunks, idx.Len())

	// 旧文档的块已被清掉
	hits, err := idx.Search(mocks.EmbedText("stale content", testDims), 10, rag.StrategySimilarity)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "old", h.Chunk.DocumentID)
	}
}

func TestIngestEmbedderFailureAborts(t *testing.T) {
	chunker, err := rag.NewChunker(rag.ChunkingConfig{ChunkSize: 16, ChunkOverlap: 4},
		tokenizer.NewEstimator(), nil)
	require.NoError(t, err)

	provider := mocks.NewMockEmbeddingProvider(testDims, 100).WithError(assert.AnError)
	embedder := embedding.NewEmbedder(provider, nil,
		embedding.EmbedderConfig{Retry: retry.Policy{MaxRetries: 1, InitialDelay: 1, MaxDelay: 1, Multiplier: 1}}, nil)
	ing := NewIngester(chunker, embedder, rag.NewIndex(rag.DefaultMMRConfig(), nil), nil, nil)

	_, err = ing.Ingest(context.Background(), []rag.Document{{ID: "doc", Content: "content"}}, false)
	assert.Error(t, err)
}

func TestIngestDirectory(t *testing.T) {
	ing, idx := newTestIngester(t)
	dir := t.TempDir()
	writeFile(t, dir, "law.txt", "Tax law sets a 5% rate.")

	result, err := ing.IngestDirectory(context.Background(), dir, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Documents)
	assert.Equal(t, result.Chunks, idx.Len())
}
