package rag

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/plankton/llm"
	"github.com/BaSui01/plankton/llm/tokenizer"
)

// ChunkingConfig 分块配置。ChunkSize/ChunkOverlap 均以 token 计。
type ChunkingConfig struct {
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`
}

// DefaultChunkingConfig 默认分块配置。
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		ChunkSize:    512,
		ChunkOverlap: 64,
	}
}

// Validate 校验配置：重叠必须小于块大小，否则窗口无法推进。
func (c ChunkingConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_overlap must be non-negative, got %d", c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap %d must be smaller than chunk_size %d", c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

// Chunker 按 token 窗口切分文档：相邻块精确重叠 ChunkOverlap 个
// token，去掉重叠后拼接可还原原始 token 流。
type Chunker struct {
	config    ChunkingConfig
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

// NewChunker 创建分块器。配置非法时返回错误。
func NewChunker(config ChunkingConfig, tok tokenizer.Tokenizer, logger *zap.Logger) (*Chunker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{
		config:    config,
		tokenizer: tok,
		logger:    logger.With(zap.String("component", "rag.chunker")),
	}, nil
}

// Chunk 切分单个文档。空白文档报 INGESTION_ERROR。
// token 长度 L、块大小 S、重叠 O 时产出 ceil((L-O)/(S-O)) 个块，
// L ≤ S 时恰好 1 个；每块 TokenCount ≤ S，末块可短。
func (c *Chunker) Chunk(doc Document) ([]Chunk, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return nil, llm.NewError(llm.ErrIngestion,
			fmt.Sprintf("document %s is empty or unreadable", doc.ID))
	}

	tokens, err := c.tokenizer.Encode(doc.Content)
	if err != nil {
		return nil, llm.NewError(llm.ErrIngestion,
			fmt.Sprintf("tokenize document %s", doc.ID)).WithCause(err)
	}
	if len(tokens) == 0 {
		return nil, llm.NewError(llm.ErrIngestion,
			fmt.Sprintf("document %s produced no tokens", doc.ID))
	}

	size := c.config.ChunkSize
	step := size - c.config.ChunkOverlap

	var chunks []Chunk
	for start := 0; ; start += step {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}

		content, err := c.tokenizer.Decode(tokens[start:end])
		if err != nil {
			return nil, llm.NewError(llm.ErrIngestion,
				fmt.Sprintf("decode chunk %d of document %s", len(chunks), doc.ID)).WithCause(err)
		}

		position := len(chunks)
		chunks = append(chunks, Chunk{
			ID:         ChunkID(doc.ID, position),
			DocumentID: doc.ID,
			Position:   position,
			Content:    content,
			TokenCount: end - start,
			Metadata:   doc.Metadata,
		})

		if end == len(tokens) {
			break
		}
	}

	c.logger.Debug("document chunked",
		zap.String("document_id", doc.ID),
		zap.Int("tokens", len(tokens)),
		zap.Int("chunks", len(chunks)))

	return chunks, nil
}
