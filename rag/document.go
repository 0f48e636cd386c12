// Package rag 实现检索增强问答的核心流水线：文档分块、向量索引
// 与多查询扩展检索。
package rag

import "fmt"

// Document 待入库的原始文档。
type Document struct {
	ID       string            `json:"id"`
	Source   string            `json:"source,omitempty"` // 文件路径或来源标识
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Chunk 文档块。ID 由所属文档与块序号确定，重复入库幂等。
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Position   int               `json:"position"` // 文档内的块序号，从 0 开始
	Content    string            `json:"content"`
	TokenCount int               `json:"token_count"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ChunkID 生成确定性的块标识：docID#position。
func ChunkID(docID string, position int) string {
	return fmt.Sprintf("%s#%d", docID, position)
}

// RetrievalHit 一次检索命中。Score 为相似度得分，越大越相关。
type RetrievalHit struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}
