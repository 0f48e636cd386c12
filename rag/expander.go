package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/plankton/llm"
)

// listNumbering 去掉 LLM 常加的行首编号（"1. " / "2) "）。
var listNumbering = regexp.MustCompile(`^\d+[\.\)]\s*`)

// ExpanderConfig 多查询扩展配置。
type ExpanderConfig struct {
	NumQueries  int     `json:"num_queries" yaml:"num_queries"` // 备选改写数，默认 3
	Model       string  `json:"model" yaml:"model"`
	Temperature float32 `json:"temperature" yaml:"temperature"`
}

// MultiQueryExpander 用 LLM 生成同义改写以提升召回。
// 扩展只会锦上添花：任何失败都回退到原始查询，绝不让查询路径失败。
type MultiQueryExpander struct {
	provider llm.Provider
	config   ExpanderConfig
	logger   *zap.Logger
}

// NewMultiQueryExpander 创建扩展器。provider 为 nil 时 Expand 恒返回空。
func NewMultiQueryExpander(provider llm.Provider, config ExpanderConfig, logger *zap.Logger) *MultiQueryExpander {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.NumQueries <= 0 {
		config.NumQueries = 3
	}
	return &MultiQueryExpander{
		provider: provider,
		config:   config,
		logger:   logger.With(zap.String("component", "rag.expander")),
	}
}

// Expand 生成至多 NumQueries 条备选改写（不含原查询）。
// LLM 失败或解析不出可用行时返回空切片，由调用方退化为单查询检索。
func (e *MultiQueryExpander) Expand(ctx context.Context, query string) []string {
	if e.provider == nil {
		return nil
	}

	prompt := fmt.Sprintf(`Generate %d alternative search queries for the following query.
Each alternative should capture different aspects or phrasings of the same information need.
Return only the queries, one per line.

Original query: %s

Alternative queries:`, e.config.NumQueries, query)

	resp, err := e.provider.Completion(ctx, &llm.ChatRequest{
		Model:       e.config.Model,
		Temperature: e.config.Temperature,
		Messages:    []llm.Message{llm.NewUserMessage(prompt)},
	})
	if err != nil {
		e.logger.Warn("query expansion failed, falling back to single query",
			zap.String("query", query), zap.Error(err))
		return nil
	}
	choice := resp.FirstChoice()
	if choice == nil {
		return nil
	}

	// 逐行解析：去空行、去编号、去与原查询相同的行
	var alternatives []string
	seen := map[string]bool{query: true}
	for _, line := range strings.Split(strings.TrimSpace(choice.Message.Content), "\n") {
		line = strings.TrimSpace(line)
		line = listNumbering.ReplaceAllString(line, "")
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		alternatives = append(alternatives, line)
		if len(alternatives) >= e.config.NumQueries {
			break
		}
	}
	return alternatives
}
