// Package tokenizer 提供分词抽象与 tiktoken 实现，供切块与 token 预算使用。
package tokenizer

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer 是 token 级操作的统一接口。切块器依赖 Encode/Decode
// 做精确的 token 边界切分与重建。
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(tokens []int) (string, error)
	CountTokens(text string) (int, error)
	Name() string
}

// TiktokenTokenizer 为 OpenAI 系模型适配 tiktoken。
type TiktokenTokenizer struct {
	model    string
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// modelEncodings 把模型名映射到 tiktoken 编码。
var modelEncodings = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4o-mini":            "o200k_base",
	"gpt-4-turbo":            "cl100k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
	"text-embedding-ada-002": "cl100k_base",
}

// NewTiktoken 按模型名创建分词器，未知模型回落到 cl100k_base。
func NewTiktoken(model string) *TiktokenTokenizer {
	encoding, ok := modelEncodings[model]
	if !ok {
		// 按最长前缀匹配，gpt-4o-* 不能落到 gpt-4 上
		best := 0
		for prefix, e := range modelEncodings {
			if len(prefix) > best && len(model) >= len(prefix) && model[:len(prefix)] == prefix {
				encoding = e
				ok = true
				best = len(prefix)
			}
		}
	}
	if !ok {
		encoding = "cl100k_base"
	}
	return &TiktokenTokenizer{model: model, encoding: encoding}
}

// init 延迟初始化编码表（首次使用可能触发下载）。
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) Encode(text string) ([]int, error) {
	if err := t.init(); err != nil {
		return nil, err
	}
	return t.enc.Encode(text, nil, nil), nil
}

func (t *TiktokenTokenizer) Decode(tokens []int) (string, error) {
	if err := t.init(); err != nil {
		return "", err
	}
	return t.enc.Decode(tokens), nil
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	tokens, err := t.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(tokens), nil
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

// EstimatorTokenizer 是无依赖的估算实现：按 rune 切分，每个 rune
// 视为一个 token。仅用于测试与 tiktoken 不可用时的兜底。
type EstimatorTokenizer struct{}

func NewEstimator() *EstimatorTokenizer { return &EstimatorTokenizer{} }

func (e *EstimatorTokenizer) Encode(text string) ([]int, error) {
	tokens := make([]int, 0, utf8.RuneCountInString(text))
	for _, r := range text {
		tokens = append(tokens, int(r))
	}
	return tokens, nil
}

func (e *EstimatorTokenizer) Decode(tokens []int) (string, error) {
	runes := make([]rune, len(tokens))
	for i, t := range tokens {
		runes[i] = rune(t)
	}
	return string(runes), nil
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	return utf8.RuneCountInString(text), nil
}

func (e *EstimatorTokenizer) Name() string { return "estimator" }
