package llm

import "context"

// Provider 是聊天补全提供商的统一接口。实现必须并发安全，
// 且把上游失败映射为 *Error（含 Retryable 标志）。
type Provider interface {
	// Name 返回提供商标识（日志与错误归属用）。
	Name() string

	// Completion 执行一次聊天补全。ctx 控制取消与截止时间。
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}
