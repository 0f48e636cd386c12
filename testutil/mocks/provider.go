// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持按调用顺序编排的固定响应、工具调用与错误注入。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/plankton/llm"
)

// scriptedReply 单次补全的脚本：内容、工具调用或错误三选一。
type scriptedReply struct {
	content   string
	toolCalls []llm.ToolCall
	usage     llm.ChatUsage
	err       error
}

// MockProvider 是 llm.Provider 的模拟实现。
// 按 Enqueue* 的顺序逐次出队响应；脚本耗尽后重复最后一条。
type MockProvider struct {
	mu      sync.Mutex
	replies []scriptedReply
	cursor  int
	calls   []*llm.ChatRequest
}

// NewMockProvider 创建新的 MockProvider。
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// WithResponse 追加一条固定文本响应。
func (m *MockProvider) WithResponse(content string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, scriptedReply{content: content})
	return m
}

// WithToolCalls 追加一条工具调用响应。
func (m *MockProvider) WithToolCalls(toolCalls ...llm.ToolCall) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, scriptedReply{toolCalls: toolCalls})
	return m
}

// WithUsage 给最近追加的响应设置 token 用量。
func (m *MockProvider) WithUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) > 0 {
		m.replies[len(m.replies)-1].usage = llm.ChatUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		}
	}
	return m
}

// WithError 追加一条错误响应。
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, scriptedReply{err: err})
	return m
}

// Calls 返回记录的全部请求。
func (m *MockProvider) Calls() []*llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llm.ChatRequest(nil), m.calls...)
}

// CallCount 返回 Completion 被调用的次数。
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockProvider) Name() string { return "mock" }

// Completion 出队下一条脚本响应。
func (m *MockProvider) Completion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	if len(m.replies) == 0 {
		return &llm.ChatResponse{
			Provider: "mock",
			Choices:  []llm.ChatChoice{{Message: llm.NewAssistantMessage("mock response")}},
		}, nil
	}

	reply := m.replies[m.cursor]
	if m.cursor < len(m.replies)-1 {
		m.cursor++
	}

	if reply.err != nil {
		return nil, reply.err
	}
	msg := llm.Message{Role: llm.RoleAssistant, Content: reply.content, ToolCalls: reply.toolCalls}
	finish := "stop"
	if len(reply.toolCalls) > 0 {
		finish = "tool_calls"
	}
	return &llm.ChatResponse{
		Provider: "mock",
		Choices:  []llm.ChatChoice{{Message: msg, FinishReason: finish}},
		Usage:    reply.usage,
	}, nil
}
