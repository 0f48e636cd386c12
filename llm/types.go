// Package llm 提供 provider 无关的聊天补全类型与统一错误模型。
// 其他包（rag、agent、api）只依赖这里的接口与类型，不感知具体提供商。
package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 统一错误码，用于对齐 HTTP 状态、可重试性与降级策略。
type ErrorCode string

const (
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"       // 参数/格式错误
	ErrUnauthorized         ErrorCode = "UNAUTHORIZED"          // 未授权或密钥失效
	ErrForbidden            ErrorCode = "FORBIDDEN"             // 权限拒绝
	ErrRateLimited          ErrorCode = "RATE_LIMITED"          // 上游或本地限流
	ErrUpstreamTimeout      ErrorCode = "UPSTREAM_TIMEOUT"      // 上游超时
	ErrUpstreamError        ErrorCode = "UPSTREAM_ERROR"        // 上游 5xx/网络错误
	ErrIngestion            ErrorCode = "INGESTION_ERROR"       // 文档为空或不可读
	ErrEmbeddingUnavailable ErrorCode = "EMBEDDING_UNAVAILABLE" // 嵌入提供商重试耗尽
	ErrAgentUnavailable     ErrorCode = "AGENT_UNAVAILABLE"     // LLM 重试耗尽或输出不可解析
	ErrInternalError        ErrorCode = "INTERNAL_ERROR"        // 其余内部错误
)

// Error is the structured error carried across the service. Code is
// machine-checkable; Retryable drives retry decisions in the adapters.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// Temporary reports whether the error is safe to retry. 供 retry 包
// 通过接口断言识别，避免包间循环依赖。
func (e *Error) Temporary() bool { return e.Retryable }

// NewError creates a structured error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status to use when the error is surfaced.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts a *Error from err's chain, or nil.
func AsError(err error) *Error {
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	return nil
}

// CodeOf returns the error code of err, or ErrInternalError.
func CodeOf(err error) ErrorCode {
	if le := AsError(err); le != nil {
		return le.Code
	}
	return ErrInternalError
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall 表示模型发起的一次工具调用请求。
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // 工具返回时标识对应调用
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a tool result message bound to a tool call.
func NewToolMessage(toolCallID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, Name: name, ToolCallID: toolCallID}
}

// ToolSchema 描述暴露给模型的单个工具（JSON Schema 参数）。
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []Message     `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Tools       []ToolSchema  `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"` // auto/none/<tool name>
	Timeout     time.Duration `json:"timeout,omitempty"`     // 单次请求的截止期限，0 用提供商默认
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

type ChatResponse struct {
	ID       string       `json:"id,omitempty"`
	Provider string       `json:"provider,omitempty"`
	Model    string       `json:"model,omitempty"`
	Choices  []ChatChoice `json:"choices"`
	Usage    ChatUsage    `json:"usage"`
}

// FirstChoice returns the first choice, or nil when the response is empty.
func (r *ChatResponse) FirstChoice() *ChatChoice {
	if r == nil || len(r.Choices) == 0 {
		return nil
	}
	return &r.Choices[0]
}
