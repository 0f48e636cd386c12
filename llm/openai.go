package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/plankton/llm/retry"
)

// OpenAIConfig 配置 OpenAI 兼容端点（OpenAI、Azure、本地推理网关均可）。
type OpenAIConfig struct {
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	APIKey      string        `yaml:"api_key" json:"api_key"`
	Model       string        `yaml:"model" json:"model"`
	Temperature float32       `yaml:"temperature" json:"temperature"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries  int           `yaml:"max_retries" json:"max_retries"`
}

func (c *OpenAIConfig) withDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 12
	}
}

// OpenAIProvider 通过 HTTP 调用 /chat/completions，内置退避重试。
type OpenAIProvider struct {
	config  OpenAIConfig
	client  *http.Client
	retryer *retry.Retryer
	logger  *zap.Logger
}

// NewOpenAIProvider 创建提供商。logger 为 nil 时使用 Nop。
func NewOpenAIProvider(config OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.withDefaults()
	logger = logger.With(zap.String("component", "llm.openai"))

	policy := retry.DefaultPolicy()
	policy.MaxRetries = config.MaxRetries

	return &OpenAIProvider{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		retryer: retry.New(policy, logger),
		logger:  logger,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Completion 执行聊天补全，可重试错误按退避策略重试。
func (p *OpenAIProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, NewError(ErrInvalidRequest, "completion request requires at least one message").
			WithHTTPStatus(http.StatusBadRequest)
	}

	wire := p.toWire(req)
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, NewError(ErrInternalError, "marshal completion request").WithCause(err)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	return retry.DoWithResult(ctx, p.retryer, "chat_completion", func(ctx context.Context) (*ChatResponse, error) {
		return p.doRequest(ctx, body)
	})
}

func (p *OpenAIProvider) doRequest(ctx context.Context, body []byte) (*ChatResponse, error) {
	url := p.config.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(ErrInternalError, "build completion request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		// 网络错误与客户端超时统一按上游超时处理，可重试
		return nil, NewError(ErrUpstreamTimeout, "completion request failed").
			WithCause(err).WithRetryable(true).WithHTTPStatus(http.StatusGatewayTimeout)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(ErrUpstreamError, "read completion response").
			WithCause(err).WithRetryable(true)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.mapHTTPError(resp.StatusCode, respBody)
	}

	var wire wireChatResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, NewError(ErrUpstreamError, "decode completion response").WithCause(err)
	}
	return p.fromWire(&wire), nil
}

// mapHTTPError 把上游状态码映射为结构化错误并标注可重试性。
func (p *OpenAIProvider) mapHTTPError(status int, body []byte) *Error {
	msg := fmt.Sprintf("upstream returned %d", status)
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}

	e := NewError(ErrUpstreamError, msg).WithHTTPStatus(status)
	e.Provider = p.Name()
	switch {
	case status == http.StatusUnauthorized:
		e.Code = ErrUnauthorized
	case status == http.StatusForbidden:
		e.Code = ErrForbidden
	case status == http.StatusBadRequest:
		e.Code = ErrInvalidRequest
	case status == http.StatusTooManyRequests:
		e.Code = ErrRateLimited
		e.Retryable = true
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Code = ErrUpstreamTimeout
		e.Retryable = true
	case status >= 500:
		e.Retryable = true
	}
	return e
}

// ----- OpenAI 线格式 -----

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type wireChatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature"`
	Stop        []string      `json:"stop,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
}

type wireChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		FinishReason string      `json:"finish_reason"`
		Message      wireMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) toWire(req *ChatRequest) *wireChatRequest {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.config.Temperature
	}

	wire := &wireChatRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature,
		Stop:        req.Stop,
		ToolChoice:  req.ToolChoice,
	}
	for _, m := range req.Messages {
		wm := wireMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			var wtc wireToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(tc.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		wire.Messages = append(wire.Messages, wm)
	}
	for _, t := range req.Tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		wire.Tools = append(wire.Tools, wt)
	}
	return wire
}

func (p *OpenAIProvider) fromWire(wire *wireChatResponse) *ChatResponse {
	resp := &ChatResponse{
		ID:       wire.ID,
		Provider: p.Name(),
		Model:    wire.Model,
		Usage: ChatUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		},
	}
	for _, c := range wire.Choices {
		msg := Message{
			Role:    Role(c.Message.Role),
			Content: c.Message.Content,
		}
		for _, tc := range c.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
		resp.Choices = append(resp.Choices, ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      msg,
		})
	}
	return resp
}
