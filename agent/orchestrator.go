package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/plankton/llm"
	"github.com/BaSui01/plankton/rag"
)

// KnowledgeBaseTool 知识库检索工具名，暴露给模型的唯一工具。
const KnowledgeBaseTool = "knowledge_base_lookup"

// knowledgeBaseSchema 工具参数的 JSON Schema。
var knowledgeBaseSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "The search query to run against the knowledge base"
		}
	},
	"required": ["query"]
}`)

// textualToolCall 兜底解析：部分模型不回结构化工具调用，而是在
// 首个非空行写 "tool: knowledge_base_lookup <query>"。
var textualToolCall = regexp.MustCompile(`(?i)^tool:\s*` + KnowledgeBaseTool + `\s*(.*)$`)

// DefaultSystemPrompt 默认角色设定，面向部委文档语料的问答助手。
const DefaultSystemPrompt = `You are a helpful assistant trained on the Ministry of Finance document corpus.
Answer questions using information from the knowledge base. Use the knowledge_base_lookup tool
to search for relevant material before answering. If the knowledge base contains no relevant
information, say that you do not have enough information rather than guessing.`

// partialAnswerNotice 迭代耗尽时返回最后一次检索结果的固定前缀。
const partialAnswerNotice = "I could not produce a final answer within the allotted reasoning steps. The most relevant material found was:\n\n"

// incompleteAnswer 迭代耗尽且没有任何检索结果时的固定答复。
const incompleteAnswer = "I was unable to complete the request. Please rephrase the question or try again."

// noContextObservation 检索无命中时喂回给模型的观察结果。
const noContextObservation = "No relevant context was found in the knowledge base."

// Step 一次工具调用的记录。
type Step struct {
	Iteration   int    `json:"iteration"`
	Tool        string `json:"tool"`
	ToolInput   string `json:"tool_input"`
	Observation string `json:"observation"`
}

// Result 一次问答的产出：最终回答与完整的工具调用轨迹。
type Result struct {
	Output  string `json:"output"`
	Trace   []Step `json:"trace,omitempty"`
	Partial bool   `json:"partial,omitempty"` // 因迭代耗尽而提前收束
}

// Config 编排器配置。
type Config struct {
	Model         string  `json:"model" yaml:"model"`
	Temperature   float32 `json:"temperature" yaml:"temperature"`
	MaxIterations int     `json:"max_iterations" yaml:"max_iterations"` // 默认 3
	SystemPrompt  string  `json:"system_prompt" yaml:"system_prompt"`
}

// CompletionObserver 接收每次补全调用的结果与用量（internal/metrics 实现）。
type CompletionObserver interface {
	ObserveLLMCall(provider, outcome string, promptTokens, completionTokens int)
}

// Orchestrator 工具增强的问答编排器。
// 状态机：START → REASONING → (TOOL_CALL ↔ REASONING)* → DONE；
// 一次问答至多 MaxIterations+1 次补全调用（查询扩展另计）。
type Orchestrator struct {
	provider  llm.Provider
	retriever *rag.Retriever
	config    Config
	observer  CompletionObserver
	logger    *zap.Logger
}

// WithObserver 挂接补全指标观察者。
func (o *Orchestrator) WithObserver(observer CompletionObserver) *Orchestrator {
	o.observer = observer
	return o
}

// NewOrchestrator 创建编排器。
func NewOrchestrator(provider llm.Provider, retriever *rag.Retriever, config Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = 3
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	return &Orchestrator{
		provider:  provider,
		retriever: retriever,
		config:    config,
		logger:    logger.With(zap.String("component", "agent.orchestrator")),
	}
}

// Answer 回答一个问题。memory 可为 nil（无会话上下文）；
// 成功后由调用方决定是否把问答写回 memory。
// LLM 失败报 AGENT_UNAVAILABLE，轨迹保持到失败前的完整状态。
func (o *Orchestrator) Answer(ctx context.Context, question string, memory *WindowMemory) (*Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, llm.NewError(llm.ErrInvalidRequest, "question is empty")
	}

	messages := []llm.Message{llm.NewSystemMessage(o.config.SystemPrompt)}
	if memory != nil {
		messages = append(messages, memory.Render()...)
	}
	messages = append(messages, llm.NewUserMessage(question))

	result := &Result{}
	lastObservation := ""

	for iteration := 0; iteration < o.config.MaxIterations; iteration++ {
		resp, err := o.provider.Completion(ctx, &llm.ChatRequest{
			Model:       o.config.Model,
			Temperature: o.config.Temperature,
			Messages:    messages,
			Tools: []llm.ToolSchema{{
				Name:        KnowledgeBaseTool,
				Description: "Search the document knowledge base for passages relevant to a query.",
				Parameters:  knowledgeBaseSchema,
			}},
			ToolChoice: "auto",
		})
		if err != nil {
			if o.observer != nil {
				o.observer.ObserveLLMCall(o.provider.Name(), "error", 0, 0)
			}
			return nil, llm.NewError(llm.ErrAgentUnavailable, "completion failed").WithCause(err)
		}
		if o.observer != nil {
			o.observer.ObserveLLMCall(o.provider.Name(), "ok",
				resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}
		choice := resp.FirstChoice()
		if choice == nil {
			return nil, llm.NewError(llm.ErrAgentUnavailable, "provider returned no choices")
		}

		toolQuery, isToolCall, toolCallID := o.parseToolCall(choice.Message)
		if !isToolCall {
			result.Output = strings.TrimSpace(choice.Message.Content)
			o.logger.Debug("agent answered",
				zap.Int("iterations", iteration+1),
				zap.Int("tool_calls", len(result.Trace)))
			return result, nil
		}

		hits, err := o.retriever.Retrieve(ctx, toolQuery)
		if err != nil {
			return nil, err
		}
		observation := formatObservation(hits)
		lastObservation = observation

		result.Trace = append(result.Trace, Step{
			Iteration:   iteration,
			Tool:        KnowledgeBaseTool,
			ToolInput:   toolQuery,
			Observation: observation,
		})

		// 把助手回合与工具观察折叠进对话，进入下一轮推理
		messages = append(messages, choice.Message)
		if toolCallID != "" {
			messages = append(messages, llm.NewToolMessage(toolCallID, KnowledgeBaseTool, observation))
		} else {
			// 文本式调用没有 tool_call_id，以用户回合承载观察
			messages = append(messages, llm.NewUserMessage("Observation:\n"+observation))
		}
	}

	// 迭代耗尽：确定性收束，不再追加补全调用
	result.Partial = true
	if lastObservation != "" {
		result.Output = partialAnswerNotice + lastObservation
	} else {
		result.Output = incompleteAnswer
	}
	o.logger.Warn("agent hit iteration limit",
		zap.Int("max_iterations", o.config.MaxIterations),
		zap.Int("tool_calls", len(result.Trace)))
	return result, nil
}

// parseToolCall 识别模型回复是否为工具调用。优先结构化 tool_calls，
// 其次匹配首个非空行的文本式调用。
func (o *Orchestrator) parseToolCall(msg llm.Message) (query string, ok bool, toolCallID string) {
	for _, tc := range msg.ToolCalls {
		if tc.Name != KnowledgeBaseTool {
			continue
		}
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(tc.Arguments, &args); err == nil && args.Query != "" {
			return args.Query, true, tc.ID
		}
		// 参数不是合法 JSON 时按原文处理
		return strings.TrimSpace(string(tc.Arguments)), true, tc.ID
	}

	lines := strings.Split(msg.Content, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := textualToolCall.FindStringSubmatch(line); m != nil {
			query := strings.TrimSpace(m[1])
			if rest := strings.TrimSpace(strings.Join(lines[i+1:], "\n")); rest != "" {
				if query != "" {
					query += "\n"
				}
				query += rest
			}
			return query, true, ""
		}
		break
	}
	return "", false, ""
}

// formatObservation 把检索命中渲染为观察文本。
func formatObservation(hits []rag.RetrievalHit) string {
	if len(hits) == 0 {
		return noContextObservation
	}
	var sb strings.Builder
	for i, hit := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s", i+1, hit.Chunk.Content)
	}
	return sb.String()
}
