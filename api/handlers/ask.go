package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/plankton/agent"
	"github.com/BaSui01/plankton/internal/metrics"
	"github.com/BaSui01/plankton/llm"
	"github.com/BaSui01/plankton/store"
)

// AskRequest /ask 请求体。session_id 为空时归入默认会话。
type AskRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// TelegramAskRequest /telegram/ask 请求体，记忆按 chat_id 串联。
type TelegramAskRequest struct {
	Question  string `json:"question"`
	ChatID    int64  `json:"chat_id"`
	UserName  string `json:"user_name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// AskResponse 问答响应数据。
type AskResponse struct {
	Output  string       `json:"output"`
	Partial bool         `json:"partial,omitempty"`
	Trace   []agent.Step `json:"trace,omitempty"`
}

// AskHandler 问答接口：编排 agent 回答、维护会话记忆、落查询日志。
type AskHandler struct {
	orchestrator *agent.Orchestrator
	sessions     *agent.SessionRegistry
	store        store.Store
	metrics      *metrics.Collector
	logger       *zap.Logger
}

// NewAskHandler 创建问答处理器。store 与 metrics 可为 nil。
func NewAskHandler(orchestrator *agent.Orchestrator, sessions *agent.SessionRegistry, st store.Store, collector *metrics.Collector, logger *zap.Logger) *AskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AskHandler{
		orchestrator: orchestrator,
		sessions:     sessions,
		store:        st,
		metrics:      collector,
		logger:       logger.With(zap.String("component", "handlers.ask")),
	}
}

// HandleAsk 处理 POST /ask。
func (h *AskHandler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "default"
	}
	h.answer(w, r, req.Question, "session:"+sessionID, req.UserID)
}

// HandleTelegramAsk 处理 POST /telegram/ask。
func (h *AskHandler) HandleTelegramAsk(w http.ResponseWriter, r *http.Request) {
	var req TelegramAskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.ChatID == 0 {
		WriteError(w, llm.NewError(llm.ErrInvalidRequest, "chat_id is required"), h.logger)
		return
	}

	userID := req.UserName
	if userID == "" {
		userID = strings.TrimSpace(req.FirstName + " " + req.LastName)
	}
	h.answer(w, r, req.Question, fmt.Sprintf("telegram:%d", req.ChatID), userID)
}

func (h *AskHandler) answer(w http.ResponseWriter, r *http.Request, question, sessionKey, userID string) {
	if strings.TrimSpace(question) == "" {
		WriteError(w, llm.NewError(llm.ErrInvalidRequest, "question is required"), h.logger)
		return
	}

	memory := h.sessions.Get(sessionKey)
	result, err := h.orchestrator.Answer(r.Context(), question, memory)
	if err != nil {
		if h.metrics != nil {
			h.metrics.ObserveAnsweredQuery("error")
		}
		WriteErrorFrom(w, err, h.logger)
		return
	}

	memory.Append(question, result.Output)

	// 查询日志尽力而为：写失败不影响作答
	if h.store != nil {
		record := store.QueryRecord{
			Question: question,
			Response: result.Output,
			UserID:   userID,
			Date:     time.Now().UTC(),
		}
		if err := h.store.Insert(r.Context(), store.CollectionQuery, record.ToDocument()); err != nil {
			h.logger.Warn("query log insert failed", zap.Error(err))
		}
	}

	if h.metrics != nil {
		outcome := "ok"
		if result.Partial {
			outcome = "partial"
		}
		h.metrics.ObserveAnsweredQuery(outcome)
		h.metrics.SetActiveSessions(h.sessions.Len())
	}

	WriteSuccess(w, AskResponse{
		Output:  result.Output,
		Partial: result.Partial,
		Trace:   result.Trace,
	})
}
