// Package agent 实现会话记忆与工具增强的问答编排。
package agent

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/plankton/llm"
)

// exchange 一轮 user/assistant 问答。
type exchange struct {
	user      string
	assistant string
}

// WindowMemory 固定窗口的会话记忆：只保留最近 k 轮问答，
// 超出时淘汰最旧的一轮。方法并发安全。
type WindowMemory struct {
	mu       sync.Mutex
	window   int
	messages []exchange
}

// NewWindowMemory 创建窗口记忆。window<=0 时取默认 3。
func NewWindowMemory(window int) *WindowMemory {
	if window <= 0 {
		window = 3
	}
	return &WindowMemory{window: window}
}

// Append 记录一轮问答，必要时淘汰最旧的一轮。
func (m *WindowMemory) Append(user, assistant string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, exchange{user: user, assistant: assistant})
	if len(m.messages) > m.window {
		m.messages = m.messages[len(m.messages)-m.window:]
	}
}

// Render 按时间顺序渲染为提示词消息。
func (m *WindowMemory) Render() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Message, 0, len(m.messages)*2)
	for _, ex := range m.messages {
		out = append(out, llm.NewUserMessage(ex.user), llm.NewAssistantMessage(ex.assistant))
	}
	return out
}

// Len 返回当前保留的轮数。
func (m *WindowMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// sessionEntry 注册表中的一条会话。
type sessionEntry struct {
	memory   *WindowMemory
	lastSeen time.Time
}

// SessionRegistry 按会话 ID 管理 WindowMemory，空闲超时自动回收。
// 记忆只在进程内，不跨进程持久化。
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	window   int
	idleTTL  time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

// NewSessionRegistry 创建注册表并启动回收协程。
func NewSessionRegistry(window int, idleTTL time.Duration, logger *zap.Logger) *SessionRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	r := &SessionRegistry{
		sessions: make(map[string]*sessionEntry),
		window:   window,
		idleTTL:  idleTTL,
		stop:     make(chan struct{}),
		logger:   logger.With(zap.String("component", "agent.sessions")),
	}
	go r.evictLoop()
	return r
}

// Get 返回会话的记忆，不存在则创建。
func (r *SessionRegistry) Get(sessionID string) *WindowMemory {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		entry = &sessionEntry{memory: NewWindowMemory(r.window)}
		r.sessions[sessionID] = entry
	}
	entry.lastSeen = time.Now()
	return entry.memory
}

// Len 返回存活的会话数。
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close 停止回收协程。
func (r *SessionRegistry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *SessionRegistry) evictLoop() {
	ticker := time.NewTicker(r.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.mu.Lock()
			evicted := 0
			for id, entry := range r.sessions {
				if now.Sub(entry.lastSeen) > r.idleTTL {
					delete(r.sessions, id)
					evicted++
				}
			}
			r.mu.Unlock()
			if evicted > 0 {
				r.logger.Debug("evicted idle sessions", zap.Int("count", evicted))
			}
		}
	}
}
