package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/plankton/agent"
	"github.com/BaSui01/plankton/llm"
	"github.com/BaSui01/plankton/llm/embedding"
	"github.com/BaSui01/plankton/llm/retry"
	"github.com/BaSui01/plankton/rag"
	"github.com/BaSui01/plankton/store"
	"github.com/BaSui01/plankton/testutil/mocks"
)

const testDims = 64

type askFixture struct {
	handler  *AskHandler
	provider *mocks.MockProvider
	sessions *agent.SessionRegistry
	store    *store.MemoryStore
}

func newAskFixture(t *testing.T, provider *mocks.MockProvider, contents ...string) *askFixture {
	t.Helper()

	idx := rag.NewIndex(rag.DefaultMMRConfig(), nil)
	for i, content := range contents {
		chunk := rag.Chunk{ID: rag.ChunkID("kb", i), DocumentID: "kb", Position: i, Content: content}
		require.NoError(t, idx.Upsert(chunk, mocks.EmbedText(content, testDims)))
	}
	embedder := embedding.NewEmbedder(mocks.NewMockEmbeddingProvider(testDims, 100), nil,
		embedding.EmbedderConfig{Retry: retry.Policy{MaxRetries: 1, InitialDelay: 1, MaxDelay: 1, Multiplier: 1}}, nil)
	retriever := rag.NewRetriever(embedder, idx, nil,
		rag.RetrieverConfig{K: 3, Strategy: rag.StrategySimilarity}, nil)

	orchestrator := agent.NewOrchestrator(provider, retriever, agent.Config{MaxIterations: 3}, nil)
	sessions := agent.NewSessionRegistry(3, time.Minute, nil)
	t.Cleanup(sessions.Close)
	st := store.NewMemoryStore()

	return &askFixture{
		handler:  NewAskHandler(orchestrator, sessions, st, nil, nil),
		provider: provider,
		sessions: sessions,
		store:    st,
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) (Response, json.RawMessage) {
	t.Helper()
	var resp struct {
		Success   bool            `json:"success"`
		Data      json.RawMessage `json:"data"`
		Error     *ErrorInfo      `json:"error"`
		Timestamp time.Time       `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return Response{Success: resp.Success, Error: resp.Error, Timestamp: resp.Timestamp}, resp.Data
}

func TestHandleAskEndToEnd(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"query": "tax rate"})
	provider := mocks.NewMockProvider().
		WithToolCalls(llm.ToolCall{ID: "call-1", Name: agent.KnowledgeBaseTool, Arguments: args}).
		WithResponse("The tax law sets a 5% rate.")
	f := newAskFixture(t, provider,
		"Tax law sets a 5% rate.",
		"The minister is Jane Doe.",
	)

	rec := postJSON(t, f.handler.HandleAsk, `{"question":"What rate does the tax law set?","user_id":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp, data := decodeResponse(t, rec)
	require.True(t, resp.Success)

	var ask AskResponse
	require.NoError(t, json.Unmarshal(data, &ask))
	assert.Contains(t, ask.Output, "5%")
	assert.False(t, ask.Partial)
	require.Len(t, ask.Trace, 1)
	assert.Equal(t, agent.KnowledgeBaseTool, ask.Trace[0].Tool)

	// 查询日志已落库
	docs, err := f.store.Find(context.Background(), store.CollectionQuery, store.Filter{"user_id": "u1"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "What rate does the tax law set?", docs[0]["question"])
	assert.Contains(t, docs[0]["response"], "5%")

	// 会话记忆已追加
	assert.Equal(t, 1, f.sessions.Get("session:default").Len())
}

func TestHandleAskNoContext(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"query": "capital city"})
	provider := mocks.NewMockProvider().
		WithToolCalls(llm.ToolCall{ID: "call-1", Name: agent.KnowledgeBaseTool, Arguments: args}).
		WithResponse("I do not have enough information to answer that.")
	f := newAskFixture(t, provider) // 空索引

	rec := postJSON(t, f.handler.HandleAsk, `{"question":"What is the capital?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	_, data := decodeResponse(t, rec)
	var ask AskResponse
	require.NoError(t, json.Unmarshal(data, &ask))
	assert.Contains(t, ask.Output, "do not have enough information")
}

func TestHandleAskEmptyQuestion(t *testing.T) {
	f := newAskFixture(t, mocks.NewMockProvider(), "x")

	rec := postJSON(t, f.handler.HandleAsk, `{"question":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	resp, _ := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(llm.ErrInvalidRequest), resp.Error.Code)
	assert.Equal(t, 0, f.provider.CallCount())
}

func TestHandleAskInvalidBody(t *testing.T) {
	f := newAskFixture(t, mocks.NewMockProvider(), "x")

	rec := postJSON(t, f.handler.HandleAsk, `{"question": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, f.handler.HandleAsk, `{"question":"q","bogus_field":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAskAgentFailure(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithError(llm.NewError(llm.ErrUpstreamError, "provider down"))
	f := newAskFixture(t, provider, "x")

	rec := postJSON(t, f.handler.HandleAsk, `{"question":"anything"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	resp, _ := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(llm.ErrAgentUnavailable), resp.Error.Code)
}

func TestHandleAskSessionsIsolated(t *testing.T) {
	provider := mocks.NewMockProvider().WithResponse("ok")
	f := newAskFixture(t, provider, "x")

	postJSON(t, f.handler.HandleAsk, `{"question":"q1","session_id":"a"}`)
	postJSON(t, f.handler.HandleAsk, `{"question":"q2","session_id":"b"}`)

	assert.Equal(t, 1, f.sessions.Get("session:a").Len())
	assert.Equal(t, 1, f.sessions.Get("session:b").Len())
	assert.Equal(t, 0, f.sessions.Get("session:default").Len())
}

func TestHandleTelegramAsk(t *testing.T) {
	provider := mocks.NewMockProvider().WithResponse("hello from the bot")
	f := newAskFixture(t, provider, "x")

	rec := postJSON(t, f.handler.HandleTelegramAsk,
		`{"question":"hi","chat_id":42,"first_name":"Jane","last_name":"Doe"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// 记忆按 chat_id 串联，日志落用户名
	assert.Equal(t, 1, f.sessions.Get("telegram:42").Len())
	docs, err := f.store.Find(context.Background(), store.CollectionQuery, store.Filter{"user_id": "Jane Doe"})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestHandleTelegramAskRequiresChatID(t *testing.T) {
	f := newAskFixture(t, mocks.NewMockProvider(), "x")

	rec := postJSON(t, f.handler.HandleTelegramAsk, `{"question":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	resp, _ := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "chat_id")
}

func TestUsersCreateAndList(t *testing.T) {
	st := store.NewMemoryStore()
	h := NewUsersHandler(st, nil)

	rec := postJSON(t, h.HandleCreate, `{"user_name":"alice","chat_id":7}`)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data := decodeResponse(t, rec)
	var created map[string]any
	require.NoError(t, json.Unmarshal(data, &created))
	assert.NotEmpty(t, created["id"])
	assert.Equal(t, "alice", created["user_name"])

	req := httptest.NewRequest(http.MethodGet, "/users?user_name=alice", nil)
	listRec := httptest.NewRecorder()
	h.HandleList(listRec, req)
	require.Equal(t, http.StatusOK, listRec.Code)

	_, data = decodeResponse(t, listRec)
	var users []map[string]any
	require.NoError(t, json.Unmarshal(data, &users))
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0]["user_name"])
}

func TestUsersListEmptyIsArray(t *testing.T) {
	h := NewUsersHandler(store.NewMemoryStore(), nil)

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestUsersCreateRequiresName(t *testing.T) {
	h := NewUsersHandler(store.NewMemoryStore(), nil)
	rec := postJSON(t, h.HandleCreate, `{"first_name":"no","last_name":"name"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewCreate(t *testing.T) {
	st := store.NewMemoryStore()
	h := NewReviewHandler(st, nil)

	rec := postJSON(t, h.HandleCreate,
		`{"question":"q","response":"r","rating":4,"comment":"helpful"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	docs, err := st.Find(context.Background(), store.CollectionReview, store.Filter{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 4, docs[0]["rating"])
	assert.Equal(t, "helpful", docs[0]["comment"])
}

func TestReviewValidation(t *testing.T) {
	h := NewReviewHandler(store.NewMemoryStore(), nil)

	for _, body := range []string{
		`{"response":"r","rating":3}`,
		`{"question":"q","rating":3}`,
		`{"question":"q","response":"r","rating":0}`,
		`{"question":"q","response":"r","rating":6}`,
	} {
		rec := postJSON(t, h.HandleCreate, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %s", body)
	}
}

func TestHealth(t *testing.T) {
	idx := rag.NewIndex(rag.DefaultMMRConfig(), nil)
	require.NoError(t, idx.Upsert(rag.Chunk{ID: "d#0", DocumentID: "d", Content: "x"}, mocks.EmbedText("x", testDims)))
	h := NewHealthHandler(idx)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, `"indexed_chunks":1`)
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	cases := map[llm.ErrorCode]int{
		llm.ErrInvalidRequest:       http.StatusBadRequest,
		llm.ErrIngestion:            http.StatusBadRequest,
		llm.ErrUnauthorized:         http.StatusUnauthorized,
		llm.ErrRateLimited:          http.StatusTooManyRequests,
		llm.ErrUpstreamTimeout:      http.StatusGatewayTimeout,
		llm.ErrUpstreamError:        http.StatusBadGateway,
		llm.ErrEmbeddingUnavailable: http.StatusServiceUnavailable,
		llm.ErrAgentUnavailable:     http.StatusServiceUnavailable,
		llm.ErrInternalError:        http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, mapErrorCodeToHTTPStatus(code), string(code))
	}
}

func TestWriteErrorFromPlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorFrom(rec, assert.AnError, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), string(llm.ErrInternalError)))
}
