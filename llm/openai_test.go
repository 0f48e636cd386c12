package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testProvider(baseURL string) *OpenAIProvider {
	return NewOpenAIProvider(OpenAIConfig{
		BaseURL:    baseURL,
		APIKey:     "test-key",
		Model:      "gpt-4",
		Timeout:    5 * time.Second,
		MaxRetries: 1,
	}, nil)
}

func TestOpenAICompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req wireChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4" {
			t.Errorf("unexpected model %s", req.Model)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"model": "gpt-4",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call-1",
						"type": "function",
						"function": {"name": "knowledge_base_lookup", "arguments": "{\"query\":\"tax rate\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`))
	}))
	defer server.Close()

	p := testProvider(server.URL)
	resp, err := p.Completion(context.Background(), &ChatRequest{
		Messages: []Message{NewUserMessage("what is the tax rate?")},
	})
	if err != nil {
		t.Fatalf("Completion: %v", err)
	}

	choice := resp.FirstChoice()
	if choice == nil {
		t.Fatal("no choices")
	}
	if len(choice.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(choice.Message.ToolCalls))
	}
	tc := choice.Message.ToolCalls[0]
	if tc.Name != "knowledge_base_lookup" {
		t.Errorf("unexpected tool name %s", tc.Name)
	}
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(tc.Arguments, &args); err != nil || args.Query != "tax rate" {
		t.Errorf("unexpected arguments %s (err %v)", tc.Arguments, err)
	}
	if resp.Usage.TotalTokens != 19 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
}

func TestOpenAIUnauthorizedNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer server.Close()

	p := testProvider(server.URL)
	_, err := p.Completion(context.Background(), &ChatRequest{
		Messages: []Message{NewUserMessage("hi")},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	le := AsError(err)
	if le == nil || le.Code != ErrUnauthorized {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}
	if le.Message != "bad key" {
		t.Errorf("upstream message not surfaced: %q", le.Message)
	}
	if attempts != 1 {
		t.Errorf("auth failure retried %d times", attempts)
	}
}

func TestOpenAIRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	p := testProvider(server.URL)
	start := time.Now()
	_, err := p.Completion(context.Background(), &ChatRequest{
		Messages: []Message{NewUserMessage("hi")},
		Timeout:  50 * time.Millisecond,
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected timeout error")
	}
	if CodeOf(err) != ErrUpstreamTimeout {
		t.Errorf("expected UPSTREAM_TIMEOUT, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("request deadline not enforced, took %v", elapsed)
	}
}

func TestOpenAIRejectsEmptyRequest(t *testing.T) {
	p := testProvider("http://localhost:0")
	for _, req := range []*ChatRequest{nil, {}} {
		_, err := p.Completion(context.Background(), req)
		if CodeOf(err) != ErrInvalidRequest {
			t.Errorf("expected INVALID_REQUEST, got %v", err)
		}
	}
}

func TestMapHTTPError(t *testing.T) {
	p := testProvider("http://localhost:0")
	cases := []struct {
		status    int
		code      ErrorCode
		retryable bool
	}{
		{http.StatusBadRequest, ErrInvalidRequest, false},
		{http.StatusUnauthorized, ErrUnauthorized, false},
		{http.StatusForbidden, ErrForbidden, false},
		{http.StatusTooManyRequests, ErrRateLimited, true},
		{http.StatusGatewayTimeout, ErrUpstreamTimeout, true},
		{http.StatusInternalServerError, ErrUpstreamError, true},
		{http.StatusBadGateway, ErrUpstreamError, true},
	}
	for _, c := range cases {
		e := p.mapHTTPError(c.status, nil)
		if e.Code != c.code {
			t.Errorf("status %d: expected %s, got %s", c.status, c.code, e.Code)
		}
		if e.Retryable != c.retryable {
			t.Errorf("status %d: retryable %v, want %v", c.status, e.Retryable, c.retryable)
		}
	}
}

func TestErrorUnwrapAndCode(t *testing.T) {
	cause := NewError(ErrRateLimited, "inner").WithRetryable(true)
	outer := NewError(ErrAgentUnavailable, "outer").WithCause(cause)

	if CodeOf(outer) != ErrAgentUnavailable {
		t.Errorf("CodeOf: %s", CodeOf(outer))
	}
	if !AsError(cause).Retryable {
		t.Error("rate limited should be retryable")
	}
	if AsError(outer).Retryable {
		t.Error("outer error carries its own retryable flag")
	}
	if AsError(outer).Message != "outer" {
		t.Error("AsError should return the outermost structured error")
	}
}
