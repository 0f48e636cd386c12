package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/plankton/config"
)

func newTestBot(cfg config.TelegramConfig) *bot {
	cfg.PollInterval = 10 * time.Millisecond
	return newBot(cfg, zap.NewNop())
}

func TestAskBackendParsesEnvelope(t *testing.T) {
	var gotKey string
	var gotBody map[string]any
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/telegram/ask", r.URL.Path)
		gotKey = r.Header.Get("X-API-KEY")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"output":"The rate is 5%."}}`))
	}))
	defer backend.Close()

	b := newTestBot(config.TelegramConfig{BackendURL: backend.URL, BackendKey: "secret"})
	update := makeUpdate(1, 42, "what is the rate?")

	answer := b.askBackend(context.Background(), update)
	assert.Equal(t, "The rate is 5%.", answer)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "what is the rate?", gotBody["question"])
	assert.Equal(t, float64(42), gotBody["chat_id"])
}

func TestAskBackendSurfacesErrorMessage(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"AGENT_UNAVAILABLE","message":"agent is unavailable"}}`))
	}))
	defer backend.Close()

	b := newTestBot(config.TelegramConfig{BackendURL: backend.URL})
	answer := b.askBackend(context.Background(), makeUpdate(1, 42, "hi"))
	assert.Equal(t, "agent is unavailable", answer)
}

func TestAskBackendRendersRawBody(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text, not json"))
	}))
	defer backend.Close()

	b := newTestBot(config.TelegramConfig{BackendURL: backend.URL})
	answer := b.askBackend(context.Background(), makeUpdate(1, 42, "hi"))
	assert.Equal(t, "plain text, not json", answer)
}

func TestAskBackendUnreachable(t *testing.T) {
	b := newTestBot(config.TelegramConfig{BackendURL: "http://127.0.0.1:1"})
	answer := b.askBackend(context.Background(), makeUpdate(1, 42, "hi"))
	assert.Contains(t, answer, "Something went wrong")
}

func TestRunRelaysMessages(t *testing.T) {
	var mu sync.Mutex
	var sent []url.Values
	served := false

	telegram := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/bottoken/getUpdates":
			mu.Lock()
			first := !served
			served = true
			mu.Unlock()
			if first {
				_, _ = w.Write([]byte(`{"ok":true,"result":[
					{"update_id":7,"message":{"chat":{"id":42},"from":{"username":"alice"},"text":"what is the rate?"}},
					{"update_id":8,"message":{"chat":{"id":42},"from":{"username":"alice"},"text":"/start"}}
				]}`))
				return
			}
			assert.Equal(t, "9", r.URL.Query().Get("offset"))
			_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
		case r.URL.Path == "/bottoken/sendMessage":
			require.NoError(t, r.ParseForm())
			mu.Lock()
			sent = append(sent, r.PostForm)
			mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer telegram.Close()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"output":"The rate is 5%."}}`))
	}))
	defer backend.Close()

	b := newTestBot(config.TelegramConfig{
		Token:      "token",
		APIURL:     telegram.URL,
		BackendURL: backend.URL,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) >= 3
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	// 问题消息：先发占位回复，再发后端答案；/start 发问候语
	assert.Equal(t, interimReply, sent[0].Get("text"))
	assert.Equal(t, "The rate is 5%.", sent[1].Get("text"))
	assert.Equal(t, greeting, sent[2].Get("text"))
	assert.Equal(t, "42", sent[0].Get("chat_id"))
}

func makeUpdate(updateID, chatID int64, text string) tgUpdate {
	raw := map[string]any{
		"update_id": updateID,
		"message": map[string]any{
			"chat": map[string]any{"id": chatID},
			"from": map[string]any{"username": "alice", "first_name": "Alice"},
			"text": text,
		},
	}
	data, _ := json.Marshal(raw)
	var u tgUpdate
	_ = json.Unmarshal(data, &u)
	return u
}
