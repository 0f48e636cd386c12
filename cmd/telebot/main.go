// telebot 是 Telegram 中继：长轮询 getUpdates，把用户消息转发给
// plankton 的 /telegram/ask，并把回答发回聊天。
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/plankton/config"
)

const greeting = "Hello! Ask me anything about the document corpus and I will look it up for you."

const interimReply = "Give us a moment, we're looking that up for you..."

func main() {
	fs := flag.NewFlagSet("telebot", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Telegram.Token == "" {
		logger.Fatal("telegram token is required (PLANKTON_TELEGRAM_TOKEN)")
	}

	bot := newBot(cfg.Telegram, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("telebot started", zap.String("backend", cfg.Telegram.BackendURL))
	bot.run(ctx)
	logger.Info("telebot stopped")
}

// bot Telegram 长轮询客户端。
type bot struct {
	cfg    config.TelegramConfig
	client *http.Client
	logger *zap.Logger
}

func newBot(cfg config.TelegramConfig, logger *zap.Logger) *bot {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &bot{
		cfg:    cfg,
		client: &http.Client{Timeout: 90 * time.Second},
		logger: logger.With(zap.String("component", "telebot")),
	}
}

// ----- Telegram 线格式 -----

type tgUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			Username  string `json:"username"`
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
		} `json:"from"`
		Text string `json:"text"`
	} `json:"message"`
}

type tgUpdatesResponse struct {
	OK     bool       `json:"ok"`
	Result []tgUpdate `json:"result"`
}

// run 轮询循环，ctx 取消后退出。
func (b *bot) run(ctx context.Context) {
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := b.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("getUpdates failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.cfg.PollInterval):
			}
			continue
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			if update.Message == nil || strings.TrimSpace(update.Message.Text) == "" {
				continue
			}
			b.handleMessage(ctx, update)
		}
	}
}

func (b *bot) handleMessage(ctx context.Context, update tgUpdate) {
	msg := update.Message
	chatID := msg.Chat.ID

	if strings.HasPrefix(msg.Text, "/start") {
		b.sendMessage(ctx, chatID, greeting)
		return
	}

	b.sendMessage(ctx, chatID, interimReply)
	answer := b.askBackend(ctx, update)
	b.sendMessage(ctx, chatID, answer)
}

// askBackend 把问题转发给 /telegram/ask。后端响应不是合法 JSON 或
// 缺少 output 字段时，原样渲染响应体。
func (b *bot) askBackend(ctx context.Context, update tgUpdate) string {
	msg := update.Message
	payload, _ := json.Marshal(map[string]any{
		"question":   msg.Text,
		"chat_id":    msg.Chat.ID,
		"user_name":  msg.From.Username,
		"first_name": msg.From.FirstName,
		"last_name":  msg.From.LastName,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(b.cfg.BackendURL, "/")+"/telegram/ask", bytes.NewReader(payload))
	if err != nil {
		return "Something went wrong, please try again later."
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.BackendKey != "" {
		req.Header.Set("X-API-KEY", b.cfg.BackendKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Warn("backend request failed", zap.Error(err))
		return "Something went wrong, please try again later."
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "Something went wrong, please try again later."
	}

	var envelope struct {
		Data struct {
			Output string `json:"output"`
		} `json:"data"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return string(body)
	}
	if envelope.Error != nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if envelope.Data.Output == "" {
		return string(body)
	}
	return envelope.Data.Output
}

func (b *bot) getUpdates(ctx context.Context, offset int64) ([]tgUpdate, error) {
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?timeout=60&offset=%d",
		strings.TrimRight(b.cfg.APIURL, "/"), b.cfg.Token, offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed tgUpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("telegram returned not ok")
	}
	return parsed.Result, nil
}

func (b *bot) sendMessage(ctx context.Context, chatID int64, text string) {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage",
		strings.TrimRight(b.cfg.APIURL, "/"), b.cfg.Token)

	form := url.Values{}
	form.Set("chat_id", fmt.Sprintf("%d", chatID))
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Warn("sendMessage failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	resp.Body.Close()
}
