package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/plankton/agent"
	"github.com/BaSui01/plankton/api/handlers"
	"github.com/BaSui01/plankton/config"
	"github.com/BaSui01/plankton/ingest"
	"github.com/BaSui01/plankton/internal/cache"
	"github.com/BaSui01/plankton/internal/metrics"
	"github.com/BaSui01/plankton/llm"
	"github.com/BaSui01/plankton/llm/embedding"
	"github.com/BaSui01/plankton/llm/retry"
	"github.com/BaSui01/plankton/llm/tokenizer"
	"github.com/BaSui01/plankton/rag"
	"github.com/BaSui01/plankton/store"
)

// app 聚合一次进程生命周期内的全部组件。
type app struct {
	cfg          *config.Config
	logger       *zap.Logger
	metrics      *metrics.Collector
	cache        *cache.Manager
	index        *rag.Index
	ingester     *ingest.Ingester
	orchestrator *agent.Orchestrator
	sessions     *agent.SessionRegistry
	store        store.Store
}

// buildApp 按配置装配问答流水线。withStore 为 false 时跳过 Mongo
// 连接（ingest/ask 子命令不需要持久化）。
func buildApp(cfg *config.Config, logger *zap.Logger, withStore bool) (*app, error) {
	collector := metrics.NewCollector(nil)

	tok := tokenizer.NewTiktoken(cfg.Embedding.Model)
	chunker, err := rag.NewChunker(cfg.Chunking, tok, logger)
	if err != nil {
		return nil, err
	}

	var cacheManager *cache.Manager
	var vectorCache embedding.VectorCache
	if cfg.Cache.Enabled {
		cacheManager, err = cache.NewManager(cfg.Cache.Config, logger)
		if err != nil {
			// 缓存不可用只影响性能，降级继续
			logger.Warn("vector cache unavailable, continuing without it", zap.Error(err))
		} else {
			vectorCache = cacheManager
		}
	}

	embProvider := embedding.NewOpenAIProvider(embedding.BaseConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		MaxBatch:   cfg.Embedding.MaxBatch,
		Timeout:    cfg.Embedding.Timeout,
	})
	embedPolicy := retry.DefaultPolicy()
	if cfg.Embedding.MaxRetries > 0 {
		embedPolicy.MaxRetries = cfg.Embedding.MaxRetries
	}
	embedder := embedding.NewEmbedder(embProvider, vectorCache, embedding.EmbedderConfig{
		MaxConcurrency: cfg.Embedding.MaxConcurrency,
		Retry:          embedPolicy,
	}, logger)

	index := rag.NewIndex(cfg.MMR, logger)

	chatProvider := llm.NewOpenAIProvider(cfg.LLM, logger)

	expanderCfg := cfg.Expander
	if expanderCfg.Model == "" {
		expanderCfg.Model = cfg.LLM.Model
	}
	expander := rag.NewMultiQueryExpander(chatProvider, expanderCfg, logger)

	retriever := rag.NewRetriever(embedder, index, expander, cfg.Retrieval, logger).
		WithObserver(collector)

	agentCfg := cfg.Agent
	if agentCfg.Model == "" {
		agentCfg.Model = cfg.LLM.Model
	}
	orchestrator := agent.NewOrchestrator(chatProvider, retriever, agentCfg, logger).
		WithObserver(collector)
	sessions := agent.NewSessionRegistry(cfg.Memory.Window, cfg.Memory.IdleTTL, logger)
	ingester := ingest.NewIngester(chunker, embedder, index, collector, logger)

	var st store.Store
	if withStore {
		mongoStore, err := store.NewMongoStore(cfg.Mongo, logger)
		if err != nil {
			// 查询日志与 CRUD 退化到进程内存储，服务仍可作答
			logger.Warn("mongodb unavailable, falling back to in-memory store", zap.Error(err))
			st = store.NewMemoryStore()
		} else {
			st = mongoStore
		}
	}

	return &app{
		cfg:          cfg,
		logger:       logger,
		metrics:      collector,
		cache:        cacheManager,
		index:        index,
		ingester:     ingester,
		orchestrator: orchestrator,
		sessions:     sessions,
		store:        st,
	}, nil
}

// routes 装配 HTTP 路由与中间件链。
func (a *app) routes() http.Handler {
	askHandler := handlers.NewAskHandler(a.orchestrator, a.sessions, a.store, a.metrics, a.logger)
	usersHandler := handlers.NewUsersHandler(a.store, a.logger)
	reviewHandler := handlers.NewReviewHandler(a.store, a.logger)
	healthHandler := handlers.NewHealthHandler(a.index)

	auth := APIKeyAuth(a.cfg.API.Key, a.logger)
	askLimit := RateLimiter(a.cfg.API.RateLimitPerMinute, a.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("POST /ask", Chain(http.HandlerFunc(askHandler.HandleAsk), auth, askLimit))
	mux.Handle("POST /telegram/ask", Chain(http.HandlerFunc(askHandler.HandleTelegramAsk), auth, askLimit))
	mux.Handle("GET /users", Chain(http.HandlerFunc(usersHandler.HandleList), auth))
	mux.Handle("POST /users", Chain(http.HandlerFunc(usersHandler.HandleCreate), auth))
	mux.Handle("POST /review", Chain(http.HandlerFunc(reviewHandler.HandleCreate), auth))

	return Chain(mux,
		Recovery(a.logger),
		RequestID(),
		Tracing("plankton"),
		RequestLogger(a.logger, a.metrics),
	)
}

// close 释放持有的外部资源。
func (a *app) close(ctx context.Context) {
	a.sessions.Close()
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
}
