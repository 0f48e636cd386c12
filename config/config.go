// Package config 负责服务配置：默认值、YAML 文件与环境变量三层叠加。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/plankton/agent"
	"github.com/BaSui01/plankton/internal/cache"
	"github.com/BaSui01/plankton/internal/server"
	"github.com/BaSui01/plankton/internal/telemetry"
	"github.com/BaSui01/plankton/llm"
	"github.com/BaSui01/plankton/rag"
	"github.com/BaSui01/plankton/store"
)

// EmbeddingConfig 嵌入提供商配置。
type EmbeddingConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Dimensions     int           `yaml:"dimensions"`
	MaxBatch       int           `yaml:"max_batch"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// APIConfig HTTP 对外接口配置。
type APIConfig struct {
	Key                string `yaml:"key"`                   // X-API-KEY 校验密钥
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"` // ask 路由限速
}

// MemoryConfig 会话记忆配置。
type MemoryConfig struct {
	Window  int           `yaml:"window"`   // 保留的问答轮数
	IdleTTL time.Duration `yaml:"idle_ttl"` // 空闲会话回收时间
}

// CacheConfig 向量缓存配置。
type CacheConfig struct {
	Enabled      bool `yaml:"enabled"`
	cache.Config `yaml:",inline"`
}

// LoggingConfig 日志配置。
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// TelegramConfig Telegram 中继配置。
type TelegramConfig struct {
	Token        string        `yaml:"token"`          // bot token
	APIURL       string        `yaml:"api_url"`        // Telegram API 地址，可指向测试桩
	BackendURL   string        `yaml:"backend_url"`    // plankton 服务地址
	BackendKey   string        `yaml:"backend_key"`    // 转发请求用的 X-API-KEY
	PollInterval time.Duration `yaml:"poll_interval"` // 长轮询间隔
}

// IngestConfig 入库配置。
type IngestConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Config 服务全量配置。
type Config struct {
	Server    server.Config       `yaml:"server"`
	Logging   LoggingConfig       `yaml:"logging"`
	API       APIConfig           `yaml:"api"`
	LLM       llm.OpenAIConfig    `yaml:"llm"`
	Embedding EmbeddingConfig     `yaml:"embedding"`
	Chunking  rag.ChunkingConfig  `yaml:"chunking"`
	Retrieval rag.RetrieverConfig `yaml:"retrieval"`
	MMR       rag.MMRConfig       `yaml:"mmr"`
	Expander  rag.ExpanderConfig  `yaml:"expander"`
	Agent     agent.Config        `yaml:"agent"`
	Memory    MemoryConfig        `yaml:"memory"`
	Mongo     store.MongoConfig   `yaml:"mongo"`
	Cache     CacheConfig         `yaml:"cache"`
	Telemetry telemetry.Config    `yaml:"telemetry"`
	Telegram  TelegramConfig      `yaml:"telegram"`
	Ingest    IngestConfig        `yaml:"ingest"`
}

// Default 返回带生产默认值的配置。
func Default() *Config {
	return &Config{
		Server:  server.DefaultConfig(),
		Logging: LoggingConfig{Level: "info"},
		API:     APIConfig{RateLimitPerMinute: 10},
		LLM: llm.OpenAIConfig{
			Model:       "gpt-4",
			Temperature: 0.0,
			Timeout:     30 * time.Second,
			MaxRetries:  12,
		},
		Embedding: EmbeddingConfig{
			Model:          "text-embedding-3-small",
			Dimensions:     1536,
			MaxBatch:       100,
			Timeout:        30 * time.Second,
			MaxRetries:     12,
			MaxConcurrency: 4,
		},
		Chunking:  rag.DefaultChunkingConfig(),
		Retrieval: rag.DefaultRetrieverConfig(),
		MMR:       rag.DefaultMMRConfig(),
		Expander:  rag.ExpanderConfig{NumQueries: 3},
		Agent:     agent.Config{MaxIterations: 3, Temperature: 0.0},
		Memory:    MemoryConfig{Window: 3, IdleTTL: 30 * time.Minute},
		Mongo:     store.DefaultMongoConfig(),
		Cache:     CacheConfig{Enabled: false, Config: cache.DefaultConfig()},
		Telemetry: telemetry.DefaultConfig(),
		Telegram: TelegramConfig{
			APIURL:       "https://api.telegram.org",
			BackendURL:   "http://localhost:8080",
			PollInterval: 2 * time.Second,
		},
		Ingest: IngestConfig{DataDir: "data"},
	}
}

// Load 加载配置：默认值 → YAML 文件（path 为空则跳过）→ 环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 用 PLANKTON_* 环境变量覆盖敏感项与部署相关项。
func (c *Config) applyEnv() {
	setString := func(key string, target *string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	setString("PLANKTON_API_KEY", &c.API.Key)
	setString("PLANKTON_LLM_API_KEY", &c.LLM.APIKey)
	setString("PLANKTON_LLM_BASE_URL", &c.LLM.BaseURL)
	setString("PLANKTON_LLM_MODEL", &c.LLM.Model)
	setString("PLANKTON_EMBEDDING_API_KEY", &c.Embedding.APIKey)
	setString("PLANKTON_EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	setString("PLANKTON_MONGO_URI", &c.Mongo.URI)
	setString("PLANKTON_MONGO_DATABASE", &c.Mongo.Database)
	setString("PLANKTON_REDIS_ADDR", &c.Cache.Addr)
	setString("PLANKTON_TELEGRAM_TOKEN", &c.Telegram.Token)
	setString("PLANKTON_BACKEND_URL", &c.Telegram.BackendURL)
	setString("PLANKTON_SERVER_ADDR", &c.Server.Addr)
	setString("PLANKTON_DATA_DIR", &c.Ingest.DataDir)
	setString("PLANKTON_LOG_LEVEL", &c.Logging.Level)

	if v := os.Getenv("PLANKTON_CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cache.Enabled = b
		}
	}
	if v := os.Getenv("PLANKTON_TELEMETRY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Telemetry.Enabled = b
		}
	}
}

// Validate 校验跨字段约束。
func (c *Config) Validate() error {
	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	if c.Retrieval.K <= 0 {
		return fmt.Errorf("retrieval.k must be positive, got %d", c.Retrieval.K)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	if c.Memory.Window <= 0 {
		return fmt.Errorf("memory.window must be positive, got %d", c.Memory.Window)
	}
	if c.API.RateLimitPerMinute <= 0 {
		return fmt.Errorf("api.rate_limit_per_minute must be positive, got %d", c.API.RateLimitPerMinute)
	}
	return nil
}
