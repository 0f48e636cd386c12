// plankton 是面向私有文档语料的检索增强问答服务。
//
// 子命令：
//
//	serve   启动 HTTP 服务（默认）
//	ingest  把数据目录入库到向量索引后退出
//	ask     命令行单次提问
//	version 打印版本
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/plankton/config"
	"github.com/BaSui01/plankton/internal/server"
	"github.com/BaSui01/plankton/internal/telemetry"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "serve":
		return runServe(args)
	case "ingest":
		return runIngest(args)
	case "ask":
		return runAsk(args)
	case "version":
		fmt.Println(version())
		return nil
	default:
		return fmt.Errorf("unknown command %q (expected serve, ingest, ask or version)", command)
	}
}

// newLogger 按配置构建 zap 日志器。
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	skipIngest := fs.Bool("skip-ingest", false, "do not ingest the data directory on startup")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	a, err := buildApp(cfg, logger, true)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.close(ctx)
	}()

	if !*skipIngest {
		result, err := a.ingester.IngestDirectory(context.Background(), cfg.Ingest.DataDir, true)
		if err != nil {
			return fmt.Errorf("startup ingestion: %w", err)
		}
		logger.Info("knowledge base ready",
			zap.Int("documents", result.Documents),
			zap.Int("chunks", result.Chunks),
			zap.Int("skipped", len(result.Skipped)))
	}

	manager := server.NewManager(cfg.Server, a.routes(), logger)
	manager.Start()
	return manager.WaitForShutdown()
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	dataDir := fs.String("data-dir", "", "directory of documents to ingest (overrides config)")
	rebuild := fs.Bool("rebuild", true, "clear the index before ingesting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *dataDir != "" {
		cfg.Ingest.DataDir = *dataDir
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := buildApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.close(ctx)
	}()

	result, err := a.ingester.IngestDirectory(context.Background(), cfg.Ingest.DataDir, *rebuild)
	if err != nil {
		return err
	}
	fmt.Printf("ingested %d documents (%d chunks), skipped %d\n",
		result.Documents, result.Chunks, len(result.Skipped))
	return nil
}

func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	question := fs.String("question", "", "question to ask")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *question == "" {
		return fmt.Errorf("-question is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := buildApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.close(ctx)
	}()

	ctx := context.Background()
	if _, err := a.ingester.IngestDirectory(ctx, cfg.Ingest.DataDir, true); err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}

	result, err := a.orchestrator.Answer(ctx, *question, nil)
	if err != nil {
		return err
	}
	fmt.Println(result.Output)
	return nil
}

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}
