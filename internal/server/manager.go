// Package server provides internal HTTP server lifecycle management.
// This package is internal and should not be imported by external projects.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Config HTTP 服务配置。
type Config struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 默认服务配置。
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Manager 管理 HTTP 服务生命周期：启动、信号监听与优雅退出。
type Manager struct {
	server   *http.Server
	config   Config
	logger   *zap.Logger
	errCh    chan error
	shutdown chan os.Signal
}

// NewManager 创建服务管理器。
func NewManager(config Config, handler http.Handler, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 15 * time.Second
	}
	return &Manager{
		server: &http.Server{
			Addr:         config.Addr,
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		config:   config,
		logger:   logger.With(zap.String("component", "server")),
		errCh:    make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
}

// Start 在后台启动监听。
func (m *Manager) Start() {
	m.logger.Info("http server starting", zap.String("addr", m.config.Addr))
	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
}

// WaitForShutdown 阻塞直到收到退出信号或服务出错，然后优雅关停。
func (m *Manager) WaitForShutdown() error {
	signal.Notify(m.shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-m.errCh:
		return err
	case sig := <-m.shutdown:
		m.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.ShutdownTimeout)
	defer cancel()
	return m.Shutdown(ctx)
}

// Shutdown 优雅关停：停止接收新连接，等待在途请求完成。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("http server shutting down")
	if err := m.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	m.logger.Info("http server stopped")
	return nil
}
