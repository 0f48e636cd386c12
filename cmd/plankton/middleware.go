package main

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/plankton/api/handlers"
	"github.com/BaSui01/plankton/internal/metrics"
	"github.com/BaSui01/plankton/llm"
)

// Middleware HTTP 中间件类型
type Middleware func(http.Handler) http.Handler

// Chain 按声明顺序串联中间件（第一个最外层）。
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID 为每个请求生成或透传 X-Request-ID。
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := context.WithValue(r.Context(), requestIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Recovery 捕获 panic，返回 500 并记录堆栈。
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()))
					handlers.WriteError(w,
						llm.NewError(llm.ErrInternalError, "internal server error"), nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger 记录访问日志并上报 HTTP 指标。
func RequestLogger(logger *zap.Logger, collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", duration),
				zap.String("remote", r.RemoteAddr))

			if collector != nil {
				collector.ObserveHTTPRequest(r.Method, r.URL.Path,
					strconv.Itoa(rw.StatusCode), duration)
			}
		})
	}
}

// APIKeyAuth 校验 X-API-KEY 请求头。key 为空时放行（本地调试）。
func APIKeyAuth(key string, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get("X-API-KEY")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				handlers.WriteError(w,
					llm.NewError(llm.ErrUnauthorized, "invalid or missing API key").
						WithHTTPStatus(http.StatusUnauthorized), logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// visitor 单个客户端的限速器。
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按客户端 IP 限速，空闲访客定期回收。
func RateLimiter(perMinute int, logger *zap.Logger) Middleware {
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)

	go func() {
		for range time.Tick(time.Minute) {
			mu.Lock()
			for ip, v := range visitors {
				if time.Since(v.lastSeen) > 3*time.Minute {
					delete(visitors, ip)
				}
			}
			mu.Unlock()
		}
	}()

	limit := rate.Every(time.Minute / time.Duration(perMinute))
	getLimiter := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		v, ok := visitors[ip]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(limit, perMinute)}
			visitors[ip] = v
		}
		v.lastSeen = time.Now()
		return v.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !getLimiter(ip).Allow() {
				handlers.WriteError(w,
					llm.NewError(llm.ErrRateLimited, "rate limit exceeded").
						WithHTTPStatus(http.StatusTooManyRequests), logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Tracing 为每个请求开一个 OTel span。遥测关闭时为 noop。
func Tracing(serviceName string) Middleware {
	tracer := otel.Tracer(serviceName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
				))
			defer span.End()

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.status_code", rw.StatusCode))
		})
	}
}
