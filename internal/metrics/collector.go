// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector 聚合服务各环节的 Prometheus 指标。
type Collector struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	llmCalls        *prometheus.CounterVec
	llmTokens       *prometheus.CounterVec
	retrievalHits   prometheus.Histogram
	ingestedDocs    prometheus.Counter
	ingestedChunks  prometheus.Counter
	skippedDocs     prometheus.Counter
	activeSessions  prometheus.Gauge
	answeredQueries *prometheus.CounterVec
}

// NewCollector 注册并返回指标收集器。registerer 为 nil 时用默认注册表。
func NewCollector(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Collector{
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plankton_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plankton_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		llmCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plankton_llm_calls_total",
			Help: "LLM completion calls by provider and outcome.",
		}, []string{"provider", "outcome"}),

		llmTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plankton_llm_tokens_total",
			Help: "Tokens consumed by kind (prompt/completion).",
		}, []string{"kind"}),

		retrievalHits: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "plankton_retrieval_hits",
			Help:    "Number of chunks returned per retrieval.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		}),

		ingestedDocs: factory.NewCounter(prometheus.CounterOpts{
			Name: "plankton_ingested_documents_total",
			Help: "Documents successfully ingested.",
		}),

		ingestedChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "plankton_ingested_chunks_total",
			Help: "Chunks produced by ingestion.",
		}),

		skippedDocs: factory.NewCounter(prometheus.CounterOpts{
			Name: "plankton_skipped_documents_total",
			Help: "Documents skipped during ingestion.",
		}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "plankton_active_sessions",
			Help: "Conversation sessions currently held in memory.",
		}),

		answeredQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plankton_answered_queries_total",
			Help: "Answered questions by outcome (ok/partial/error).",
		}, []string{"outcome"}),
	}
}

func (c *Collector) ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, status).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (c *Collector) ObserveLLMCall(provider, outcome string, promptTokens, completionTokens int) {
	c.llmCalls.WithLabelValues(provider, outcome).Inc()
	if promptTokens > 0 {
		c.llmTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.llmTokens.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

func (c *Collector) ObserveRetrieval(hits int) {
	c.retrievalHits.Observe(float64(hits))
}

func (c *Collector) ObserveIngestedDocument(chunks int) {
	c.ingestedDocs.Inc()
	c.ingestedChunks.Add(float64(chunks))
}

func (c *Collector) ObserveSkippedDocument() {
	c.skippedDocs.Inc()
}

func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

func (c *Collector) ObserveAnsweredQuery(outcome string) {
	c.answeredQueries.WithLabelValues(outcome).Inc()
}
