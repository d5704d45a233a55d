// Package metrics 提供网关的 Prometheus 指标。
//
// 指标：
//   - <ns>_requests_total{endpoint,model,status}
//   - <ns>_request_duration_seconds{endpoint,model}
//   - <ns>_tokens_total{model,type}
//   - <ns>_streams_in_flight
//   - <ns>_engine_healthy
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "vllmpoc"

type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
	streamsInFlight prometheus.Gauge
	engineHealthy   prometheus.Gauge
}

// NewCollector 创建并注册全部指标；namespace 为空时使用 DefaultNamespace。
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of API requests handled by the gateway",
		}, []string{"endpoint", "model", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"endpoint", "model"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total number of prompt/completion tokens",
		}, []string{"model", "type"}),
		streamsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_in_flight",
			Help:      "Number of SSE streams currently open",
		}),
		engineHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_healthy",
			Help:      "1 if the last engine health check succeeded, 0 otherwise",
		}),
	}
	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.tokensTotal,
		c.streamsInFlight,
		c.engineHealthy,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry 返回底层 registry（测试中用于断言）。
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回 /metrics handler。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// ObserveRequest 记录一次请求。nil Collector 上调用为空操作。
func (c *Collector) ObserveRequest(endpoint, model, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(endpoint, model, status).Inc()
	c.requestDuration.WithLabelValues(endpoint, model).Observe(duration.Seconds())
}

func (c *Collector) ObserveTokens(model string, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	if promptTokens > 0 {
		c.tokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.tokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// StreamStarted 增加在途流计数，返回的函数在流结束时调用。
func (c *Collector) StreamStarted() func() {
	if c == nil {
		return func() {}
	}
	c.streamsInFlight.Inc()
	return c.streamsInFlight.Dec
}

func (c *Collector) SetEngineHealthy(healthy bool) {
	if c == nil {
		return
	}
	if healthy {
		c.engineHealthy.Set(1)
		return
	}
	c.engineHealthy.Set(0)
}
