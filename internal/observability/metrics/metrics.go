// Package metrics 提供链 API 客户端、交易编排与会话共用的 Prometheus 指标。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bluecarbon"

// Collectors 汇总钱包层的指标。nil *Collectors 可以直接使用，不做任何记录。
type Collectors struct {
	chainRequests  *prometheus.CounterVec
	chainLatency   *prometheus.HistogramVec
	diagnostics    *prometheus.CounterVec
	transactions   *prometheus.CounterVec
	pollOutcomes   *prometheus.CounterVec
	sessionChanges *prometheus.CounterVec
}

// New 创建指标，reg 非空时一并注册。
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		chainRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain_api",
			Name:      "requests_total",
			Help:      "Chain index API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		chainLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain_api",
			Name:      "request_duration_seconds",
			Help:      "Chain index API request latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain_api",
			Name:      "degraded_reads_total",
			Help:      "Reads that fell back to a safe default instead of failing.",
		}, []string{"operation"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transactions",
			Name:      "total",
			Help:      "Transactions by kind and recorded status.",
		}, []string{"kind", "status"}),
		pollOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transactions",
			Name:      "poll_outcomes_total",
			Help:      "How status polling ended: terminal, timeout or abandoned.",
		}, []string{"outcome"}),
		sessionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions by target state.",
		}, []string{"status"}),
	}
	if reg == nil {
		return c, nil
	}
	for _, collector := range []prometheus.Collector{
		c.chainRequests, c.chainLatency, c.diagnostics, c.transactions, c.pollOutcomes, c.sessionChanges,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveChainRequest 记录一次链 API 调用。
func (c *Collectors) ObserveChainRequest(endpoint, outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.chainRequests.WithLabelValues(endpoint, outcome).Inc()
	c.chainLatency.WithLabelValues(endpoint).Observe(took.Seconds())
}

// DegradedRead 统计返回兜底值的读取。
func (c *Collectors) DegradedRead(operation string) {
	if c == nil {
		return
	}
	c.diagnostics.WithLabelValues(operation).Inc()
}

// TransactionRecorded 统计进入 status 的交易。
func (c *Collectors) TransactionRecorded(kind, status string) {
	if c == nil {
		return
	}
	c.transactions.WithLabelValues(kind, status).Inc()
}

// PollFinished 统计轮询的结束方式。
func (c *Collectors) PollFinished(outcome string) {
	if c == nil {
		return
	}
	c.pollOutcomes.WithLabelValues(outcome).Inc()
}

// SessionTransition 统计会话进入 status 的次数。
func (c *Collectors) SessionTransition(status string) {
	if c == nil {
		return
	}
	c.sessionChanges.WithLabelValues(status).Inc()
}

// Handler 以 Prometheus 文本格式暴露 gatherer。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// StartServer 在 addr 上提供 /metrics，直到 ctx 取消。
func StartServer(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
