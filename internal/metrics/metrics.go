// Package metrics exposes Prometheus instrumentation for guarded calls.
package metrics

import (
	"context"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// Metrics records execution outcomes. It satisfies executor.Recorder.
type Metrics struct {
	registry *prometheus.Registry
	assets   domain.AssetBook

	executions *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	legs       prometheus.Histogram
	profit     *prometheus.CounterVec
	payout     *prometheus.CounterVec
	premium    *prometheus.CounterVec
	inCall     prometheus.GaugeFunc
}

// New builds the collectors on a private registry. inCall reports whether a
// guarded call currently holds the gate; it may be nil.
func New(assets domain.AssetBook, inCall func() bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		assets:   assets,
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flashbot",
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Guarded calls by strategy, funding source and terminal status.",
		}, []string{"strategy", "funding", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flashbot",
			Subsystem: "engine",
			Name:      "failures_total",
			Help:      "Aborted guarded calls by error kind and failing component.",
		}, []string{"kind", "component"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flashbot",
			Subsystem: "engine",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of guarded calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"strategy"}),
		legs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flashbot",
			Subsystem: "engine",
			Name:      "route_legs",
			Help:      "Legs executed per committed call.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		}),
		profit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flashbot",
			Subsystem: "engine",
			Name:      "profit_tokens_total",
			Help:      "Committed profit in whole tokens per asset.",
		}, []string{"asset"}),
		payout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flashbot",
			Subsystem: "engine",
			Name:      "payout_tokens_total",
			Help:      "Committed payouts in whole tokens per asset.",
		}, []string{"asset"}),
		premium: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flashbot",
			Subsystem: "flashloan",
			Name:      "premium_tokens_total",
			Help:      "Flash-loan premiums paid in whole tokens per asset.",
		}, []string{"asset"}),
	}
	m.registry.MustRegister(m.executions, m.failures, m.duration, m.legs, m.profit, m.payout, m.premium)
	if inCall != nil {
		m.inCall = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "flashbot",
			Subsystem: "gate",
			Name:      "in_call",
			Help:      "1 while a guarded call holds the gate.",
		}, func() float64 {
			if inCall() {
				return 1
			}
			return 0
		})
		m.registry.MustRegister(m.inCall)
	}
	return m
}

// RecordExecution updates the collectors for one finished call.
func (m *Metrics) RecordExecution(_ context.Context, exec domain.Execution) {
	strategy := exec.Strategy.String()
	m.executions.WithLabelValues(strategy, string(exec.Funding), string(exec.Status)).Inc()
	if !exec.StartedAt.IsZero() && !exec.CompletedAt.IsZero() {
		m.duration.WithLabelValues(strategy).Observe(exec.CompletedAt.Sub(exec.StartedAt).Seconds())
	}
	if !exec.Succeeded() {
		m.failures.WithLabelValues(exec.ErrorKind, exec.Component).Inc()
		return
	}

	m.legs.Observe(float64(len(exec.Legs)))
	symbol := m.assets.Symbol(exec.Asset)
	m.addTokens(m.profit, symbol, exec.Asset, exec.Profit)
	m.addTokens(m.payout, symbol, exec.Asset, exec.Payout)
	m.addTokens(m.premium, symbol, exec.Asset, exec.Premium)
}

// addTokens skips nil and non-positive amounts; counters only move forward.
func (m *Metrics) addTokens(c *prometheus.CounterVec, symbol string, asset common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	v, _ := m.assets.Units(asset, amount).Float64()
	c.WithLabelValues(symbol).Add(v)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
