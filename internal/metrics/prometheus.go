// Package metrics exposes Prometheus collectors and in-process latency
// summaries for DEX actions and the RPC calls behind them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics holds the dexkit collectors.
type PrometheusMetrics struct {
	RPCRequests *prometheus.CounterVec
	RPCLatency  *prometheus.HistogramVec

	Actions        *prometheus.CounterVec
	ConfirmLatency *prometheus.HistogramVec
	QuoteFailures  *prometheus.CounterVec
	DebugLogLines  prometheus.Counter
}

// NewPrometheusMetrics creates and registers the collectors on reg
// (the default registerer when nil).
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		RPCRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexkit_rpc_requests_total",
				Help: "JSON-RPC requests by method and status",
			},
			[]string{"method", "status"},
		),

		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dexkit_rpc_latency_seconds",
				Help:    "JSON-RPC call latency by method",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method"},
		),

		Actions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexkit_actions_total",
				Help: "DEX actions by name and outcome",
			},
			[]string{"action", "status"},
		),

		ConfirmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dexkit_tx_confirm_latency_seconds",
				Help:    "Send-to-receipt latency by action",
				Buckets: []float64{0.5, 1, 2, 5, 12, 24, 60, 120},
			},
			[]string{"action"},
		),

		QuoteFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexkit_quote_failures_total",
				Help: "getAmountsOut failures by action",
			},
			[]string{"action"},
		),

		DebugLogLines: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dexkit_debug_log_lines_total",
				Help: "Lines appended to the session debug log",
			},
		),
	}
}

// knownRPCMethods bounds the method label; anything else is "other".
var knownRPCMethods = map[string]bool{
	"eth_chainId":                true,
	"eth_accounts":               true,
	"eth_requestAccounts":        true,
	"wallet_switchEthereumChain": true,
	"eth_call":                   true,
	"eth_estimateGas":            true,
	"eth_sendRawTransaction":     true,
	"eth_getTransactionCount":    true,
	"eth_getTransactionReceipt":  true,
	"eth_blockNumber":            true,
	"eth_getBlockByNumber":       true,
	"eth_getCode":                true,
	"eth_getStorageAt":           true,
	"eth_gasPrice":               true,
	"eth_getBalance":             true,
}

// MethodLabel maps an RPC method to its metric label.
func MethodLabel(method string) string {
	if knownRPCMethods[method] {
		return method
	}
	return "other"
}

// ObserveRPC records one RPC call. Its signature matches rpc.MethodObserver.
func (m *PrometheusMetrics) ObserveRPC(method string, took time.Duration, err error) {
	label := MethodLabel(method)
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RPCRequests.WithLabelValues(label, status).Inc()
	m.RPCLatency.WithLabelValues(label).Observe(took.Seconds())
}

// RecordAction counts a finished action.
func (m *PrometheusMetrics) RecordAction(action string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.Actions.WithLabelValues(action, status).Inc()
}

// RecordConfirmLatency records how long a transaction took to be mined.
func (m *PrometheusMetrics) RecordConfirmLatency(action string, took time.Duration) {
	m.ConfirmLatency.WithLabelValues(action).Observe(took.Seconds())
}

// RecordQuoteFailure counts a failed router quote.
func (m *PrometheusMetrics) RecordQuoteFailure(action string) {
	m.QuoteFailures.WithLabelValues(action).Inc()
}

// RecordDebugLine counts a debug log line.
func (m *PrometheusMetrics) RecordDebugLine() {
	m.DebugLogLines.Inc()
}
