package metrics

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return out.GetCounter().GetValue()
}

func TestMethodLabel(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"eth_call", "eth_call"},
		{"wallet_switchEthereumChain", "wallet_switchEthereumChain"},
		{"debug_traceTransaction", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			if got := MethodLabel(tt.method); got != tt.want {
				t.Errorf("MethodLabel(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.ObserveRPC("eth_call", 10*time.Millisecond, nil)
	m.ObserveRPC("eth_call", 20*time.Millisecond, errors.New("revert"))
	m.ObserveRPC("txpool_content", time.Millisecond, nil)
	m.RecordAction("swap", nil)
	m.RecordAction("swap", errors.New("no liquidity"))
	m.RecordQuoteFailure("swap")
	m.RecordConfirmLatency("swap", 2*time.Second)
	m.RecordDebugLine()
	m.RecordDebugLine()

	checks := []struct {
		name string
		c    prometheus.Metric
		want float64
	}{
		{"rpc eth_call success", m.RPCRequests.WithLabelValues("eth_call", "success"), 1},
		{"rpc eth_call error", m.RPCRequests.WithLabelValues("eth_call", "error"), 1},
		{"rpc other", m.RPCRequests.WithLabelValues("other", "success"), 1},
		{"swap success", m.Actions.WithLabelValues("swap", "success"), 1},
		{"swap error", m.Actions.WithLabelValues("swap", "error"), 1},
		{"quote failures", m.QuoteFailures.WithLabelValues("swap"), 1},
		{"debug lines", m.DebugLogLines, 2},
	}
	for _, c := range checks {
		if got := counterValue(t, c.c); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var series int
	for _, f := range families {
		if f.GetName() == "dexkit_tx_confirm_latency_seconds" {
			series = len(f.GetMetric())
		}
	}
	if series != 1 {
		t.Errorf("confirm latency series = %d, want 1", series)
	}
}

func TestNewPrometheusMetricsDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewPrometheusMetrics(reg)
}

func TestConfirmStatsEmpty(t *testing.T) {
	if got := NewConfirmStats(0).Stats(); got != nil {
		t.Errorf("Stats() = %+v, want nil", got)
	}
}

func TestConfirmStats(t *testing.T) {
	s := NewConfirmStats(4)
	for _, ms := range []int{100, 200, 300, 400, 500} {
		s.Add(time.Duration(ms) * time.Millisecond)
	}

	got := s.Stats()
	if got.Count != 5 {
		t.Errorf("Count = %d, want 5", got.Count)
	}
	if got.Window != 4 {
		t.Errorf("Window = %d, want 4", got.Window)
	}
	if got.MinMs != 100 || got.MaxMs != 500 {
		t.Errorf("Min, Max = %v, %v; want all-time 100, 500", got.MinMs, got.MaxMs)
	}
	// Window holds 200..500 after the first sample is evicted.
	if got.AvgMs != 350 {
		t.Errorf("AvgMs = %v, want 350", got.AvgMs)
	}
	if got.P50Ms != 350 {
		t.Errorf("P50Ms = %v, want 350", got.P50Ms)
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 0.5, 0},
		{"single", []float64{7}, 0.95, 7},
		{"median of two", []float64{10, 20}, 0.5, 15},
		{"top", []float64{1, 2, 3}, 1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentile(tt.sorted, tt.p); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("percentile(%v, %v) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}
