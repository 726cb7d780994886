package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gateway-fm/dexkit/pkg/types"
)

// DefaultWindow is how many recent samples ConfirmStats keeps.
const DefaultWindow = 256

// ConfirmStats summarizes send-to-receipt latency over a sliding window of
// recent transactions, plus all-time count, min and max.
type ConfirmStats struct {
	mu sync.Mutex

	count int64
	min   float64
	max   float64

	window []float64
	next   int
	size   int
}

// NewConfirmStats creates a ConfirmStats keeping the last window samples.
func NewConfirmStats(window int) *ConfirmStats {
	if window <= 0 {
		window = DefaultWindow
	}
	return &ConfirmStats{
		min:    math.MaxFloat64,
		window: make([]float64, 0, window),
		size:   window,
	}
}

// Add records one latency.
func (s *ConfirmStats) Add(took time.Duration) {
	ms := float64(took) / float64(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.min = min(s.min, ms)
	s.max = max(s.max, ms)

	if len(s.window) < s.size {
		s.window = append(s.window, ms)
		return
	}
	s.window[s.next] = ms
	s.next = (s.next + 1) % s.size
}

// Stats returns the current summary, or nil before the first sample.
func (s *ConfirmStats) Stats() *types.LatencyStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return nil
	}

	sorted := make([]float64, len(s.window))
	copy(sorted, s.window)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return &types.LatencyStats{
		Count:  s.count,
		Window: len(sorted),
		MinMs:  s.min,
		MaxMs:  s.max,
		AvgMs:  sum / float64(len(sorted)),
		P50Ms:  percentile(sorted, 0.50),
		P95Ms:  percentile(sorted, 0.95),
	}
}

// percentile interpolates the p-th percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}
