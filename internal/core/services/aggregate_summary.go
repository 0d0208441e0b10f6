package services

import (
	"math"
	"sort"
	"sync"

	"statwindow/internal/core/domain"
)

// AggregateSummary keeps an unbounded sample history per metric and derives
// min/max/average by a full scan on every query.
type AggregateSummary struct {
	mu      sync.RWMutex
	samples map[domain.MetricKey][]float64
}

func NewAggregateSummary() *AggregateSummary {
	return &AggregateSummary{
		samples: make(map[domain.MetricKey][]float64),
	}
}

// Record appends a sample. Values are not checked for finiteness.
func (a *AggregateSummary) Record(key domain.MetricKey, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples[key] = append(a.samples[key], value)
}

// Summary returns min/max/avg of the key's history. NaN or infinite samples
// propagate into the result.
func (a *AggregateSummary) Summary(key domain.MetricKey) (domain.Summary, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	samples := a.samples[key]
	if len(samples) == 0 {
		return domain.Summary{}, false
	}

	lo, hi := samples[0], samples[0]
	sum := 0.0
	for _, v := range samples {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		sum += v
	}

	return domain.Summary{
		Min:   lo,
		Max:   hi,
		Avg:   sum / float64(len(samples)),
		Count: len(samples),
	}, true
}

// Samples returns a copy of the key's history in recording order.
func (a *AggregateSummary) Samples(key domain.MetricKey) []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]float64, len(a.samples[key]))
	copy(out, a.samples[key])
	return out
}

// Keys returns every metric with at least one sample, sorted.
func (a *AggregateSummary) Keys() []domain.MetricKey {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]domain.MetricKey, 0, len(a.samples))
	for k := range a.samples {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ResetKeys drops the history of the given metrics.
func (a *AggregateSummary) ResetKeys(keys ...domain.MetricKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, k := range keys {
		delete(a.samples, k)
	}
}

// Reset drops every history.
func (a *AggregateSummary) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples = make(map[domain.MetricKey][]float64)
}
