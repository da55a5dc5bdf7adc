package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

type GatewayStats struct {
	Operation string  `json:"operation"`
	Samples   int     `json:"samples"`
	LastMS    float64 `json:"last_ms"`
	AvgMS     float64 `json:"avg_ms"`
	P50MS     float64 `json:"p50_ms"`
	P95MS     float64 `json:"p95_ms"`
	BudgetMS  float64 `json:"budget_ms,omitempty"`
}

type ResultCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type GatewaySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Operations  []GatewayStats `json:"operations"`
	Results     []ResultCount  `json:"results,omitempty"`
}

// latencyWindow keeps the last maxSamples attempt latencies per operation in a ring.
type latencyWindow struct {
	mu         sync.RWMutex
	maxSamples int
	ops        map[string]*ring
	results    map[string]int
	budgets    map[string]float64
}

type ring struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func newLatencyWindow(maxSamples int) *latencyWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &latencyWindow{
		maxSamples: maxSamples,
		ops:        make(map[string]*ring),
		results:    make(map[string]int),
		budgets:    make(map[string]float64),
	}
}

// SetBudget records the configured per-attempt timeout for an operation so snapshots can show it.
func (m *Metrics) SetBudget(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.window.mu.Lock()
	defer m.window.mu.Unlock()
	m.window.budgets[op] = float64(d.Milliseconds())
}

func (w *latencyWindow) Observe(op string, ms float64) {
	if op == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	r, ok := w.ops[op]
	if !ok {
		r = &ring{values: make([]float64, w.maxSamples)}
		w.ops[op] = r
	}
	r.values[r.next] = ms
	r.last = ms
	r.next++
	if r.next >= len(r.values) {
		r.next = 0
		r.filled = true
	}
}

func (w *latencyWindow) ObserveResult(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.results[name]++
}

func (w *latencyWindow) Snapshot() GatewaySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.ops))
	for op := range w.ops {
		keys = append(keys, op)
	}
	sort.Strings(keys)

	ops := make([]GatewayStats, 0, len(keys))
	for _, op := range keys {
		r := w.ops[op]
		n := r.next
		if r.filled {
			n = len(r.values)
		}
		if n == 0 {
			continue
		}
		samples := make([]float64, n)
		copy(samples, r.values[:n])
		sort.Float64s(samples)
		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		ops = append(ops, GatewayStats{
			Operation: op,
			Samples:   n,
			LastMS:    round2(r.last),
			AvgMS:     round2(sum / float64(n)),
			P50MS:     round2(quantile(samples, 0.50)),
			P95MS:     round2(quantile(samples, 0.95)),
			BudgetMS:  w.budgets[op],
		})
	}

	names := make([]string, 0, len(w.results))
	for name := range w.results {
		names = append(names, name)
	}
	sort.Strings(names)
	results := make([]ResultCount, 0, len(names))
	for _, name := range names {
		results = append(results, ResultCount{Name: name, Count: w.results[name]})
	}

	return GatewaySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Operations:  ops,
		Results:     results,
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
