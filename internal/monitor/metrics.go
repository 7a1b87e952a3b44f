package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks API, ledger and upstream performance.
type SystemMetrics struct {
	// Latency histograms
	APILatency      *LatencyHistogram
	LedgerLatency   *LatencyHistogram
	UpstreamLatency *LatencyHistogram

	// Counters
	requests       atomic.Uint64
	errorsCount    atomic.Uint64
	tradesOpened   atomic.Uint64
	tradesClosed   atomic.Uint64
	ledgerRejects  atomic.Uint64
	upstreamCalls  atomic.Uint64
	upstreamErrors atomic.Uint64

	startedAt time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		APILatency:      NewLatencyHistogram(1000),
		LedgerLatency:   NewLatencyHistogram(1000),
		UpstreamLatency: NewLatencyHistogram(1000),
		startedAt:       time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// ObserveRequest records one served API request.
func (m *SystemMetrics) ObserveRequest(d time.Duration, status int) {
	m.requests.Add(1)
	if status >= 500 {
		m.errorsCount.Add(1)
	}
	m.APILatency.RecordDuration(d)
}

// ObserveUpstream records one quote provider call.
func (m *SystemMetrics) ObserveUpstream(d time.Duration, err error) {
	m.upstreamCalls.Add(1)
	if err != nil {
		m.upstreamErrors.Add(1)
	}
	m.UpstreamLatency.RecordDuration(d)
}

// ObserveLedger records one ledger mutation attempt.
func (m *SystemMetrics) ObserveLedger(d time.Duration, err error) {
	if err != nil {
		m.ledgerRejects.Add(1)
	}
	m.LedgerLatency.RecordDuration(d)
}

// IncrementTradesOpened counts a committed open.
func (m *SystemMetrics) IncrementTradesOpened() { m.tradesOpened.Add(1) }

// IncrementTradesClosed counts a committed close.
func (m *SystemMetrics) IncrementTradesClosed() { m.tradesClosed.Add(1) }

// MetricsSnapshot is a point-in-time view of SystemMetrics.
type MetricsSnapshot struct {
	APILatency      LatencyStats `json:"api_latency"`
	LedgerLatency   LatencyStats `json:"ledger_latency"`
	UpstreamLatency LatencyStats `json:"upstream_latency"`
	Requests        uint64       `json:"requests"`
	ErrorsCount     uint64       `json:"errors_count"`
	TradesOpened    uint64       `json:"trades_opened"`
	TradesClosed    uint64       `json:"trades_closed"`
	LedgerRejects   uint64       `json:"ledger_rejects"`
	UpstreamCalls   uint64       `json:"upstream_calls"`
	UpstreamErrors  uint64       `json:"upstream_errors"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	HeapSys         uint64       `json:"heap_sys_bytes"`
	Uptime          string       `json:"uptime"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		APILatency:      m.APILatency.Stats(),
		LedgerLatency:   m.LedgerLatency.Stats(),
		UpstreamLatency: m.UpstreamLatency.Stats(),
		Requests:        m.requests.Load(),
		ErrorsCount:     m.errorsCount.Load(),
		TradesOpened:    m.tradesOpened.Load(),
		TradesClosed:    m.tradesClosed.Load(),
		LedgerRejects:   m.ledgerRejects.Load(),
		UpstreamCalls:   m.upstreamCalls.Load(),
		UpstreamErrors:  m.upstreamErrors.Load(),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		HeapSys:         memStats.HeapSys,
		Uptime:          time.Since(m.startedAt).Round(time.Second).String(),
		Timestamp:       time.Now(),
	}
}
