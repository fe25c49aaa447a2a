package telemetry

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// reservoirSize bounds retained latency samples per operation. Old
// samples are overwritten ring-style, so percentiles track recent
// traffic rather than process lifetime.
const reservoirSize = 512

// OperationStats is the aggregate for one operation.
type OperationStats struct {
	Count       int64   `json:"count"`
	SuccessRate float64 `json:"success_rate"`
	AvgMS       float64 `json:"avg_latency_ms"`
	P95MS       float64 `json:"p95_latency_ms"`
	P99MS       float64 `json:"p99_latency_ms"`
}

// Report is the performance snapshot served over HTTP.
type Report struct {
	UptimeSeconds  float64                   `json:"uptime_seconds"`
	Goroutines     int                       `json:"goroutines"`
	HeapAllocBytes uint64                    `json:"heap_alloc_bytes"`
	HeapSysBytes   uint64                    `json:"heap_sys_bytes"`
	NumGC          uint32                    `json:"num_gc"`
	Operations     map[string]OperationStats `json:"operations"`
}

type opStats struct {
	count     int64
	successes int64
	total     time.Duration
	samples   []float64
	next      int
}

// Recorder aggregates per-operation latency in process and mirrors
// each observation to the OpenTelemetry meter.
type Recorder struct {
	mu      sync.Mutex
	started time.Time
	ops     map[string]*opStats

	counter metric.Int64Counter
	latency metric.Float64Histogram
}

// NewRecorder creates an empty recorder bound to the global meter.
func NewRecorder() *Recorder {
	meter := otel.Meter("runbookd")
	counter, _ := meter.Int64Counter("runbookd.operations",
		metric.WithDescription("Completed operations by name and result"))
	latency, _ := meter.Float64Histogram("runbookd.operation.duration",
		metric.WithDescription("Operation latency"),
		metric.WithUnit("ms"))
	return &Recorder{
		started: time.Now(),
		ops:     make(map[string]*opStats),
		counter: counter,
		latency: latency,
	}
}

// ObserveOperation records one completed operation.
func (r *Recorder) ObserveOperation(op string, d time.Duration, success bool) {
	ms := float64(d.Microseconds()) / 1000.0

	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.Bool("success", success),
	)
	ctx := context.Background()
	r.counter.Add(ctx, 1, attrs)
	r.latency.Record(ctx, ms, attrs)

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.ops[op]
	if !ok {
		s = &opStats{samples: make([]float64, 0, reservoirSize)}
		r.ops[op] = s
	}
	s.count++
	if success {
		s.successes++
	}
	s.total += d
	if len(s.samples) < reservoirSize {
		s.samples = append(s.samples, ms)
	} else {
		s.samples[s.next] = ms
		s.next = (s.next + 1) % reservoirSize
	}
}

// Snapshot returns the current aggregates plus process stats.
func (r *Recorder) Snapshot() Report {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	r.mu.Lock()
	defer r.mu.Unlock()

	ops := make(map[string]OperationStats, len(r.ops))
	for name, s := range r.ops {
		stat := OperationStats{Count: s.count}
		if s.count > 0 {
			stat.SuccessRate = float64(s.successes) / float64(s.count)
			stat.AvgMS = float64(s.total.Microseconds()) / 1000.0 / float64(s.count)
		}
		stat.P95MS = percentile(s.samples, 0.95)
		stat.P99MS = percentile(s.samples, 0.99)
		ops[name] = stat
	}

	return Report{
		UptimeSeconds:  time.Since(r.started).Seconds(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
		HeapSysBytes:   mem.HeapSys,
		NumGC:          mem.NumGC,
		Operations:     ops,
	}
}

// percentile computes the nearest-rank percentile of the samples.
func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
