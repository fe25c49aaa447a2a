package telemetry

import (
	"testing"
	"time"
)

func TestRecorderAggregates(t *testing.T) {
	r := NewRecorder()

	for i := 0; i < 9; i++ {
		r.ObserveOperation("search_runbooks", 10*time.Millisecond, true)
	}
	r.ObserveOperation("search_runbooks", 100*time.Millisecond, false)

	report := r.Snapshot()
	stats, ok := report.Operations["search_runbooks"]
	if !ok {
		t.Fatal("missing operation aggregate")
	}
	if stats.Count != 10 {
		t.Fatalf("count = %d", stats.Count)
	}
	if stats.SuccessRate != 0.9 {
		t.Fatalf("success rate = %v", stats.SuccessRate)
	}
	if stats.AvgMS != 19 {
		t.Fatalf("avg = %v", stats.AvgMS)
	}
	// Nearest-rank p95 of nine 10ms samples and one 100ms sample.
	if stats.P95MS != 100 {
		t.Fatalf("p95 = %v", stats.P95MS)
	}
	if report.UptimeSeconds < 0 || report.Goroutines <= 0 {
		t.Fatalf("bad process stats %+v", report)
	}
}

func TestRecorderReservoirBounded(t *testing.T) {
	r := NewRecorder()
	for i := 0; i < reservoirSize+100; i++ {
		r.ObserveOperation("get_procedure", time.Millisecond, true)
	}

	r.mu.Lock()
	n := len(r.ops["get_procedure"].samples)
	r.mu.Unlock()
	if n != reservoirSize {
		t.Fatalf("reservoir grew to %d", n)
	}
}

func TestPercentileEdgeCases(t *testing.T) {
	if got := percentile(nil, 0.95); got != 0 {
		t.Fatalf("empty percentile = %v", got)
	}
	if got := percentile([]float64{5}, 0.99); got != 5 {
		t.Fatalf("single-sample percentile = %v", got)
	}
	samples := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(samples, 0.5); got != 5 {
		t.Fatalf("median = %v", got)
	}
}
