package metrics

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestDeclareAndKinds(t *testing.T) {
	r := NewRegistry(0)

	if err := r.Declare("iterations", Counter); err != nil {
		t.Fatalf("Declare() error: %v", err)
	}
	// Redeclaring with the same kind is a no-op.
	if err := r.Declare("iterations", Counter); err != nil {
		t.Errorf("redeclare same kind error: %v", err)
	}
	// Redeclaring with a different kind must fail.
	if err := r.Declare("iterations", Trend); err == nil {
		t.Error("redeclare with different kind: expected error")
	}
	if err := r.Declare("", Counter); err == nil {
		t.Error("empty name: expected error")
	}
}

func TestRecordUndeclaredMetric(t *testing.T) {
	r := NewRegistry(0)
	err := r.Record(Sample{Metric: "nope", Value: 1})
	if err == nil {
		t.Fatal("Record() for undeclared metric: expected error")
	}
}

func TestCounterAggregation(t *testing.T) {
	r := NewRegistry(0)
	r.Declare("bytes", Counter)

	for _, v := range []float64{10, 20, 0.5} {
		if err := r.Record(Sample{Metric: "bytes", Value: v}); err != nil {
			t.Fatal(err)
		}
	}

	agg := r.Snapshot()["bytes"]
	if agg.Sum != 30.5 {
		t.Errorf("counter sum = %v, want 30.5", agg.Sum)
	}
}

func TestRateAggregation(t *testing.T) {
	r := NewRegistry(0)
	r.Declare("error_rate", Rate)

	// 3 truthy out of 4.
	for _, v := range []float64{1, 1, 0, 1} {
		r.Record(Sample{Metric: "error_rate", Value: v})
	}

	agg := r.Snapshot()["error_rate"]
	if agg.Count != 4 {
		t.Errorf("rate count = %d, want 4", agg.Count)
	}
	if agg.Passes != 3 {
		t.Errorf("rate passes = %d, want 3", agg.Passes)
	}
	if agg.Rate != 0.75 {
		t.Errorf("rate = %v, want 0.75", agg.Rate)
	}
}

func TestTrendAggregation(t *testing.T) {
	r := NewRegistry(0)
	r.Declare("request_duration", Trend)

	values := []float64{100, 200, 300, 400, 500}
	for _, v := range values {
		r.Record(Sample{Metric: "request_duration", Value: v, Time: time.Now()})
	}

	agg := r.Snapshot()["request_duration"]
	if agg.Count != 5 {
		t.Errorf("trend count = %d, want 5", agg.Count)
	}
	if agg.Min != 100 {
		t.Errorf("trend min = %v, want 100", agg.Min)
	}
	if agg.Max != 500 {
		t.Errorf("trend max = %v, want 500", agg.Max)
	}
	if agg.Mean != 300 {
		t.Errorf("trend mean = %v, want 300", agg.Mean)
	}
	// HDR histogram at 3 significant figures: p50 within 1% of 300ms.
	if math.Abs(agg.P50-300) > 3 {
		t.Errorf("trend p50 = %v, want ~300", agg.P50)
	}
	if agg.P99 < agg.P50 {
		t.Errorf("p99 (%v) < p50 (%v)", agg.P99, agg.P50)
	}
}

func TestTrendCountOrderIndependent(t *testing.T) {
	const (
		workers    = 8
		perWorker  = 500
		wantTotal  = workers * perWorker
		metricName = "iteration_duration"
	)

	r := NewRegistry(0)
	r.Declare(metricName, Trend)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				v := float64((seed*perWorker+i)%997) + 1
				r.Record(Sample{Metric: metricName, Value: v})
			}
		}(w)
	}
	wg.Wait()

	agg := r.Snapshot()[metricName]
	if agg.Count != wantTotal {
		t.Errorf("concurrent trend count = %d, want %d", agg.Count, wantTotal)
	}
	if agg.Min != 1 {
		t.Errorf("concurrent trend min = %v, want 1", agg.Min)
	}
	if agg.Max != 997 {
		t.Errorf("concurrent trend max = %v, want 997", agg.Max)
	}
}

func TestGauge(t *testing.T) {
	r := NewRegistry(0)
	r.Declare("vus", Gauge)

	r.Record(Sample{Metric: "vus", Value: 3})
	r.Record(Sample{Metric: "vus", Value: 7})
	r.Record(Sample{Metric: "vus", Value: 5})

	agg := r.Snapshot()["vus"]
	if agg.Value != 5 {
		t.Errorf("gauge value = %v, want 5 (last write wins)", agg.Value)
	}
	if agg.Min != 3 || agg.Max != 7 {
		t.Errorf("gauge min/max = %v/%v, want 3/7", agg.Min, agg.Max)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	r := NewRegistry(0)
	r.Declare("iterations", Counter)
	r.Record(Sample{Metric: "iterations", Value: 1})

	snap := r.Snapshot()
	r.Record(Sample{Metric: "iterations", Value: 1})

	if snap["iterations"].Sum != 1 {
		t.Errorf("snapshot mutated by later Record: sum = %v, want 1", snap["iterations"].Sum)
	}
	if r.Snapshot()["iterations"].Sum != 2 {
		t.Errorf("registry sum = %v, want 2", r.Snapshot()["iterations"].Sum)
	}
}

func TestNames(t *testing.T) {
	r := NewRegistry(0)
	r.Declare("b", Counter)
	r.Declare("a", Rate)
	r.Declare("c", Trend)

	names := r.Names()
	want := []string{"a", "b", "c"}
	if len(names) != len(want) {
		t.Fatalf("Names() len = %d, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestRawSampleRetention(t *testing.T) {
	r := NewRegistry(3)
	r.Declare("request_duration", Trend)

	for i := 1; i <= 5; i++ {
		r.Record(Sample{Metric: "request_duration", Value: float64(i)})
	}

	raw := r.RawSamples()
	if len(raw) != 3 {
		t.Fatalf("raw samples len = %d, want 3", len(raw))
	}
	// Oldest first, only the 3 most recent retained.
	for i, want := range []float64{3, 4, 5} {
		if raw[i].Value != want {
			t.Errorf("raw[%d].Value = %v, want %v", i, raw[i].Value, want)
		}
	}

	if NewRegistry(0).RawSamples() != nil {
		t.Error("RawSamples() with retention disabled should be nil")
	}
}
