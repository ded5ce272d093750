// Package metrics aggregates per-iteration observations into streaming
// counters, rates and latency trends without retaining raw samples.
package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// Kind classifies how a metric's samples are aggregated.
type Kind int

const (
	// Counter accumulates a running sum.
	Counter Kind = iota
	// Rate tracks the fraction of truthy (nonzero) samples.
	Rate
	// Trend tracks distributional statistics with quantile estimates.
	// Trend values are milliseconds.
	Trend
	// Gauge holds the most recent value.
	Gauge
)

func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Rate:
		return "rate"
	case Trend:
		return "trend"
	case Gauge:
		return "gauge"
	default:
		return "unknown"
	}
}

// Sample is one observation emitted by an iteration.
type Sample struct {
	Metric string            `json:"metric"`
	Value  float64           `json:"value"`
	Tags   map[string]string `json:"tags,omitempty"`
	Time   time.Time         `json:"time"`
}

// Trend histograms cover 1 microsecond to 10 minutes at 3 significant figures.
const (
	histMin = int64(1)
	histMax = int64(10 * time.Minute / time.Microsecond)
)

type trendAgg struct {
	count int64
	sum   float64
	min   float64
	max   float64
	hist  *hdrhistogram.Histogram
}

type rateAgg struct {
	passes int64
	total  int64
}

type counterAgg struct {
	count int64
	sum   float64
}

type gaugeAgg struct {
	count int64
	value float64
	min   float64
	max   float64
}

// Registry collects samples for a single run. Record is safe for concurrent
// use; Snapshot copies aggregates under the lock and releases it before any
// caller-side work.
type Registry struct {
	mu       sync.Mutex
	kinds    map[string]Kind
	counters map[string]*counterAgg
	rates    map[string]*rateAgg
	trends   map[string]*trendAgg
	gauges   map[string]*gaugeAgg
	ring     *SampleRing // nil unless raw retention is enabled
}

// NewRegistry creates an empty registry. rawCapacity > 0 enables a bounded
// ring of recent raw samples for export.
func NewRegistry(rawCapacity int) *Registry {
	r := &Registry{
		kinds:    make(map[string]Kind),
		counters: make(map[string]*counterAgg),
		rates:    make(map[string]*rateAgg),
		trends:   make(map[string]*trendAgg),
		gauges:   make(map[string]*gaugeAgg),
	}
	if rawCapacity > 0 {
		r.ring = NewSampleRing(rawCapacity)
	}
	return r
}

// Declare registers a metric name with its kind. Redeclaring a name with a
// different kind is an error; samples for undeclared metrics are rejected so
// a typo in a check or threshold name surfaces instead of silently vanishing.
func (r *Registry) Declare(name string, kind Kind) error {
	if name == "" {
		return fmt.Errorf("metric name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.kinds[name]; ok {
		if existing != kind {
			return fmt.Errorf("metric %q already declared as %s, cannot redeclare as %s", name, existing, kind)
		}
		return nil
	}
	r.kinds[name] = kind
	switch kind {
	case Counter:
		r.counters[name] = &counterAgg{}
	case Rate:
		r.rates[name] = &rateAgg{}
	case Gauge:
		r.gauges[name] = &gaugeAgg{}
	case Trend:
		r.trends[name] = &trendAgg{hist: hdrhistogram.New(histMin, histMax, 3)}
	}
	return nil
}

// Record folds one sample into its metric's aggregate.
func (r *Registry) Record(s Sample) error {
	r.mu.Lock()
	kind, ok := r.kinds[s.Metric]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("sample for undeclared metric %q", s.Metric)
	}

	switch kind {
	case Counter:
		ca := r.counters[s.Metric]
		ca.count++
		ca.sum += s.Value
	case Gauge:
		ga := r.gauges[s.Metric]
		if ga.count == 0 || s.Value < ga.min {
			ga.min = s.Value
		}
		if ga.count == 0 || s.Value > ga.max {
			ga.max = s.Value
		}
		ga.count++
		ga.value = s.Value
	case Rate:
		ra := r.rates[s.Metric]
		ra.total++
		if s.Value != 0 {
			ra.passes++
		}
	case Trend:
		ta := r.trends[s.Metric]
		if ta.count == 0 || s.Value < ta.min {
			ta.min = s.Value
		}
		if ta.count == 0 || s.Value > ta.max {
			ta.max = s.Value
		}
		ta.count++
		ta.sum += s.Value
		// Histogram stores microseconds; values outside its range are
		// clamped rather than dropped so counts stay exact.
		us := int64(s.Value * 1000)
		if us < histMin {
			us = histMin
		}
		if us > histMax {
			us = histMax
		}
		ta.hist.RecordValue(us)
	}
	ring := r.ring
	r.mu.Unlock()

	if ring != nil {
		ring.Add(s)
	}
	return nil
}

// Aggregate is an immutable view of one metric's state at snapshot time.
// Trend statistics and percentiles are milliseconds.
type Aggregate struct {
	Kind  Kind    `json:"kind"`
	Count int64   `json:"count"`
	Sum   float64 `json:"sum,omitempty"`
	Min   float64 `json:"min,omitempty"`
	Max   float64 `json:"max,omitempty"`
	Mean  float64 `json:"mean,omitempty"`
	P50   float64 `json:"p50,omitempty"`
	P90   float64 `json:"p90,omitempty"`
	P95   float64 `json:"p95,omitempty"`
	P99   float64 `json:"p99,omitempty"`
	// Rate fields: Passes counts truthy samples out of Count.
	Passes int64   `json:"passes,omitempty"`
	Rate   float64 `json:"rate,omitempty"`
	// Gauge value.
	Value float64 `json:"value,omitempty"`
}

// Snapshot returns a copy of all aggregates. Quantiles are materialized here
// so the returned map needs no further synchronization.
func (r *Registry) Snapshot() map[string]Aggregate {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Aggregate, len(r.kinds))
	for name, kind := range r.kinds {
		switch kind {
		case Counter:
			ca := r.counters[name]
			out[name] = Aggregate{Kind: Counter, Count: ca.count, Sum: ca.sum, Value: ca.sum}
		case Gauge:
			ga := r.gauges[name]
			out[name] = Aggregate{Kind: Gauge, Count: ga.count, Value: ga.value, Min: ga.min, Max: ga.max}
		case Rate:
			ra := r.rates[name]
			agg := Aggregate{Kind: Rate, Count: ra.total, Passes: ra.passes}
			if ra.total > 0 {
				agg.Rate = float64(ra.passes) / float64(ra.total)
			}
			out[name] = agg
		case Trend:
			ta := r.trends[name]
			agg := Aggregate{Kind: Trend, Count: ta.count, Sum: ta.sum, Min: ta.min, Max: ta.max}
			if ta.count > 0 {
				agg.Mean = ta.sum / float64(ta.count)
				agg.P50 = float64(ta.hist.ValueAtQuantile(50)) / 1000
				agg.P90 = float64(ta.hist.ValueAtQuantile(90)) / 1000
				agg.P95 = float64(ta.hist.ValueAtQuantile(95)) / 1000
				agg.P99 = float64(ta.hist.ValueAtQuantile(99)) / 1000
			}
			out[name] = agg
		}
	}
	return out
}

// Names returns all declared metric names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.kinds))
	for n := range r.kinds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RawSamples returns the retained raw samples, oldest first, or nil when raw
// retention is disabled.
func (r *Registry) RawSamples() []Sample {
	if r.ring == nil {
		return nil
	}
	return r.ring.Samples()
}
