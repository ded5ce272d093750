// Package threshold parses and evaluates pass/fail SLA predicates over
// metric aggregates, e.g. "p95 < 500ms" or "rate < 0.01".
package threshold

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/botsurge/botsurge/internal/metrics"
)

// Spec is one SLA rule as read from the scenario file. Specs are held as a
// list, not a metric-keyed map: several rules may target the same metric
// without silently overwriting each other.
type Spec struct {
	Metric      string `yaml:"metric" json:"metric"`
	Expr        string `yaml:"expr" json:"expr"`
	AbortOnFail bool   `yaml:"abort_on_fail" json:"abort_on_fail"`
}

// Threshold is a compiled Spec.
type Threshold struct {
	Spec
	agg string
	op  string
	val float64
}

// Outcome is the evaluation of one threshold against a snapshot.
type Outcome struct {
	Spec   Spec    `json:"spec"`
	Pass   bool    `json:"pass"`
	Actual float64 `json:"actual"`
	// NoData is true when the metric had no samples yet; the threshold
	// passes vacuously in that case.
	NoData bool `json:"no_data,omitempty"`
}

var validAggs = map[string]bool{
	"count": true, "sum": true, "min": true, "max": true,
	"avg": true, "mean": true, "med": true,
	"p50": true, "p90": true, "p95": true, "p99": true,
	"rate": true, "value": true,
}

var validOps = []string{"<=", ">=", "==", "!=", "<", ">"}

// Compile parses a Spec's predicate expression. The grammar is
// "<aggregate> <operator> <value>" where value is a bare number, a duration
// ("500ms", "1.5s", converted to milliseconds) or a percentage ("1%").
func Compile(s Spec) (*Threshold, error) {
	if s.Metric == "" {
		return nil, fmt.Errorf("threshold: metric name is required")
	}
	expr := strings.TrimSpace(s.Expr)
	if expr == "" {
		return nil, fmt.Errorf("threshold for %q: expr is required", s.Metric)
	}

	var op string
	var idx int
	for _, candidate := range validOps {
		if i := strings.Index(expr, candidate); i > 0 {
			op = candidate
			idx = i
			break
		}
	}
	if op == "" {
		return nil, fmt.Errorf("threshold for %q: no operator in %q (use < <= > >= == !=)", s.Metric, expr)
	}

	agg := strings.TrimSpace(expr[:idx])
	if !validAggs[agg] {
		return nil, fmt.Errorf("threshold for %q: unknown aggregate %q", s.Metric, agg)
	}

	raw := strings.TrimSpace(expr[idx+len(op):])
	val, err := parseValue(raw)
	if err != nil {
		return nil, fmt.Errorf("threshold for %q: %w", s.Metric, err)
	}

	return &Threshold{Spec: s, agg: agg, op: op, val: val}, nil
}

// CompileAll compiles every spec, failing on the first invalid one.
func CompileAll(specs []Spec) ([]*Threshold, error) {
	out := make([]*Threshold, 0, len(specs))
	for _, s := range specs {
		th, err := Compile(s)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, nil
}

func parseValue(raw string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing comparison value")
	}
	if strings.HasSuffix(raw, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid percentage %q", raw)
		}
		return pct / 100, nil
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v, nil
	}
	// Durations compare against Trend milliseconds.
	if d, err := time.ParseDuration(raw); err == nil {
		return float64(d) / float64(time.Millisecond), nil
	}
	return 0, fmt.Errorf("invalid comparison value %q", raw)
}

// Evaluate applies the predicate to a snapshot. Evaluation is a pure function
// of the snapshot: same input, same outcome. A metric with no recorded
// samples yields a vacuous pass so thresholds do not fail before traffic
// starts.
func (t *Threshold) Evaluate(snap map[string]metrics.Aggregate) Outcome {
	agg, ok := snap[t.Metric]
	if !ok || agg.Count == 0 {
		return Outcome{Spec: t.Spec, Pass: true, NoData: true}
	}

	actual := t.extract(agg)
	return Outcome{Spec: t.Spec, Pass: compare(actual, t.op, t.val), Actual: actual}
}

func (t *Threshold) extract(agg metrics.Aggregate) float64 {
	switch t.agg {
	case "count":
		return float64(agg.Count)
	case "sum":
		return agg.Sum
	case "min":
		return agg.Min
	case "max":
		return agg.Max
	case "avg", "mean":
		return agg.Mean
	case "med", "p50":
		return agg.P50
	case "p90":
		return agg.P90
	case "p95":
		return agg.P95
	case "p99":
		return agg.P99
	case "rate":
		return agg.Rate
	case "value":
		return agg.Value
	default:
		return 0
	}
}

func compare(actual float64, op string, want float64) bool {
	switch op {
	case "<":
		return actual < want
	case "<=":
		return actual <= want
	case ">":
		return actual > want
	case ">=":
		return actual >= want
	case "==":
		return actual == want
	case "!=":
		return actual != want
	default:
		return false
	}
}

// EvaluateAll evaluates every threshold against one snapshot.
func EvaluateAll(ths []*Threshold, snap map[string]metrics.Aggregate) []Outcome {
	out := make([]Outcome, 0, len(ths))
	for _, t := range ths {
		out = append(out, t.Evaluate(snap))
	}
	return out
}
