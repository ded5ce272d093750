// Package report renders a finished run: a text summary for humans and an
// optional JSON file with the complete result.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/botsurge/botsurge/internal/metrics"
	"github.com/botsurge/botsurge/internal/runner"
)

// WriteText prints the human-readable summary to w.
func WriteText(w io.Writer, result *runner.RunResult) error {
	var b strings.Builder

	fmt.Fprintf(&b, "run %s  status=%s  elapsed=%s\n", result.RunID, result.Status, result.Elapsed.Round(time.Millisecond))
	b.WriteString("\n")

	names := make([]string, 0, len(result.Metrics))
	for name := range result.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		agg := result.Metrics[name]
		fmt.Fprintf(&b, "  %-24s %s\n", name, formatAggregate(agg))
	}

	if len(result.Thresholds) > 0 {
		b.WriteString("\nthresholds:\n")
		for _, out := range result.Thresholds {
			mark := "PASS"
			if !out.Pass {
				mark = "FAIL"
			}
			detail := fmt.Sprintf("actual=%s", formatValue(out.Actual))
			if out.NoData {
				detail = "no data"
			}
			fmt.Fprintf(&b, "  %s  %s: %s  (%s)\n", mark, out.Spec.Metric, out.Spec.Expr, detail)
		}
	}

	verdict := "FAILED"
	if result.Passed() {
		verdict = "PASSED"
	}
	fmt.Fprintf(&b, "\nresult: %s\n", verdict)

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON writes the complete result to path, indented so the file is
// diffable between runs.
func WriteJSON(path string, result *runner.RunResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func formatAggregate(agg metrics.Aggregate) string {
	switch agg.Kind {
	case metrics.Counter:
		return fmt.Sprintf("count=%s", formatValue(agg.Sum))
	case metrics.Rate:
		return fmt.Sprintf("rate=%.2f%%  passes=%d/%d", agg.Rate*100, agg.Passes, agg.Count)
	case metrics.Gauge:
		return fmt.Sprintf("value=%s  min=%s  max=%s", formatValue(agg.Value), formatValue(agg.Min), formatValue(agg.Max))
	case metrics.Trend:
		if agg.Count == 0 {
			return "no samples"
		}
		return fmt.Sprintf("avg=%sms  min=%sms  max=%sms  p50=%sms  p90=%sms  p95=%sms  p99=%sms",
			formatValue(agg.Mean), formatValue(agg.Min), formatValue(agg.Max),
			formatValue(agg.P50), formatValue(agg.P90), formatValue(agg.P95), formatValue(agg.P99))
	default:
		return ""
	}
}

// formatValue trims trailing zeros so counters print as integers.
func formatValue(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
