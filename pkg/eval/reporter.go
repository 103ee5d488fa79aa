package eval

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Reporter formats and outputs evaluation results.
type Reporter struct {
	writer io.Writer
}

// NewReporter creates a new reporter that writes to the given writer.
func NewReporter(w io.Writer) *Reporter {
	if w == nil {
		w = os.Stdout
	}
	return &Reporter{writer: w}
}

// PrintSummary prints a human-readable summary of results.
func (r *Reporter) PrintSummary(result *Result) {
	w := r.writer

	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           Kvasir Recommendation Evaluation Results             ║")
	fmt.Fprintln(w, "╚════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)

	// Summary
	statusIcon := "✅"
	if !result.Passed {
		statusIcon = "❌"
	}
	fmt.Fprintf(w, "%s Verdict: %s\n", statusIcon, verdict(result.Passed))
	fmt.Fprintf(w, "📅 Time:  %s\n", result.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "⏱️  Duration: %v\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "👥 Users evaluated: %d | Pairs compared: %d | Items recommended: %d/%d\n",
		result.UsersEvaluated, result.PairsCompared, result.ItemsRecommended, result.CatalogSize)
	fmt.Fprintln(w)

	// Metrics
	fmt.Fprintln(w, "┌─────────────────────────────────────────────────────────────────┐")
	fmt.Fprintln(w, "│                     Quality Metrics                             │")
	fmt.Fprintln(w, "├─────────────────────────────────────────────────────────────────┤")

	r.printErrorRow(w, "RMSE", result.Metrics.RMSE, result.Thresholds.RMSE)
	r.printErrorRow(w, "MAE", result.Metrics.MAE, -1)
	fmt.Fprintln(w, "├─────────────────────────────────────────────────────────────────┤")
	r.printMetricRow(w, fmt.Sprintf("Precision@%d", result.Options.K), result.Metrics.PrecisionK, result.Thresholds.PrecisionK)
	r.printMetricRow(w, "Hit Rate", result.Metrics.HitRate, result.Thresholds.HitRate)
	fmt.Fprintln(w, "├─────────────────────────────────────────────────────────────────┤")
	r.printMetricRow(w, "Coverage", result.Metrics.Coverage, result.Thresholds.Coverage)
	r.printMetricRow(w, "Diversity", result.Metrics.ClusterDiversity, -1)

	fmt.Fprintln(w, "└─────────────────────────────────────────────────────────────────┘")
	fmt.Fprintln(w)
}

// printMetricRow prints a 0-1 metric with a bar and optional lower bound.
func (r *Reporter) printMetricRow(w io.Writer, name string, value float64, threshold float64) {
	bar := r.progressBar(value, 20)
	status := " "
	if threshold >= 0 {
		if value >= threshold {
			status = "✓"
		} else {
			status = "✗"
		}
	}

	threshStr := ""
	if threshold >= 0 {
		threshStr = fmt.Sprintf(" (target: ≥%.2f)", threshold)
	}

	fmt.Fprintf(w, "│ %s %-14s %s %.3f%s\n", status, name, bar, value, threshStr)
}

// printErrorRow prints an unbounded error metric with an optional upper
// bound. Error metrics get no bar; they are not on a 0-1 scale.
func (r *Reporter) printErrorRow(w io.Writer, name string, value float64, threshold float64) {
	status := " "
	if threshold >= 0 {
		if value <= threshold {
			status = "✓"
		} else {
			status = "✗"
		}
	}

	threshStr := ""
	if threshold >= 0 {
		threshStr = fmt.Sprintf(" (target: ≤%.2f)", threshold)
	}

	fmt.Fprintf(w, "│ %s %-14s %.3f%s\n", status, name, value, threshStr)
}

// progressBar creates a visual progress bar.
func (r *Reporter) progressBar(value float64, width int) string {
	filled := int(value * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("[%s]", bar)
}

// PrintJSON outputs results as JSON.
func (r *Reporter) PrintJSON(result *Result) error {
	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// SaveJSON saves results to a JSON file.
func (r *Reporter) SaveJSON(result *Result, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// PrintCompact prints a one-line summary.
func (r *Reporter) PrintCompact(result *Result) {
	fmt.Fprintf(r.writer, "[%s] RMSE=%.2f MAE=%.2f P@%d=%.2f HitRate=%.2f Coverage=%.2f Diversity=%.2f | %d users | %v\n",
		verdict(result.Passed),
		result.Metrics.RMSE,
		result.Metrics.MAE,
		result.Options.K,
		result.Metrics.PrecisionK,
		result.Metrics.HitRate,
		result.Metrics.Coverage,
		result.Metrics.ClusterDiversity,
		result.UsersEvaluated,
		result.Duration.Round(time.Millisecond),
	)
}

func verdict(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}
