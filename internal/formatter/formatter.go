package formatter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kyleking/askdb/internal/evaluation"
	"github.com/kyleking/askdb/internal/pipeline"
	"github.com/kyleking/askdb/internal/types"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// ParseOutputFormat accepts text or json; empty means text
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q: must be text or json", s)
	}
}

// DefaultMaxCellWidth bounds each rendered table cell
const DefaultMaxCellWidth = 40

// Formatter renders pipeline outcomes, validation verdicts and evaluation runs
type Formatter struct {
	MaxCellWidth int
}

// NewFormatter creates a new formatter instance
func NewFormatter() *Formatter {
	return &Formatter{MaxCellWidth: DefaultMaxCellWidth}
}

type outcomeJSON struct {
	*pipeline.Outcome
	Error string `json:"error,omitempty"`
}

// FormatOutcome renders everything one request produced
func (f *Formatter) FormatOutcome(out *pipeline.Outcome, format OutputFormat) string {
	if format == FormatJSON {
		doc := outcomeJSON{Outcome: out}
		if out.Err != nil {
			doc.Error = out.Err.Error()
		}

		return f.toJSON(doc)
	}

	if out.Halt == pipeline.HaltReset {
		return "Conversation reset."
	}

	var lines []string

	lines = append(lines, fmt.Sprintf("Intent: %s  Confidence: %s", out.Intent, out.Confidence))

	if out.Query != "" {
		lines = append(lines, "Query:", indent(out.Query))
	}

	if len(out.TablesUsed) > 0 {
		lines = append(lines, "Tables: "+strings.Join(out.TablesUsed, ", "))
	}

	if out.Refinement != nil && !out.Refinement.Fallback && out.Refinement.Changes != "" {
		lines = append(lines, "Changes: "+out.Refinement.Changes)
	}

	if out.Generation != nil && len(out.Generation.Assumptions) > 0 {
		lines = append(lines, "Assumptions: "+strings.Join(out.Generation.Assumptions, "; "))
	}

	if meta := retrievalMetadata(out); meta != nil && meta.Attempted {
		lines = append(lines, f.formatRetrieval(meta))
	}

	if out.Validation != nil {
		lines = append(lines, f.FormatValidation(out.Validation))
	}

	switch {
	case out.Halt != pipeline.HaltNone && out.Err != nil:
		lines = append(lines, fmt.Sprintf("Stopped (%s): %v", out.Halt, out.Err))
	case out.Halt != pipeline.HaltNone:
		lines = append(lines, fmt.Sprintf("Stopped (%s)", out.Halt))
	case out.Execution != nil:
		lines = append(lines, f.FormatResult(out.Execution))
	}

	return strings.Join(lines, "\n")
}

func retrievalMetadata(out *pipeline.Outcome) *types.RetrievalMetadata {
	if out.Generation == nil {
		return nil
	}

	return out.Generation.RetrievalMetadata
}

func (f *Formatter) formatRetrieval(meta *types.RetrievalMetadata) string {
	if !meta.Used {
		reason := meta.FallbackReason
		if reason == "" {
			reason = "-"
		}

		return "Retrieval: fell back to full schema (" + reason + ")"
	}

	return fmt.Sprintf("Retrieval: %d chunks, focused on %s", meta.ChunksRetrieved, strings.Join(meta.FocusedTables, ", "))
}

// FormatValidation renders a validator verdict
func (f *Formatter) FormatValidation(v *types.ValidationResult) string {
	status := "valid"
	if !v.IsValid {
		status = "invalid"
	}

	lines := []string{fmt.Sprintf("Validation: %s (safety %s, syntax %s, schema %s, complexity %s)",
		status, mark(v.SafetyValid), mark(v.SyntaxValid), mark(v.SchemaValid), v.ComplexityScore)}

	lines = appendList(lines, "Errors", v.Errors)
	lines = appendList(lines, "Warnings", v.Warnings)
	lines = appendList(lines, "Suggestions", v.Suggestions)

	return strings.Join(lines, "\n")
}

func mark(ok bool) string {
	if ok {
		return "ok"
	}

	return "failed"
}

func appendList(lines []string, title string, items []string) []string {
	if len(items) == 0 {
		return lines
	}

	lines = append(lines, title+":")
	for _, item := range items {
		lines = append(lines, "  - "+item)
	}

	return lines
}

// FormatResult renders an execution result as an aligned text table
func (f *Formatter) FormatResult(r *types.ExecutionResult) string {
	if !r.Success {
		return "Execution failed: " + r.Error
	}

	timing := f.humanizeDuration(time.Duration(r.ExecutionTimeMs) * time.Millisecond)

	if len(r.Columns) == 0 {
		return fmt.Sprintf("(no columns, %s)", timing)
	}

	widths := make([]int, len(r.Columns))
	cells := make([][]string, 0, len(r.Data)+1)

	header := make([]string, len(r.Columns))
	for i, col := range r.Columns {
		header[i] = f.clip(col)
	}

	cells = append(cells, header)

	for _, row := range r.Data {
		rendered := make([]string, len(r.Columns))
		for i := range r.Columns {
			if i < len(row) {
				rendered[i] = f.clip(formatValue(row[i]))
			}
		}

		cells = append(cells, rendered)
	}

	for _, row := range cells {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}

	var b strings.Builder

	for n, row := range cells {
		b.WriteString(padRow(row, widths))
		b.WriteByte('\n')

		if n == 0 {
			rule := make([]string, len(widths))
			for i, w := range widths {
				rule[i] = strings.Repeat("-", w)
			}

			b.WriteString(strings.Join(rule, "-+-"))
			b.WriteByte('\n')
		}
	}

	footer := fmt.Sprintf("(%s in %s)", pluralRows(r.RowCount), timing)
	if r.Truncated {
		footer = fmt.Sprintf("(showing %d of %s in %s)", len(r.Data), pluralRows(r.RowCount), timing)
	}

	b.WriteString(footer)

	return b.String()
}

func padRow(row []string, widths []int) string {
	parts := make([]string, len(row))
	for i, cell := range row {
		parts[i] = cell + strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell))
	}

	return strings.TrimRight(strings.Join(parts, " | "), " ")
}

func pluralRows(n int) string {
	if n == 1 {
		return "1 row"
	}

	return strconv.Itoa(n) + " rows"
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func (f *Formatter) clip(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")

	limit := f.MaxCellWidth
	if limit <= 3 || utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)

	return string(runes[:limit-3]) + "..."
}

// humanizeDuration converts a duration to a short human-readable string
func (f *Formatter) humanizeDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return "<1ms"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}

// FormatSchema renders a schema's tables, columns and relationships
func (f *Formatter) FormatSchema(s *types.Schema) string {
	lines := []string{"Schema: " + s.Name}
	if s.Description != "" {
		lines = append(lines, s.Description)
	}

	for _, table := range s.Tables {
		lines = append(lines, "")

		title := table.Name
		if table.Description != "" {
			title += "  -- " + table.Description
		}

		lines = append(lines, title)

		for _, col := range table.Columns {
			var attrs []string
			if col.PrimaryKey {
				attrs = append(attrs, "pk")
			}

			if col.ForeignKey != nil {
				attrs = append(attrs, "-> "+col.ForeignKey.Table+"."+col.ForeignKey.Column)
			}

			line := fmt.Sprintf("  %s %s", col.Name, col.Type)
			if len(attrs) > 0 {
				line += " (" + strings.Join(attrs, ", ") + ")"
			}

			lines = append(lines, line)
		}
	}

	if len(s.Relationships) > 0 {
		lines = append(lines, "", "Relationships:")
		for _, rel := range s.Relationships {
			lines = append(lines, fmt.Sprintf("  %s: %s.%s -> %s.%s (%s)",
				rel.Name, rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn, rel.Type))
		}
	}

	return strings.Join(lines, "\n")
}

// FormatSummary renders an evaluation run's summary
func (f *Formatter) FormatSummary(run *evaluation.Run, format OutputFormat) string {
	if format == FormatJSON {
		return f.toJSON(run)
	}

	s := run.Summary

	lines := []string{
		fmt.Sprintf("Experiment %s (%s)", run.ExperimentID, run.Suite),
		fmt.Sprintf("Cases: %d total, %d passed, %d failed, %d errored", s.Total, s.Passed, s.Failed, s.Errored),
		"",
		"Thresholds:",
	}

	for _, c := range s.Thresholds {
		lines = append(lines, fmt.Sprintf("  %-20s %.3f (target %.2f) %s", c.Metric, c.Actual, c.Target, passFail(c.Passed)))
	}

	categories := make([]string, 0, len(s.Categories))
	for name := range s.Categories {
		categories = append(categories, name)
	}

	sort.Strings(categories)

	if len(categories) > 0 {
		lines = append(lines, "", "Categories:")
	}

	for _, name := range categories {
		c := s.Categories[name]
		lines = append(lines, fmt.Sprintf("  %-20s %d/%d passed, correctness %.3f, tables %.3f",
			name, c.Passed, c.Total, c.Averages.QueryCorrectness, c.Averages.TableAccuracy))
	}

	lines = append(lines, "", fmt.Sprintf("Calibration deviation: %.3f", s.CalibrationDeviation))
	for _, b := range s.Calibration {
		lines = append(lines, fmt.Sprintf("  %-6s %d/%d correct (observed %.2f, expected %.2f)",
			b.Confidence, b.Successes, b.Attempts, b.Observed, b.Expected))
	}

	if run.Location != "" {
		lines = append(lines, "", "Written to "+run.Location)
	}

	return strings.Join(lines, "\n")
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}

	return "FAIL"
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n  ")
}

func (f *Formatter) toJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}

	return string(data)
}
