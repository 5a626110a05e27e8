// Package refiner revises the active query from user feedback. A failed
// refinement always hands back the query it was given.
package refiner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/generator"
	"github.com/kyleking/askdb/internal/llm"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/monitor"
	"github.com/kyleking/askdb/internal/types"
)

var requiredFields = []string{"query", "changes", "confidence"}

const DefaultSampleRows = 5

const systemPrompt = `You are an expert %s SQL assistant refining an existing query based on user feedback.
Modify the current query so it satisfies the feedback while still answering the original question.

Rules:
1. Produce a single read-only SELECT statement (a WITH clause is allowed).
2. Only use tables and columns that exist in the schema.
3. Keep everything the feedback does not ask to change.
4. Do not end the query with a semicolon and do not wrap it in markdown.

Respond with a JSON object containing:
- query: the refined SQL query
- changes: a short description of what changed and why
- confidence: one of "high", "medium", "low"
- explanation: what the refined query does
- tablesUsed: array of table names the query reads`

// Request carries everything a refinement turn knows
type Request struct {
	Question       string
	CurrentQuery   string
	Schema         *types.Schema
	PreviousResult *types.ExecutionResult
	Feedback       string
}

// Response is a refined query, or the unchanged one when Fallback is set
type Response struct {
	Query          string           `json:"query"`
	Changes        string           `json:"changes"`
	Explanation    string           `json:"explanation,omitempty"`
	Confidence     types.Confidence `json:"confidence"`
	TablesUsed     []string         `json:"tablesUsed"`
	Fallback       bool             `json:"fallback"`
	FallbackReason string           `json:"fallbackReason,omitempty"`
}

// Options tune refinement
type Options struct {
	Dialect     string
	Temperature float64
	MaxTokens   int
	SampleRows  int
}

// OptionsFromConfig extracts refiner options from the application config
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Dialect:     cfg.LLM.Dialect,
		Temperature: cfg.LLM.RefinementTemperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		SampleRows:  cfg.Dialog.SampleRows,
	}
}

type Refiner struct {
	llm    llm.Service
	opts   Options
	logger *logging.Logger
}

// New creates a refiner
func New(service llm.Service, opts Options, logger *logging.Logger) *Refiner {
	if opts.Dialect == "" {
		opts.Dialect = "ANSI"
	}

	if opts.SampleRows <= 0 {
		opts.SampleRows = DefaultSampleRows
	}

	return &Refiner{
		llm:    service,
		opts:   opts,
		logger: logging.OrNop(logger).WithStage(monitor.StageRefinement),
	}
}

// Refine asks for a revised query. It never returns an error; on failure the
// current query comes back unchanged with low confidence.
func (r *Refiner) Refine(ctx context.Context, req Request) *Response {
	if strings.TrimSpace(req.CurrentQuery) == "" {
		return fallback(req, errors.New("there is no query to refine"))
	}

	if req.Schema == nil {
		return fallback(req, errors.New("no schema was provided"))
	}

	start := time.Now()
	resp, err := r.llm.Complete(ctx, llm.Request{
		System:      fmt.Sprintf(systemPrompt, r.opts.Dialect),
		User:        r.userMessage(req),
		Temperature: r.opts.Temperature,
		MaxTokens:   r.opts.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		monitor.ObserveStage(monitor.StageRefinement, time.Since(start), true)
		r.logger.WithError(err).Warn("refinement request failed")

		return fallback(req, fmt.Errorf("the language model request failed: %w", err))
	}

	out, err := ParseResponse(resp.Text)
	monitor.ObserveStage(monitor.StageRefinement, time.Since(start), err != nil)

	if err != nil {
		r.logger.WithError(err).Warn("refinement response rejected")
		return fallback(req, err)
	}

	return out
}

func (r *Refiner) userMessage(req Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Database schema:\n%s\n", generator.RenderSchema(req.Schema))
	fmt.Fprintf(&b, "Original question: %s\n", strings.TrimSpace(req.Question))
	fmt.Fprintf(&b, "Current query:\n%s\n", req.CurrentQuery)

	if sample := SampleResult(req.PreviousResult, r.opts.SampleRows); sample != "" {
		fmt.Fprintf(&b, "\nSample of the current results:\n%s", sample)
	}

	fmt.Fprintf(&b, "\nFeedback: %s", strings.TrimSpace(req.Feedback))

	return b.String()
}

// SampleResult renders up to n rows of a successful result, one per line
func SampleResult(result *types.ExecutionResult, n int) string {
	if result == nil || !result.Success || len(result.Columns) == 0 {
		return ""
	}

	var b strings.Builder

	b.WriteString(strings.Join(result.Columns, " | "))
	b.WriteByte('\n')

	for i, row := range result.Data {
		if i >= n {
			break
		}

		cells := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				cells[j] = "NULL"
			} else {
				cells[j] = fmt.Sprint(v)
			}
		}

		b.WriteString(strings.Join(cells, " | "))
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "(%d rows total)\n", result.RowCount)

	return b.String()
}

// ParseResponse strictly decodes a refinement completion
func ParseResponse(text string) (*Response, error) {
	obj, err := llm.DecodeObject(text, requiredFields...)
	if err != nil {
		return nil, err
	}

	query, err := obj.String("query")
	if err != nil {
		return nil, err
	}

	query = generator.CleanQuery(query)
	if query == "" {
		return nil, errors.New("the refined query is empty")
	}

	changes, err := obj.String("changes")
	if err != nil {
		return nil, err
	}

	rawConfidence, err := obj.String("confidence")
	if err != nil {
		return nil, err
	}

	confidence, err := types.ParseConfidence(rawConfidence)
	if err != nil {
		return nil, err
	}

	var explanation string
	if obj.Has("explanation") {
		if explanation, err = obj.String("explanation"); err != nil {
			return nil, err
		}
	}

	tablesUsed, err := obj.Strings("tablesUsed")
	if err != nil {
		return nil, err
	}

	return &Response{
		Query:       query,
		Changes:     changes,
		Explanation: explanation,
		Confidence:  confidence,
		TablesUsed:  tablesUsed,
	}, nil
}

func fallback(req Request, err error) *Response {
	return &Response{
		Query:          req.CurrentQuery,
		Changes:        "no changes",
		Confidence:     types.ConfidenceLow,
		Fallback:       true,
		FallbackReason: err.Error(),
	}
}
