// Package generator turns a natural-language question and a schema into a
// single read-only query through one completion request.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/llm"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/monitor"
	"github.com/kyleking/askdb/internal/retrieval"
	"github.com/kyleking/askdb/internal/types"
)

// Required response fields
var requiredFields = []string{"query", "explanation", "confidence"}

const systemPrompt = `You are an expert at converting natural language questions into %s SQL queries.
Convert the user's question into exactly one read-only query over the provided database schema.

Rules:
1. Produce a single SELECT statement (a WITH clause is allowed). Never modify data or schema.
2. Only use tables and columns that exist in the schema.
3. Do not end the query with a semicolon and do not wrap it in markdown.
4. If the question cannot be answered from the schema, return an empty query and explain why.

Respond with a JSON object containing:
- query: the SQL query, or "" when no query can answer the question
- explanation: what the query does, in one or two sentences
- confidence: one of "high", "medium", "low"
- tablesUsed: array of table names the query reads
- assumptions: array of assumptions you made about the question`

// Options tune generation
type Options struct {
	Dialect          string
	Temperature      float64
	MaxTokens        int
	RetrievalEnabled bool
}

// OptionsFromConfig extracts generator options from the application config
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Dialect:          cfg.LLM.Dialect,
		Temperature:      cfg.LLM.GenerationTemperature,
		MaxTokens:        cfg.LLM.MaxTokens,
		RetrievalEnabled: cfg.Retrieval.Enabled,
	}
}

// Generator produces queries; it never returns an error past its boundary
type Generator struct {
	llm       llm.Service
	retriever *retrieval.Retriever
	opts      Options
	logger    *logging.Logger
}

// New creates a generator. retriever may be nil, which disables retrieval.
func New(service llm.Service, retriever *retrieval.Retriever, opts Options, logger *logging.Logger) *Generator {
	if opts.Dialect == "" {
		opts.Dialect = "ANSI"
	}

	return &Generator{
		llm:       service,
		retriever: retriever,
		opts:      opts,
		logger:    logging.OrNop(logger).WithField("component", "generator"),
	}
}

// Release drops retrieval state cached for a schema that is no longer in use
func (g *Generator) Release(schema *types.Schema) {
	if g.retriever != nil {
		g.retriever.Forget(schema)
	}
}

// Generate builds the schema context, asks the model for a query and decodes the answer.
// Failures produce an empty query with low confidence and an explanation.
func (g *Generator) Generate(ctx context.Context, req types.GenerationRequest) *types.GenerationResponse {
	if req.Schema == nil {
		return failed(nil, errors.New("no schema was provided"))
	}

	if strings.TrimSpace(req.Question) == "" {
		return failed(nil, errors.New("the question is empty"))
	}

	schemaText, meta := g.schemaContext(ctx, req)

	start := time.Now()
	resp, err := g.llm.Complete(ctx, llm.Request{
		System:      fmt.Sprintf(systemPrompt, g.opts.Dialect),
		User:        fmt.Sprintf("Database schema:\n%s\nQuestion: %s", schemaText, strings.TrimSpace(req.Question)),
		Temperature: g.opts.Temperature,
		MaxTokens:   g.opts.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		monitor.ObserveStage(monitor.StageGeneration, time.Since(start), true)
		g.logger.WithError(err).Warn("generation request failed")

		return failed(meta, fmt.Errorf("the language model request failed: %w", err))
	}

	out, err := ParseResponse(resp.Text)
	monitor.ObserveStage(monitor.StageGeneration, time.Since(start), err != nil)

	if err != nil {
		g.logger.WithError(err).Warn("generation response rejected")
		return failed(meta, err)
	}

	out.RetrievalMetadata = meta

	g.logger.WithFields(map[string]interface{}{
		"confidence": out.Confidence.String(),
		"generated":  out.Generated(),
		"tables":     len(out.TablesUsed),
	}).Debug("query generated")

	return out
}

// schemaContext chooses between the full schema and a retrieved focus set
func (g *Generator) schemaContext(ctx context.Context, req types.GenerationRequest) (string, *types.RetrievalMetadata) {
	schema := req.Schema
	meta := &types.RetrievalMetadata{TableCount: len(schema.Tables)}

	enabled := g.opts.RetrievalEnabled
	if req.UseRetrieval != nil {
		enabled = *req.UseRetrieval
	}

	if g.retriever == nil || !enabled {
		return RenderSchema(schema), meta
	}

	meta.Threshold = g.retriever.Threshold()

	if !g.retriever.ShouldRetrieve(schema) {
		return RenderSchema(schema), meta
	}

	meta.Attempted = true

	start := time.Now()
	chunks, err := g.retriever.Retrieve(ctx, schema, req.Question)
	monitor.ObserveStage(monitor.StageRetrieval, time.Since(start), err != nil)

	switch {
	case err != nil:
		meta.FallbackReason = fmt.Sprintf("retrieval failed: %v", err)
	case len(chunks) == 0:
		meta.FallbackReason = "no documentation matched the question"
	}

	if meta.FallbackReason != "" {
		monitor.RecordRetrievalFallback()
		g.logger.WithField("schema", schema.Name).Warnf("falling back to full schema: %s", meta.FallbackReason)

		return RenderSchema(schema), meta
	}

	tables := FocusTables(schema, chunks)

	meta.Used = true
	meta.ChunksRetrieved = len(chunks)
	meta.TopScore = chunks[0].Score
	meta.FocusedTables = tables

	return RenderFocused(schema, tables, chunks), meta
}

// ParseResponse strictly decodes a generation completion
func ParseResponse(text string) (*types.GenerationResponse, error) {
	obj, err := llm.DecodeObject(text, requiredFields...)
	if err != nil {
		return nil, err
	}

	query, err := obj.String("query")
	if err != nil {
		return nil, err
	}

	explanation, err := obj.String("explanation")
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

	tablesUsed, err := obj.Strings("tablesUsed")
	if err != nil {
		return nil, err
	}

	assumptions, err := obj.Strings("assumptions")
	if err != nil {
		return nil, err
	}

	return &types.GenerationResponse{
		Query:       CleanQuery(query),
		Explanation: explanation,
		Confidence:  confidence,
		TablesUsed:  tablesUsed,
		Assumptions: assumptions,
	}, nil
}

// CleanQuery strips code fences, surrounding whitespace and trailing semicolons
func CleanQuery(query string) string {
	q := llm.StripCodeFences(query)
	q = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(q), ";"))

	return q
}

func failed(meta *types.RetrievalMetadata, err error) *types.GenerationResponse {
	return &types.GenerationResponse{
		Query:             "",
		Explanation:       fmt.Sprintf("Could not generate a query: %v", err),
		Confidence:        types.ConfidenceLow,
		RetrievalMetadata: meta,
	}
}
