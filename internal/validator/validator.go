// Package validator gates every query through deterministic safety rules and
// a semantic check before anything is executed.
package validator

import (
	"context"
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

var requiredFields = []string{"syntaxValid", "schemaValid", "complexityScore"}

const semanticPrompt = `You are a meticulous %s SQL reviewer. Check the query against the database schema.

Respond with a JSON object containing:
- syntaxValid: true if the query is syntactically valid
- schemaValid: true if every table and column it references exists in the schema
- complexityScore: one of "low", "medium", "high"
- errors: array of problems that make the query wrong
- warnings: array of concerns that do not make it wrong
- suggestions: array of improvements`

// Options tune the semantic stage
type Options struct {
	Dialect     string
	Temperature float64
	MaxTokens   int
}

// OptionsFromConfig extracts validator options from the application config
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Dialect:     cfg.LLM.Dialect,
		Temperature: cfg.LLM.ValidationTemperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}
}

// Validator runs the two-stage gate
type Validator struct {
	llm    llm.Service
	opts   Options
	logger *logging.Logger
}

// New creates a validator
func New(service llm.Service, opts Options, logger *logging.Logger) *Validator {
	if opts.Dialect == "" {
		opts.Dialect = "ANSI"
	}

	return &Validator{
		llm:    service,
		opts:   opts,
		logger: logging.OrNop(logger).WithField("component", "validator"),
	}
}

var transitions = map[types.ValidationStage][]types.ValidationStage{
	types.StagePending:         {types.StageSafetyRejected, types.StageSemanticPending},
	types.StageSemanticPending: {types.StageValid, types.StageSemanticRejected},
}

// advance moves result to the next stage, refusing transitions the gate does not allow
func advance(result *types.ValidationResult, to types.ValidationStage) {
	for _, allowed := range transitions[result.Stage] {
		if allowed == to {
			result.Stage = to
			return
		}
	}

	panic(fmt.Sprintf("validator: illegal transition %s -> %s", result.Stage, to))
}

// Safety runs only the deterministic stage
func (v *Validator) Safety(query string) *types.ValidationResult {
	result := &types.ValidationResult{
		Stage:       types.StagePending,
		Errors:      []string{},
		Warnings:    []string{},
		Suggestions: []string{},
	}

	violations := CheckSafety(query)
	if len(violations) > 0 {
		result.Errors = violations
		advance(result, types.StageSafetyRejected)
		monitor.RecordSafetyRejection()

		v.logger.WithField("violations", len(violations)).Warn("query rejected by safety rules")

		return result
	}

	result.SafetyValid = true
	advance(result, types.StageSemanticPending)

	return result
}

// Validate runs the safety stage and, only if it passes, the semantic stage
func (v *Validator) Validate(ctx context.Context, query string, schema *types.Schema) *types.ValidationResult {
	start := time.Now()
	result := v.Safety(query)

	if result.Stage == types.StageSafetyRejected {
		monitor.ObserveStage(monitor.StageValidation, time.Since(start), false)
		return result
	}

	if strings.TrimSpace(query) == "" {
		result.Errors = append(result.Errors, "query is empty")
		advance(result, types.StageSemanticRejected)

		return result
	}

	err := v.semantic(ctx, query, schema, result)
	monitor.ObserveStage(monitor.StageValidation, time.Since(start), err != nil)

	if err != nil {
		v.logger.WithError(err).Warn("semantic validation failed")
		result.SyntaxValid = false
		result.SchemaValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("semantic validation unavailable: %v", err))
	}

	result.IsValid = result.SafetyValid && result.SyntaxValid && result.SchemaValid

	if result.IsValid {
		advance(result, types.StageValid)
	} else {
		advance(result, types.StageSemanticRejected)
	}

	return result
}

// semantic fills syntax, schema and complexity fields from one completion
func (v *Validator) semantic(ctx context.Context, query string, schema *types.Schema, result *types.ValidationResult) error {
	if schema == nil {
		return fmt.Errorf("no schema was provided")
	}

	resp, err := v.llm.Complete(ctx, llm.Request{
		System:      fmt.Sprintf(semanticPrompt, v.opts.Dialect),
		User:        fmt.Sprintf("Database schema:\n%s\nQuery:\n%s", generator.RenderSchema(schema), query),
		Temperature: v.opts.Temperature,
		MaxTokens:   v.opts.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		return err
	}

	obj, err := llm.DecodeObject(resp.Text, requiredFields...)
	if err != nil {
		return err
	}

	syntaxValid, err := obj.Bool("syntaxValid")
	if err != nil {
		return err
	}

	schemaValid, err := obj.Bool("schemaValid")
	if err != nil {
		return err
	}

	rawComplexity, err := obj.String("complexityScore")
	if err != nil {
		return err
	}

	complexity, err := types.ParseComplexity(rawComplexity)
	if err != nil {
		return err
	}

	errs, err := obj.Strings("errors")
	if err != nil {
		return err
	}

	warnings, err := obj.Strings("warnings")
	if err != nil {
		return err
	}

	suggestions, err := obj.Strings("suggestions")
	if err != nil {
		return err
	}

	result.SyntaxValid = syntaxValid
	result.SchemaValid = schemaValid
	result.ComplexityScore = complexity
	result.Errors = append(result.Errors, errs...)
	result.Warnings = append(result.Warnings, warnings...)
	result.Suggestions = append(result.Suggestions, suggestions...)

	// The deterministic check can only tighten the model's verdict
	if unknown := UnknownTables(query, schema); len(unknown) > 0 {
		result.SchemaValid = false
		result.Errors = append(result.Errors, unknown...)
	}

	return nil
}
