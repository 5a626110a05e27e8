// Package pipeline wires the stages together: generate or refine, validate, then
// execute. Sessions carry conversation state between turns.
package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/dialog"
	apperrors "github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/monitor"
	"github.com/kyleking/askdb/internal/refiner"
	"github.com/kyleking/askdb/internal/schema"
	"github.com/kyleking/askdb/internal/types"
)

// Generator produces a query for a question
type Generator interface {
	Generate(ctx context.Context, req types.GenerationRequest) *types.GenerationResponse
}

// releaser is implemented by generators that cache per-schema state
type releaser interface {
	Release(schema *types.Schema)
}

// Validator gates a query
type Validator interface {
	Validate(ctx context.Context, query string, schema *types.Schema) *types.ValidationResult
}

// Executor runs a validated query
type Executor interface {
	Execute(ctx context.Context, database, query string, validation *types.ValidationResult) *types.ExecutionResult
}

// Refiner revises the active query
type Refiner interface {
	Refine(ctx context.Context, req refiner.Request) *refiner.Response
}

// HaltReason names the stage that stopped a request
type HaltReason string

const (
	HaltNone             HaltReason = ""
	HaltGenerationFailed HaltReason = "generation_failed"
	HaltSafetyRejected   HaltReason = "safety_rejected"
	HaltValidationFailed HaltReason = "validation_failed"
	HaltExecutionFailed  HaltReason = "execution_failed"
	HaltReset            HaltReason = "reset"
)

// Outcome is everything one request produced
type Outcome struct {
	SessionID  string                    `json:"sessionId,omitempty"`
	Input      string                    `json:"input"`
	Intent     types.Intent              `json:"intent"`
	Query      string                    `json:"query,omitempty"`
	Confidence types.Confidence          `json:"confidence"`
	TablesUsed []string                  `json:"tablesUsed,omitempty"`
	Generation *types.GenerationResponse `json:"generation,omitempty"`
	Refinement *refiner.Response         `json:"refinement,omitempty"`
	Validation *types.ValidationResult   `json:"validation,omitempty"`
	Execution  *types.ExecutionResult    `json:"execution,omitempty"`
	Halt       HaltReason                `json:"halt,omitempty"`
	// Err describes the halt; safety rejections carry every matched rule
	Err error `json:"-"`
}

// Completed reports whether no stage halted the request
func (o *Outcome) Completed() bool {
	return o.Halt == HaltNone
}

// Components are the stages a pipeline runs. Executor and Refiner may be nil,
// which disables execution and refinement respectively.
type Components struct {
	Loader    *schema.Loader
	Generator Generator
	Validator Validator
	Executor  Executor
	Refiner   Refiner
}

// Pipeline orchestrates requests and owns the session registry
type Pipeline struct {
	components Components
	dialogCfg  config.DialogConfig
	sessions   *Registry
	logger     *logging.Logger
}

// New creates a pipeline
func New(components Components, dialogCfg config.DialogConfig, logger *logging.Logger) *Pipeline {
	return &Pipeline{
		components: components,
		dialogCfg:  dialogCfg,
		sessions:   NewRegistry(),
		logger:     logging.OrNop(logger).WithField("component", "pipeline"),
	}
}

// Sessions returns the registry of open sessions
func (p *Pipeline) Sessions() *Registry {
	return p.sessions
}

// Request is a one-shot question
type Request struct {
	Question     string
	Schema       *types.Schema
	Database     string
	UseRetrieval *bool
	// SkipExecution stops after validation
	SkipExecution bool
}

// Run answers a single question without conversation state
func (p *Pipeline) Run(ctx context.Context, req Request) *Outcome {
	out := &Outcome{Input: req.Question, Intent: types.IntentNewQuery}

	if !p.generate(ctx, out, types.GenerationRequest{
		Question:     req.Question,
		Schema:       req.Schema,
		UseRetrieval: req.UseRetrieval,
		Database:     req.Database,
	}) {
		return out
	}

	p.gate(ctx, out, req.Schema, req.Database, !req.SkipExecution)

	return out
}

// generate fills out from the generator and reports whether a query came back
func (p *Pipeline) generate(ctx context.Context, out *Outcome, req types.GenerationRequest) bool {
	_ = logging.TrackStage(p.logger, monitor.StageGeneration, func() error {
		out.Generation = p.components.Generator.Generate(ctx, req)
		out.Query = out.Generation.Query
		out.Confidence = out.Generation.Confidence
		out.TablesUsed = out.Generation.TablesUsed

		if !out.Generation.Generated() {
			out.Halt = HaltGenerationFailed
			out.Err = apperrors.New(apperrors.ErrTypeGeneration, out.Generation.Explanation)
		}

		return out.Err
	})

	return out.Halt == HaltNone
}

// gate validates out.Query and, when it passes and execute is set, runs it
func (p *Pipeline) gate(ctx context.Context, out *Outcome, sch *types.Schema, database string, execute bool) {
	_ = logging.TrackStage(p.logger, monitor.StageValidation, func() error {
		out.Validation = p.components.Validator.Validate(ctx, out.Query, sch)

		switch {
		case out.Validation.Stage == types.StageSafetyRejected:
			out.Halt = HaltSafetyRejected
			out.Err = apperrors.NewSafetyError(out.Validation.Errors)
		case !out.Validation.IsValid:
			out.Halt = HaltValidationFailed
			out.Err = apperrors.New(apperrors.ErrTypeSemanticValidation, "query failed validation").
				WithDetails(out.Validation.Errors...)
		}

		return out.Err
	})

	if out.Halt != HaltNone || !execute || p.components.Executor == nil {
		return
	}

	_ = logging.TrackStage(p.logger, monitor.StageExecution, func() error {
		out.Execution = p.components.Executor.Execute(ctx, database, out.Query, out.Validation)
		if !out.Execution.Success {
			out.Halt = HaltExecutionFailed
			out.Err = apperrors.New(apperrors.ErrTypeExecution, out.Execution.Error)
		}

		return out.Err
	})
}

// Open loads schemaName and starts a session against database. An unloadable
// schema returns the load error and no session.
func (p *Pipeline) Open(ctx context.Context, schemaName, database string) (*Session, error) {
	if p.components.Loader == nil {
		return nil, apperrors.New(apperrors.ErrTypeConfig, "no schema loader configured")
	}

	result := p.components.Loader.Load(ctx, schemaName)
	if !result.Valid() {
		return nil, result.Err()
	}

	if database == "" {
		database = schemaName
	}

	return p.OpenWithSchema(result.Schema, database), nil
}

// OpenWithSchema starts a session for an already loaded schema
func (p *Pipeline) OpenWithSchema(s *types.Schema, database string) *Session {
	id := uuid.NewString()

	session := &Session{
		id:       id,
		schema:   s,
		database: database,
		dialog:   dialog.NewManager(id, database, p.dialogCfg, p.logger),
		pipeline: p,
		logger:   p.logger.WithSession(id),
	}

	p.sessions.add(session)
	session.logger.WithField("database", database).Info("session opened")

	return session
}

// Close ends a session and discards its state
func (p *Pipeline) Close(sessionID string) bool {
	return p.sessions.Close(sessionID)
}

// release drops cached state for a schema no open session uses
func (p *Pipeline) release(s *types.Schema) {
	if r, ok := p.components.Generator.(releaser); ok {
		r.Release(s)
	}
}

// ErrSessionClosed is returned by Ask after the session was closed
var ErrSessionClosed = errors.New("session is closed")

// turn runs one conversational input; the caller holds the session lock
func (p *Pipeline) turn(ctx context.Context, s *Session, input string) (*Outcome, error) {
	intent, err := s.dialog.Classify(input)
	if err != nil {
		return nil, err
	}

	input = strings.TrimSpace(input)
	out := &Outcome{SessionID: s.id, Input: input, Intent: intent}

	if dialog.ResetOnly(input) {
		s.dialog.Record(input, intent, nil)
		out.Halt = HaltReset

		return out, nil
	}

	if intent == types.IntentRefinement && p.components.Refiner != nil {
		p.refine(ctx, s, out)
	} else {
		out.Intent = types.IntentNewQuery
		p.generate(ctx, out, types.GenerationRequest{Question: input, Schema: s.schema, Database: s.database})
	}

	if out.Halt == HaltNone {
		p.gate(ctx, out, s.schema, s.database, true)
	}

	result := &dialog.TurnResult{
		Query:      out.Query,
		Confidence: out.Confidence,
		TablesUsed: out.TablesUsed,
		Validation: out.Validation,
		Execution:  out.Execution,
		Rejected:   out.Halt == HaltSafetyRejected,
	}

	s.dialog.Record(input, out.Intent, result)

	return out, nil
}

func (p *Pipeline) refine(ctx context.Context, s *Session, out *Outcome) {
	_ = logging.TrackStage(p.logger, monitor.StageRefinement, func() error {
		out.Refinement = p.components.Refiner.Refine(ctx, refiner.Request{
			Question:       s.dialog.CurrentQuestion(),
			CurrentQuery:   s.dialog.CurrentQuery(),
			Schema:         s.schema,
			PreviousResult: s.dialog.CurrentResult(),
			Feedback:       out.Input,
		})

		out.Query = out.Refinement.Query
		out.Confidence = out.Refinement.Confidence
		out.TablesUsed = out.Refinement.TablesUsed

		if len(out.TablesUsed) == 0 {
			out.TablesUsed = s.dialog.CurrentTables()
		}

		if out.Refinement.Fallback {
			return apperrors.New(apperrors.ErrTypeRefinement, out.Refinement.FallbackReason)
		}

		return nil
	})
}
