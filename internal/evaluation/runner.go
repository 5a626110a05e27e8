package evaluation

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/monitor"
	"github.com/kyleking/askdb/internal/pipeline"
	"github.com/kyleking/askdb/internal/schema"
)

// Asker answers one question
type Asker interface {
	Run(ctx context.Context, req pipeline.Request) *pipeline.Outcome
}

// SchemaLoader resolves the schemas a suite references
type SchemaLoader interface {
	Load(ctx context.Context, name string) schema.LoadResult
}

// Runner evaluates a suite with bounded concurrency
type Runner struct {
	asker       Asker
	schemas     SchemaLoader
	concurrency int
	logger      *logging.Logger
	now         func() time.Time
}

// NewRunner creates a runner; concurrency below one runs cases sequentially
func NewRunner(asker Asker, schemas SchemaLoader, concurrency int, logger *logging.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Runner{
		asker:       asker,
		schemas:     schemas,
		concurrency: concurrency,
		logger:      logging.OrNop(logger).WithField("component", "evaluation"),
		now:         time.Now,
	}
}

// Run evaluates every case into agg and finalizes it. If ctx is cancelled the
// aggregator is aborted and no summary is written.
func (r *Runner) Run(ctx context.Context, suite *Suite, agg *Aggregator) (*Run, error) {
	loaded := make(map[string]schema.LoadResult)
	for _, name := range suite.SchemaNames() {
		loaded[name] = r.schemas.Load(ctx, name)
	}

	r.logger.Infof("evaluating %d cases from suite %s with concurrency %d", len(suite.Cases), suite.Name, r.concurrency)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency)

	for _, tc := range suite.Cases {
		if egCtx.Err() != nil {
			break
		}

		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}

			rec := r.evaluate(egCtx, tc, loaded[tc.Schema])
			monitor.RecordEvalCase(caseOutcome(rec))

			return agg.Add(rec)
		})
	}

	err := eg.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		agg.Abort()
		return nil, ctxErr
	}

	if err != nil {
		agg.Abort()
		return nil, err
	}

	return agg.Finalize(ctx)
}

func (r *Runner) evaluate(ctx context.Context, tc TestCase, loaded schema.LoadResult) Record {
	start := r.now()
	rec := Record{TestCase: tc, Timestamp: start.UTC()}

	if !loaded.Valid() {
		rec.Error = loaded.Err().Error()
		rec.DurationMs = r.now().Sub(start).Milliseconds()

		return rec
	}

	out := r.asker.Run(ctx, pipeline.Request{
		Question: tc.Question,
		Schema:   loaded.Schema,
		Database: tc.Database,
	})

	rec.DurationMs = r.now().Sub(start).Milliseconds()
	rec.Generated = &Generated{
		Query:       out.Query,
		Confidence:  out.Confidence,
		TablesUsed:  out.TablesUsed,
		IsValid:     out.Validation != nil && out.Validation.IsValid,
		SafetyValid: out.Validation == nil || out.Validation.SafetyValid,
		Executed:    out.Execution != nil && out.Execution.Success,
		Halt:        string(out.Halt),
	}

	if out.Execution != nil {
		rec.Generated.RowCount = out.Execution.RowCount
	}

	rec.Metrics = Score(tc, out)
	rec.Passed = rec.Metrics.Meets(DefaultThresholds)

	// Halts the case anticipates are results, not errors
	if out.Err != nil && !tc.ExpectUnsafe && tc.WantValid() {
		rec.Error = out.Err.Error()
	}

	r.logger.WithFields(map[string]interface{}{
		"case":   tc.ID,
		"passed": rec.Passed,
	}).Debug("case evaluated")

	return rec
}

func caseOutcome(rec Record) string {
	switch {
	case rec.Error != "":
		return "error"
	case rec.Passed:
		return "passed"
	default:
		return "failed"
	}
}
