// Package executor runs validated queries against a read-only store under a
// wall-clock timeout and a row cap.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/monitor"
	"github.com/kyleking/askdb/internal/storage"
	"github.com/kyleking/askdb/internal/types"
	"github.com/kyleking/askdb/internal/validator"
)

const (
	DefaultMaxRows = 1000
	DefaultTimeout = 30 * time.Second
)

// Opener resolves a database name to a read-only store
type Opener interface {
	Open(ctx context.Context, database string) (*storage.Store, error)
}

// Options are the executor's hard ceilings
type Options struct {
	MaxRows int
	Timeout time.Duration
}

// OptionsFromConfig extracts executor limits from the application config
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxRows: cfg.Executor.MaxRows,
		Timeout: cfg.Executor.TimeoutDuration(),
	}
}

// Executor runs one statement per call
type Executor struct {
	stores Opener
	opts   Options
	logger *logging.Logger
}

// New creates an executor
func New(stores Opener, opts Options, logger *logging.Logger) *Executor {
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Executor{
		stores: stores,
		opts:   opts,
		logger: logging.OrNop(logger).WithStage(monitor.StageExecution),
	}
}

// MaxRows returns the row cap
func (e *Executor) MaxRows() int {
	return e.opts.MaxRows
}

// Execute runs query on database. It refuses anything the validator did not pass and
// re-scans for mutation keywords first. Every failure is reported in the result.
func (e *Executor) Execute(ctx context.Context, database, query string, validation *types.ValidationResult) (result *types.ExecutionResult) {
	start := time.Now()
	result = &types.ExecutionResult{}

	defer func() {
		if r := recover(); r != nil {
			result = &types.ExecutionResult{Error: fmt.Sprintf("execution panicked: %v", r)}
		}

		result.ExecutionTimeMs = time.Since(start).Milliseconds()
		monitor.ObserveStage(monitor.StageExecution, time.Since(start), !result.Success)

		if result.Success {
			monitor.RecordExecution(result.RowCount, result.Truncated)
		}
	}()

	if err := checkPreconditions(query, validation); err != nil {
		e.logger.WithError(err).Warn("refused to execute query")
		result.Error = err.Error()

		return result
	}

	execCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	err := e.run(execCtx, database, query, result)
	if err == nil {
		result.Success = true
		return result
	}

	// The cancellation of our own deadline is reported as a timeout; the caller's is not
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("query timed out after %s", e.opts.Timeout)
	}

	e.logger.WithError(err).WithField("database", database).Warn("query execution failed")

	*result = types.ExecutionResult{Error: err.Error()}

	return result
}

func checkPreconditions(query string, validation *types.ValidationResult) error {
	if validation == nil || !validation.IsValid {
		return errors.New("query has not passed validation")
	}

	if violations := validator.ScanMutations(query); len(violations) > 0 {
		return fmt.Errorf("query refused by mutation re-scan: %s", strings.Join(violations, "; "))
	}

	if MultipleStatements(query) {
		return errors.New("multiple statements are not allowed")
	}

	return nil
}

func (e *Executor) run(ctx context.Context, database, query string, result *types.ExecutionResult) error {
	store, err := e.stores.Open(ctx, database)
	if err != nil {
		return err
	}

	q, release, err := store.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	stmt, err := q.PrepareContext(ctx, strings.TrimRight(strings.TrimSpace(query), ";"))
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("failed to get columns: %w", err)
	}

	data := make([][]any, 0)
	count := 0

	for rows.Next() {
		count++
		if count > e.opts.MaxRows {
			continue
		}

		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))

		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}

		for i, v := range values {
			values[i] = normalize(v)
		}

		data = append(data, values)
	}

	if err := rows.Err(); err != nil {
		return err
	}

	result.Columns = columns
	result.Data = data
	result.RowCount = count
	result.Truncated = count > e.opts.MaxRows

	return nil
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}

	return v
}
