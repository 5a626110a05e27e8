package evaluation

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/monitor"
	"github.com/kyleking/askdb/internal/types"
)

// Thresholds are the targets a run's averages are compared against
type Thresholds struct {
	QueryCorrectness   float64 `json:"queryCorrectness"`
	TableAccuracy      float64 `json:"tableAccuracy"`
	SafetyValidation   float64 `json:"safetyValidation"`
	ValidationAccuracy float64 `json:"validationAccuracy"`
}

// DefaultThresholds are the fixed targets for a run
var DefaultThresholds = Thresholds{
	QueryCorrectness:   0.8,
	TableAccuracy:      0.8,
	SafetyValidation:   1.0,
	ValidationAccuracy: 0.9,
}

// SuccessThreshold is the query correctness at which a case counts as a success
// for calibration
const SuccessThreshold = 0.8

// ExpectedSuccessRate is the correctness rate each confidence level should achieve
var ExpectedSuccessRate = map[types.Confidence]float64{
	types.ConfidenceHigh:   0.9,
	types.ConfidenceMedium: 0.7,
	types.ConfidenceLow:    0.4,
}

var (
	// ErrFinalized is returned when a run was already finalized
	ErrFinalized = errors.New("evaluation run already finalized")
	// ErrAborted is returned once a run was aborted
	ErrAborted = errors.New("evaluation run was aborted")
)

// Generated is what the pipeline produced for a case. It is nil on records
// whose case never reached the pipeline.
type Generated struct {
	Query       string           `json:"query"`
	Confidence  types.Confidence `json:"confidence"`
	TablesUsed  []string         `json:"tablesUsed"`
	IsValid     bool             `json:"isValid"`
	SafetyValid bool             `json:"safetyValid"`
	Executed    bool             `json:"executed"`
	RowCount    int              `json:"rowCount,omitempty"`
	Halt        string           `json:"halt,omitempty"`
}

// Record is the evaluation of one test case
type Record struct {
	TestCase   TestCase   `json:"testCase"`
	Generated  *Generated `json:"generated,omitempty"`
	Metrics    Metrics    `json:"metrics"`
	Passed     bool       `json:"passed"`
	DurationMs int64      `json:"durationMs"`
	Timestamp  time.Time  `json:"timestamp"`
	Error      string     `json:"error,omitempty"`
}

// Averages holds a mean per metric
type Averages struct {
	QueryCorrectness   float64 `json:"queryCorrectness"`
	TableAccuracy      float64 `json:"tableAccuracy"`
	SafetyValidation   float64 `json:"safetyValidation"`
	ValidationAccuracy float64 `json:"validationAccuracy"`
}

// CategorySummary breaks a run down by test case category
type CategorySummary struct {
	Total    int      `json:"total"`
	Passed   int      `json:"passed"`
	Failed   int      `json:"failed"`
	Averages Averages `json:"averages"`
}

// ThresholdCheck compares one average to its target
type ThresholdCheck struct {
	Metric string  `json:"metric"`
	Target float64 `json:"target"`
	Actual float64 `json:"actual"`
	Passed bool    `json:"passed"`
}

// CalibrationBucket is the observed success rate of one confidence level
type CalibrationBucket struct {
	Confidence types.Confidence `json:"confidence"`
	Attempts   int              `json:"attempts"`
	Successes  int              `json:"successes"`
	Observed   float64          `json:"observed"`
	Expected   float64          `json:"expected"`
	Deviation  float64          `json:"deviation"`
}

// Summary aggregates every record of a run
type Summary struct {
	Total                int                        `json:"total"`
	Passed               int                        `json:"passed"`
	Failed               int                        `json:"failed"`
	Errored              int                        `json:"errored"`
	Averages             Averages                   `json:"averages"`
	Categories           map[string]CategorySummary `json:"categories"`
	Thresholds           []ThresholdCheck           `json:"thresholds"`
	ThresholdsMet        bool                       `json:"thresholdsMet"`
	Calibration          []CalibrationBucket        `json:"calibration"`
	CalibrationDeviation float64                    `json:"calibrationDeviation"`
}

// Run is a finalized evaluation as handed to a sink
type Run struct {
	ExperimentID string    `json:"experimentId"`
	Suite        string    `json:"suite"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	Summary      Summary   `json:"summary"`
	Records      []Record  `json:"records"`
	// Location is where the sink wrote the run
	Location string `json:"-"`
}

type runState int

const (
	stateOpen runState = iota
	stateFinalized
	stateAborted
)

// Aggregator accumulates records from concurrent producers and writes the
// summary exactly once
type Aggregator struct {
	mu      sync.Mutex
	id      string
	suite   string
	started time.Time
	records []Record
	state   runState

	sink       Sink
	thresholds Thresholds
	logger     *logging.Logger
	now        func() time.Time
}

// NewAggregator starts a run that Finalize will write to sink
func NewAggregator(suite string, sink Sink, logger *logging.Logger) *Aggregator {
	a := &Aggregator{
		id:         uuid.NewString(),
		suite:      suite,
		sink:       sink,
		thresholds: DefaultThresholds,
		now:        time.Now,
	}
	a.started = a.now()
	a.logger = logging.OrNop(logger).WithFields(map[string]interface{}{
		"component":  "evaluation",
		"experiment": a.id,
	})

	return a
}

// ExperimentID identifies the run
func (a *Aggregator) ExperimentID() string {
	return a.id
}

// Add appends a record; it fails once the run is finalized or aborted
func (a *Aggregator) Add(rec Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.stateErr(); err != nil {
		return err
	}

	a.records = append(a.records, rec)

	return nil
}

// Len returns the number of records added so far
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.records)
}

// Abort marks the run interrupted. No summary is written afterwards.
func (a *Aggregator) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == stateOpen {
		a.state = stateAborted
		a.logger.Warnf("evaluation aborted after %d records", len(a.records))
	}
}

// Finalize summarizes the run and writes it to the sink. It succeeds at most once.
func (a *Aggregator) Finalize(ctx context.Context) (*Run, error) {
	a.mu.Lock()

	if err := a.stateErr(); err != nil {
		a.mu.Unlock()
		return nil, err
	}

	a.state = stateFinalized
	records := append([]Record(nil), a.records...)
	a.mu.Unlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].TestCase.ID < records[j].TestCase.ID
	})

	run := &Run{
		ExperimentID: a.id,
		Suite:        a.suite,
		StartedAt:    a.started.UTC(),
		FinishedAt:   a.now().UTC(),
		Summary:      Summarize(records, a.thresholds),
		Records:      records,
	}

	monitor.SetCalibrationDeviation(run.Summary.CalibrationDeviation)

	if a.sink != nil {
		location, err := a.sink.Write(ctx, run)
		if err != nil {
			return run, err
		}

		run.Location = location
	}

	a.logger.WithFields(map[string]interface{}{
		"total":    run.Summary.Total,
		"passed":   run.Summary.Passed,
		"location": run.Location,
	}).Info("evaluation finalized")

	return run, nil
}

func (a *Aggregator) stateErr() error {
	switch a.state {
	case stateFinalized:
		return ErrFinalized
	case stateAborted:
		return ErrAborted
	default:
		return nil
	}
}

// Summarize computes counts, averages, threshold checks and calibration
func Summarize(records []Record, thresholds Thresholds) Summary {
	s := Summary{
		Total:      len(records),
		Categories: make(map[string]CategorySummary),
	}

	var (
		overall    sums
		byCategory = make(map[string]*sums)
	)

	for _, rec := range records {
		overall.add(rec.Metrics)

		cat := byCategory[rec.TestCase.Category]
		if cat == nil {
			cat = &sums{}
			byCategory[rec.TestCase.Category] = cat
		}

		cat.add(rec.Metrics)

		summary := s.Categories[rec.TestCase.Category]
		summary.Total++

		if rec.Passed {
			s.Passed++
			summary.Passed++
		} else {
			s.Failed++
			summary.Failed++
		}

		if rec.Error != "" {
			s.Errored++
		}

		s.Categories[rec.TestCase.Category] = summary
	}

	s.Averages = overall.mean()

	for name, cat := range byCategory {
		summary := s.Categories[name]
		summary.Averages = cat.mean()
		s.Categories[name] = summary
	}

	s.Thresholds = []ThresholdCheck{
		check("queryCorrectness", thresholds.QueryCorrectness, s.Averages.QueryCorrectness),
		check("safetyValidation", thresholds.SafetyValidation, s.Averages.SafetyValidation),
		check("validationAccuracy", thresholds.ValidationAccuracy, s.Averages.ValidationAccuracy),
		check("tableAccuracy", thresholds.TableAccuracy, s.Averages.TableAccuracy),
	}

	s.ThresholdsMet = s.Total > 0
	for _, c := range s.Thresholds {
		s.ThresholdsMet = s.ThresholdsMet && c.Passed
	}

	s.Calibration, s.CalibrationDeviation = Calibrate(records)

	return s
}

// Calibrate buckets generated records by reported confidence and returns the
// mean absolute gap between observed and expected success rates over non-empty
// buckets. Records whose case never reached the pipeline declare no confidence.
func Calibrate(records []Record) ([]CalibrationBucket, float64) {
	counts := make(map[types.Confidence]*CalibrationBucket, len(types.Confidences))

	for _, rec := range records {
		if rec.Generated == nil {
			continue
		}

		b := counts[rec.Generated.Confidence]
		if b == nil {
			b = &CalibrationBucket{Confidence: rec.Generated.Confidence}
			counts[rec.Generated.Confidence] = b
		}

		b.Attempts++

		if rec.Metrics.QueryCorrectness >= SuccessThreshold {
			b.Successes++
		}
	}

	var (
		buckets []CalibrationBucket
		total   float64
	)

	for _, c := range types.Confidences {
		b := counts[c]
		if b == nil || b.Attempts == 0 {
			continue
		}

		b.Expected = ExpectedSuccessRate[c]
		b.Observed = float64(b.Successes) / float64(b.Attempts)
		b.Deviation = math.Abs(b.Observed - b.Expected)
		total += b.Deviation
		buckets = append(buckets, *b)
	}

	if len(buckets) == 0 {
		return nil, 0
	}

	return buckets, total / float64(len(buckets))
}

func check(metric string, target, actual float64) ThresholdCheck {
	return ThresholdCheck{Metric: metric, Target: target, Actual: actual, Passed: actual >= target}
}

type sums struct {
	n int
	m Metrics
}

func (s *sums) add(m Metrics) {
	s.n++
	s.m.QueryCorrectness += m.QueryCorrectness
	s.m.TableAccuracy += m.TableAccuracy
	s.m.SafetyValidation += m.SafetyValidation
	s.m.ValidationAccuracy += m.ValidationAccuracy
}

func (s *sums) mean() Averages {
	if s.n == 0 {
		return Averages{}
	}

	n := float64(s.n)

	return Averages{
		QueryCorrectness:   s.m.QueryCorrectness / n,
		TableAccuracy:      s.m.TableAccuracy / n,
		SafetyValidation:   s.m.SafetyValidation / n,
		ValidationAccuracy: s.m.ValidationAccuracy / n,
	}
}
