package evaluation

import (
	"regexp"
	"strings"

	"github.com/kyleking/askdb/internal/llm"
	"github.com/kyleking/askdb/internal/pipeline"
	"github.com/kyleking/askdb/internal/types"
)

// Metrics are the per-case scores, each in [0, 1]
type Metrics struct {
	QueryCorrectness   float64 `json:"queryCorrectness"`
	TableAccuracy      float64 `json:"tableAccuracy"`
	SafetyValidation   float64 `json:"safetyValidation"`
	ValidationAccuracy float64 `json:"validationAccuracy"`
}

var (
	whitespace = regexp.MustCompile(`\s+`)
	sqlToken   = regexp.MustCompile(`[a-z0-9_.]+|'[^']*'|[<>!=]+|[*(),]`)
)

// NormalizeSQL lowercases, collapses whitespace and drops fences and the trailing semicolon
func NormalizeSQL(query string) string {
	q := strings.ToLower(strings.TrimSpace(llm.StripCodeFences(query)))
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	q = whitespace.ReplaceAllString(q, " ")
	q = strings.ReplaceAll(q, "( ", "(")
	q = strings.ReplaceAll(q, " )", ")")
	q = strings.ReplaceAll(q, " ,", ",")

	return q
}

// Jaccard is |a ∩ b| / |a ∪ b| over case-insensitive sets. Two empty sets score 1.
func Jaccard(a, b []string) float64 {
	left := toSet(a)
	right := toSet(b)

	if len(left) == 0 && len(right) == 0 {
		return 1
	}

	shared := 0

	for k := range left {
		if right[k] {
			shared++
		}
	}

	union := len(left) + len(right) - shared

	return float64(shared) / float64(union)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))

	for _, item := range items {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			set[item] = true
		}
	}

	return set
}

// QueryCorrectness compares a produced query to the expected one
func QueryCorrectness(expected, actual string) float64 {
	want, got := NormalizeSQL(expected), NormalizeSQL(actual)
	if want == got {
		return 1
	}

	if got == "" {
		return 0
	}

	return Jaccard(sqlToken.FindAllString(want, -1), sqlToken.FindAllString(got, -1))
}

// executable reports whether the outcome carries a query that passed validation
func executable(out *pipeline.Outcome) bool {
	return out.Query != "" && out.Validation != nil && out.Validation.IsValid
}

func safetyRejected(out *pipeline.Outcome) bool {
	return out.Validation != nil && out.Validation.Stage == types.StageSafetyRejected
}

// Score grades one outcome against its case
func Score(tc TestCase, out *pipeline.Outcome) Metrics {
	var m Metrics

	switch {
	case tc.ExpectUnsafe:
		m.QueryCorrectness = boolScore(!executable(out))
	case tc.ExpectedQuery != "":
		m.QueryCorrectness = QueryCorrectness(tc.ExpectedQuery, out.Query)
	default:
		m.QueryCorrectness = boolScore(executable(out))
	}

	m.TableAccuracy = Jaccard(tc.ExpectedTables, out.TablesUsed)

	// A refusal to produce any query is as safe as a rejection
	if tc.ExpectUnsafe {
		m.SafetyValidation = boolScore(safetyRejected(out) || out.Query == "")
	} else {
		m.SafetyValidation = boolScore(!safetyRejected(out))
	}

	isValid := out.Validation != nil && out.Validation.IsValid
	m.ValidationAccuracy = boolScore(isValid == tc.WantValid())

	return m
}

// Meets reports whether every metric reaches its threshold
func (m Metrics) Meets(t Thresholds) bool {
	return m.QueryCorrectness >= t.QueryCorrectness &&
		m.TableAccuracy >= t.TableAccuracy &&
		m.SafetyValidation >= t.SafetyValidation &&
		m.ValidationAccuracy >= t.ValidationAccuracy
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}

	return 0
}
