package types

import (
	"fmt"
	"strings"
)

// Confidence is the model's self-reported confidence in a query.
// The zero value is ConfidenceLow.
type Confidence uint8

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

// Confidences lists every confidence level from highest to lowest
var Confidences = []Confidence{ConfidenceHigh, ConfidenceMedium, ConfidenceLow}

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceLow:
		return "low"
	default:
		return fmt.Sprintf("confidence(%d)", uint8(c))
	}
}

// ParseConfidence accepts high, medium or low in any case
func ParseConfidence(s string) (Confidence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ConfidenceHigh, nil
	case "medium":
		return ConfidenceMedium, nil
	case "low":
		return ConfidenceLow, nil
	default:
		return ConfidenceLow, fmt.Errorf("invalid confidence %q: must be high, medium, or low", s)
	}
}

func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Confidence) UnmarshalText(text []byte) error {
	parsed, err := ParseConfidence(string(text))
	if err != nil {
		return err
	}

	*c = parsed

	return nil
}

// Complexity is the semantic validator's estimate of query complexity.
// The zero value is ComplexityLow.
type Complexity uint8

const (
	ComplexityLow Complexity = iota
	ComplexityMedium
	ComplexityHigh
)

func (c Complexity) String() string {
	switch c {
	case ComplexityHigh:
		return "high"
	case ComplexityMedium:
		return "medium"
	case ComplexityLow:
		return "low"
	default:
		return fmt.Sprintf("complexity(%d)", uint8(c))
	}
}

// ParseComplexity accepts high, medium or low in any case
func ParseComplexity(s string) (Complexity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ComplexityHigh, nil
	case "medium":
		return ComplexityMedium, nil
	case "low":
		return ComplexityLow, nil
	default:
		return ComplexityLow, fmt.Errorf("invalid complexity %q: must be low, medium, or high", s)
	}
}

func (c Complexity) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Complexity) UnmarshalText(text []byte) error {
	parsed, err := ParseComplexity(string(text))
	if err != nil {
		return err
	}

	*c = parsed

	return nil
}

// Intent is the dialog manager's classification of a user turn
type Intent string

const (
	IntentNewQuery   Intent = "new_query"
	IntentRefinement Intent = "refinement"
)
