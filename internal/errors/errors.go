// Package errors defines the typed error used across askdb. The Type says which
// pipeline stage or subsystem failed; Details itemizes every reason at once.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies an Error
type ErrorType string

// Pipeline stages
const (
	ErrTypeLoad               ErrorType = "load"
	ErrTypeGeneration         ErrorType = "generation"
	ErrTypeSafety             ErrorType = "safety"
	ErrTypeSemanticValidation ErrorType = "semantic_validation"
	ErrTypeExecution          ErrorType = "execution"
	ErrTypeRefinement         ErrorType = "refinement"
)

// Supporting subsystems
const (
	ErrTypeValidation ErrorType = "validation"
	ErrTypeNotFound   ErrorType = "not_found"
	ErrTypeConfig     ErrorType = "config"
	ErrTypeNetwork    ErrorType = "network"
	ErrTypeFileSystem ErrorType = "filesystem"
	ErrTypeInternal   ErrorType = "internal"
)

type Error struct {
	Type        ErrorType
	Message     string
	Cause       error
	Suggestions []string
	Details     []string
}

// Error renders "type: message [detail; detail] (caused by: cause)"
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(string(e.Type) + ": " + e.Message)

	if len(e.Details) > 0 {
		b.WriteString(" [" + strings.Join(e.Details, "; ") + "]")
	}

	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}

	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// WithSuggestion appends a hint for the user and returns e
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithDetails appends itemized reasons and returns e
func (e *Error) WithDetails(details ...string) *Error {
	e.Details = append(e.Details, details...)
	return e
}

func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message}
}

func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return New(errType, fmt.Sprintf(format, args...))
}

// Wrap attaches a type and message to err, which stays reachable through errors.Is/As
func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message, Cause: err}
}

func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return Wrap(err, errType, fmt.Sprintf(format, args...))
}

// GetType returns the type of the outermost *Error in err's chain, or
// ErrTypeInternal when there is none
func GetType(err error) ErrorType {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Type
	}

	return ErrTypeInternal
}

// IsType reports whether err carries an *Error of errType
func IsType(err error, errType ErrorType) bool {
	var typed *Error
	return errors.As(err, &typed) && typed.Type == errType
}

// NewConfigError reports a bad setting, naming the field when known
func NewConfigError(message, field string) *Error {
	if field != "" {
		message = fmt.Sprintf("%s (field: %s)", message, field)
	}

	return New(ErrTypeConfig, message).
		WithSuggestion("Check your configuration file syntax").
		WithSuggestion("Run 'askdb config' to see the active configuration")
}

// NewLoadError lists every rule a schema document broke
func NewLoadError(schemaName string, reasons []string) *Error {
	return Newf(ErrTypeLoad, "schema %q could not be loaded", schemaName).
		WithDetails(reasons...).
		WithSuggestion("Run 'askdb schema check " + schemaName + "' to see every problem")
}

// NewSafetyError carries the matched safety rules verbatim
func NewSafetyError(violations []string) *Error {
	return New(ErrTypeSafety, "query rejected by safety rules").WithDetails(violations...)
}
