package eval

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes evaluation errors.
type ErrorCode string

const (
	// ErrCodeMissingID indicates an update or delete without an identifier.
	ErrCodeMissingID ErrorCode = "MISSING_ID"

	// ErrCodeCircularDependency indicates a cycle or self-reference among
	// sibling operations.
	ErrCodeCircularDependency ErrorCode = "CIRCULAR_DEPENDENCY"

	// ErrCodeUnknownSibling indicates a $ref to an operation with no result.
	ErrCodeUnknownSibling ErrorCode = "UNKNOWN_SIBLING"

	// ErrCodeUnknownReference indicates a $-tagged value with no known tag.
	ErrCodeUnknownReference ErrorCode = "UNKNOWN_REFERENCE"

	// ErrCodeInputPath indicates a null or missing intermediate segment of
	// an $input path.
	ErrCodeInputPath ErrorCode = "INPUT_PATH"
)

// EvalError is the single error kind raised during batch evaluation.
type EvalError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Operation names the offending operation.
	Operation string

	// Tag is the offending DSL tag, e.g. "$input", when applicable.
	Tag string
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	if e.Operation != "" && e.Tag != "" {
		return fmt.Sprintf("%s: %s (operation=%s, tag=%s)", e.Code, e.Message, e.Operation, e.Tag)
	}
	if e.Operation != "" {
		return fmt.Sprintf("%s: %s (operation=%s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCycleError returns true if err is a circular-dependency error.
// Uses errors.As to handle wrapped errors.
func IsCycleError(err error) bool {
	return hasCode(err, ErrCodeCircularDependency)
}

// IsMissingIDError returns true if err reports a missing identifier.
func IsMissingIDError(err error) bool {
	return hasCode(err, ErrCodeMissingID)
}

// IsUnknownSiblingError returns true if err reports an unresolved $ref.
func IsUnknownSiblingError(err error) bool {
	return hasCode(err, ErrCodeUnknownSibling)
}

func hasCode(err error, code ErrorCode) bool {
	var ee *EvalError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

func newError(code ErrorCode, operation, tag, format string, args ...any) *EvalError {
	return &EvalError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Operation: operation,
		Tag:       tag,
	}
}
