package lower

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes lowering failures. All lowering errors are
// non-retryable: they are pure compile-time failures over a fixed input.
type ErrorCode string

const (
	// ErrCodeUnsupportedNodeKind indicates a node kind with no codegen rule.
	ErrCodeUnsupportedNodeKind ErrorCode = "UNSUPPORTED_NODE_KIND"

	// ErrCodeUnsupportedInput indicates an input shape the compiler cannot
	// express, e.g. a non-contiguous state-vector selection.
	ErrCodeUnsupportedInput ErrorCode = "UNSUPPORTED_INPUT"
)

// Error represents a lowering failure with structured fields for
// diagnostics.
type Error struct {
	Code    ErrorCode
	Message string
	Kind    string // offending node kind, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s (kind=%s)", e.Code, e.Message, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewUnsupportedNodeKindError creates an Error for a node kind with no
// codegen rule.
func NewUnsupportedNodeKindError(kind string) *Error {
	return &Error{
		Code:    ErrCodeUnsupportedNodeKind,
		Message: "no codegen rule for node kind",
		Kind:    kind,
	}
}

// NewUnsupportedInputError creates an Error for an unsupported input.
func NewUnsupportedInputError(reason string) *Error {
	return &Error{
		Code:    ErrCodeUnsupportedInput,
		Message: reason,
	}
}

// IsUnsupportedNodeKind returns true if the error is an
// unsupported-node-kind failure. Uses errors.As to handle wrapped errors.
func IsUnsupportedNodeKind(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Code == ErrCodeUnsupportedNodeKind
	}
	return false
}

// IsUnsupportedInput returns true if the error is an unsupported-input
// failure. Uses errors.As to handle wrapped errors.
func IsUnsupportedInput(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Code == ErrCodeUnsupportedInput
	}
	return false
}
