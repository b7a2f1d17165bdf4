package octoframe

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type SchemaErrorKind int

const (
	UnresolvedColumn SchemaErrorKind = iota
	TypeMismatch
	DuplicateColumn
	InvalidPlan
)

func (kind SchemaErrorKind) String() string {
	switch kind {
	case UnresolvedColumn:
		return "unresolved column"
	case TypeMismatch:
		return "type mismatch"
	case DuplicateColumn:
		return "duplicate column"
	case InvalidPlan:
		return "invalid plan"
	}
	return "schema error"
}

// SchemaError is returned while building a plan, never during execution.
type SchemaError struct {
	Kind    SchemaErrorKind
	Column  string
	Message string
}

func (err *SchemaError) Error() string {
	if err.Column != "" {
		return fmt.Sprintf("%s %q: %s", err.Kind, err.Column, err.Message)
	}
	return fmt.Sprintf("%s: %s", err.Kind, err.Message)
}

func NewUnresolvedColumnError(name string, available []string) error {
	return &SchemaError{
		Kind:    UnresolvedColumn,
		Column:  name,
		Message: fmt.Sprintf("column not found, available columns: [%s]", strings.Join(available, ", ")),
	}
}

func NewTypeMismatchError(format string, args ...any) error {
	return &SchemaError{
		Kind:    TypeMismatch,
		Message: fmt.Sprintf(format, args...),
	}
}

func NewDuplicateColumnError(name string) error {
	return &SchemaError{
		Kind:    DuplicateColumn,
		Column:  name,
		Message: "column name used more than once",
	}
}

func NewInvalidPlanError(format string, args ...any) error {
	return &SchemaError{
		Kind:    InvalidPlan,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsSchemaError reports whether err is a SchemaError of the given kind.
func IsSchemaError(err error, kind SchemaErrorKind) bool {
	var schemaErr *SchemaError
	return errors.As(err, &schemaErr) && schemaErr.Kind == kind
}

// ErrInvalidContext is returned when an aggregate or window expression is used
// where no grouping or partitioning context is available.
var ErrInvalidContext = errors.New("invalid context: aggregate or window expression outside of a grouping context")

// OptimizerLimitExceeded is a non-fatal diagnostic, the plan is still usable.
type OptimizerLimitExceeded struct {
	Passes int
}

func (err *OptimizerLimitExceeded) Error() string {
	return fmt.Sprintf("optimizer didn't reach a fixed point within %d passes", err.Passes)
}

var (
	ErrResourceExhausted  = errors.New("memory limit exceeded")
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
)

// ExecutionError is the single terminal error of a failed execution.
type ExecutionError struct {
	StageID  int
	Operator string
	Err      error
}

func (err *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed in %s (stage %d): %s", err.Operator, err.StageID, err.Err)
}

func (err *ExecutionError) Unwrap() error {
	return err.Err
}

// CancellationError is returned when an execution is aborted through its context.
type CancellationError struct {
	Err error
}

func (err *CancellationError) Error() string {
	return fmt.Sprintf("execution cancelled: %s", err.Err)
}

func (err *CancellationError) Unwrap() error {
	return err.Err
}

// NewCancellationError wraps the context's error, defaulting to context.Canceled.
func NewCancellationError(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		err = context.Canceled
	}
	return &CancellationError{Err: err}
}
