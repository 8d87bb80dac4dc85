package localization

import (
	"fmt"

	"github.com/bubblelab/bubblenet/internal/errors"
)

var (
	// ErrInvalidInput is wrapped by every *InvalidInputError.
	ErrInvalidInput = errors.NewStd("invalid observation")
	// ErrConvergence is wrapped by every *ConvergenceFailure.
	ErrConvergence = errors.NewStd("position solve did not converge")
)

// InvalidInputError reports an observation rejected before optimization.
type InvalidInputError struct {
	Reason string
	// Index of the offending element, or -1 when the whole vector is at fault.
	Index int
}

func (e *InvalidInputError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%v: element %d: %s", ErrInvalidInput, e.Index, e.Reason)
	}
	return fmt.Sprintf("%v: %s", ErrInvalidInput, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// ErrorCategory implements errors.CategorizedError.
func (e *InvalidInputError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryValidation
}

// ConvergenceFailure reports a solve in which no attempt met its termination
// criteria. Best holds the lowest-residual iterate found, which callers may
// accept as an approximate answer.
type ConvergenceFailure struct {
	Best       Point
	Residual   float64
	Iterations int
	Attempts   int
	Reason     string
}

func (e *ConvergenceFailure) Error() string {
	return fmt.Sprintf("%v after %d iterations, %d attempts (%s): best %.6g,%.6g,%.6g residual %.3g",
		ErrConvergence, e.Iterations, e.Attempts, e.Reason, e.Best[0], e.Best[1], e.Best[2], e.Residual)
}

func (e *ConvergenceFailure) Unwrap() error { return ErrConvergence }

// ErrorCategory implements errors.CategorizedError.
func (e *ConvergenceFailure) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryConvergence
}
