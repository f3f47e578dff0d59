package worker

import (
	"context"
	"errors"
)

// Task is one periodic maintenance job.
type Task interface {
	// Name identifies the task in logs and metrics.
	Name() string

	// Run performs one pass. Return NewPermanentError to take the task off
	// the schedule; any other error is retried on the next interval.
	Run(ctx context.Context) error
}

// PermanentError marks a task failure that will not go away by retrying,
// such as a misconfiguration.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work with PermanentError.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err as a PermanentError.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err or any error it wraps is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
