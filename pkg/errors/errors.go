// Package errors defines the trainer's error taxonomy: sentinel errors for
// precondition, data, and runtime failures, plus an AppError wrapper that
// records which class a failure belongs to.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidBoundaries = errors.New("invalid split boundaries")
	ErrMissingDataloader = errors.New("previous task dataloader unavailable")
	ErrMalformedDataset  = errors.New("malformed dataset")
	ErrArtifactCorrupt   = errors.New("embedding artifact corrupt")
)

// Class partitions failures the way the run treats them: precondition and
// data errors are fatal before any training happens, runtime errors abort
// the task loop.
type Class string

const (
	ClassPrecondition Class = "precondition"
	ClassData         Class = "data"
	ClassRuntime      Class = "runtime"
)

// AppError wraps a sentinel error with a class and message.
type AppError struct {
	Err     error
	Class   Class
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New builds an AppError around a sentinel.
func New(sentinel error, class Class, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Class:   class,
		Message: message,
	}
}

// Newf builds an AppError with a formatted message.
func Newf(sentinel error, class Class, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Class:   class,
		Message: fmt.Sprintf(format, args...),
	}
}

// ClassOf returns the class recorded on err, or ClassRuntime when err does
// not carry one.
func ClassOf(err error) Class {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Class
	}
	switch {
	case errors.Is(err, ErrInvalidBoundaries), errors.Is(err, ErrMissingDataloader), errors.Is(err, ErrInvalidConfig):
		return ClassPrecondition
	case errors.Is(err, ErrMalformedDataset), errors.Is(err, ErrArtifactCorrupt):
		return ClassData
	default:
		return ClassRuntime
	}
}
