// Package errs defines the error taxonomy shared by the parameter, table,
// scenario and series layers.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrFormat            = errors.New("format error")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrBuild             = errors.New("build error")
	ErrRunFailure        = errors.New("run failure")
	ErrConflict          = errors.New("conflict")
	ErrIO                = errors.New("io error")
)

// FormatError indicates a malformed input file.
type FormatError struct {
	Path string
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("format error: %s:%d: %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("format error: %s: %s", e.Path, e.Msg)
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// DimensionMismatchError indicates a parameter whose value count disagrees
// with its declared dimensions.
type DimensionMismatchError struct {
	Param    string
	Expected int
	Got      int
	Detail   string
}

func (e *DimensionMismatchError) Error() string {
	msg := fmt.Sprintf("dimension mismatch: parameter %s expects %d values, got %d", e.Param, e.Expected, e.Got)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// BuildError indicates an incomplete base input tree or a directory collision.
type BuildError struct {
	Dir    string
	Reason string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("build %s: %s: %v", e.Dir, e.Reason, e.Err)
	}
	return fmt.Sprintf("build %s: %s", e.Dir, e.Reason)
}

func (e *BuildError) Unwrap() error { return e.Err }

func (e *BuildError) Is(target error) bool { return target == ErrBuild }

// FailureKind classifies a RunFailure.
type FailureKind string

const (
	FailureLaunch    FailureKind = "launch"
	FailureExit      FailureKind = "exit"
	FailureTimeout   FailureKind = "timeout"
	FailureOutput    FailureKind = "output"
	FailureCancelled FailureKind = "cancelled"
)

// RunFailure records why an external simulator invocation did not succeed.
type RunFailure struct {
	ScenarioID string
	Kind       FailureKind
	ExitCode   int
	Err        error
}

func (e *RunFailure) Error() string {
	switch e.Kind {
	case FailureExit:
		return fmt.Sprintf("run %s failed: exit code %d", e.ScenarioID, e.ExitCode)
	case FailureTimeout:
		return fmt.Sprintf("run %s failed: timed out", e.ScenarioID)
	}
	if e.Err != nil {
		return fmt.Sprintf("run %s failed (%s): %v", e.ScenarioID, e.Kind, e.Err)
	}
	return fmt.Sprintf("run %s failed (%s)", e.ScenarioID, e.Kind)
}

func (e *RunFailure) Unwrap() error { return e.Err }

func (e *RunFailure) Is(target error) bool { return target == ErrRunFailure }

// ConflictError indicates duplicate scenario or series identifiers.
type ConflictError struct {
	ID   string
	What string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: duplicate %s identifier %q", e.What, e.ID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// IOError wraps a filesystem failure with the operation and path involved.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

// IO is shorthand for constructing an IOError; it returns nil for a nil err.
func IO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}
