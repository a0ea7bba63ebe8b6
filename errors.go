// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package modrun

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the terminal failure of a module evaluation.
type ErrorKind int

const (
	_ ErrorKind = iota
	// CompileError indicates the module source could not be parsed.
	CompileError
	// InstantiationError indicates an import could not be resolved or linked.
	InstantiationError
	// RuntimeError indicates the module body threw before suspending.
	RuntimeError
	// RejectionError indicates the module's completion promise rejected.
	RejectionError
)

var (
	// ErrCompile is matched (via errors.Is) by every CompileError.
	ErrCompile = errors.New("modrun: compile error")
	// ErrInstantiation is matched by every InstantiationError.
	ErrInstantiation = errors.New("modrun: instantiation error")
	// ErrRuntime is matched by every RuntimeError.
	ErrRuntime = errors.New("modrun: runtime error")
	// ErrRejection is matched by every RejectionError.
	ErrRejection = errors.New("modrun: rejection error")

	// ErrEvaluationPending is returned when an evaluation is started while
	// another is still outstanding on the same Engine.
	ErrEvaluationPending = errors.New("modrun: an evaluation is already pending")

	// ErrModuleReused is returned when a ModuleRecord that has already been
	// instantiated is evaluated again.
	ErrModuleReused = errors.New("modrun: module record already used")

	// ErrPlatformInUse is returned by New while another Engine is alive.
	ErrPlatformInUse = errors.New("modrun: platform already initialized")

	// ErrClosed is returned for work submitted after Close or Terminate.
	ErrClosed = errors.New("modrun: engine closed")

	// ErrEvaluationOutstanding is the panic value of Close, when it is called
	// while an evaluation is still outstanding.
	ErrEvaluationOutstanding = errors.New("modrun: close with outstanding evaluation")

	// ErrTerminated completes every outstanding evaluation when the Engine
	// is terminated.
	ErrTerminated = errors.New("modrun: engine terminated")

	// ErrModuleNotFound is returned by a Resolver that has no module for a
	// specifier.
	ErrModuleNotFound = errors.New("modrun: module not found")

	// ErrImportCycle indicates the import graph contains a cycle.
	ErrImportCycle = errors.New("modrun: import cycle")

	// ErrExportNotFound indicates an import names an export that the
	// resolved module does not provide.
	ErrExportNotFound = errors.New("modrun: export not found")
)

// EvalError is the terminal error of an evaluation.
type EvalError struct {
	// Err is the underlying cause, if any.
	Err error
	// Module is the name of the module the error is attributed to.
	Module string
	// Message is the rendered exception, rejection reason, or diagnostic.
	Message string
	Kind    ErrorKind
}

var _ error = (*EvalError)(nil)

func (x ErrorKind) String() string {
	switch x {
	case CompileError:
		return "CompileError"
	case InstantiationError:
		return "InstantiationError"
	case RuntimeError:
		return "RuntimeError"
	case RejectionError:
		return "RejectionError"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(x))
	}
}

func (x ErrorKind) sentinel() error {
	switch x {
	case CompileError:
		return ErrCompile
	case InstantiationError:
		return ErrInstantiation
	case RuntimeError:
		return ErrRuntime
	case RejectionError:
		return ErrRejection
	default:
		return nil
	}
}

func (e *EvalError) Error() string {
	if e.Module == "" {
		return "modrun: " + e.Kind.String() + ": " + e.Message
	}
	return "modrun: " + e.Kind.String() + " in " + e.Module + ": " + e.Message
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *EvalError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the ErrorKind of the first EvalError in err's chain, or
// zero if there is none.
func KindOf(err error) ErrorKind {
	var e *EvalError
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newEvalError(kind ErrorKind, module string, cause error, message string) *EvalError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &EvalError{
		Kind:    kind,
		Module:  module,
		Message: message,
		Err:     cause,
	}
}
