// Package orcherr defines the wire-stable error taxonomy described in spec §7.
// Every component that can fail in an expected way returns an *Error rather
// than an ad-hoc error or a panic, so triage, retries, and callers can branch
// on Code without parsing message text.
//
// Grounded on runtime/agent/toolerrors.ToolError's cause-chain pattern: a
// structured error preserves message and causal context while still
// implementing the standard error interface and errors.Is/As.
package orcherr

import (
	"errors"
	"fmt"
	"time"
)

// Code enumerates the canonical error codes from spec §7. These values are
// part of the system's wire contract; do not rename or repurpose one.
type Code string

const (
	// Plan-phase
	CodePlanGenerationFailed   Code = "PLAN_GENERATION_FAILED"
	CodePlanValidationFailed   Code = "PLAN_VALIDATION_FAILED"
	CodePlanCircularDependency Code = "PLAN_CIRCULAR_DEPENDENCY"

	// Tool-phase
	CodeToolNotFound         Code = "TOOL_NOT_FOUND"
	CodeToolValidationFailed Code = "TOOL_VALIDATION_FAILED"
	CodeToolExecutionFailed  Code = "TOOL_EXECUTION_FAILED"
	CodeStepTimeout          Code = "STEP_TIMEOUT"

	// State-phase
	CodeStateTransitionInvalid Code = "STATE_TRANSITION_INVALID"
	CodeConflict               Code = "CONFLICT"
	CodeNotFound               Code = "NOT_FOUND"

	// Infrastructure
	CodeMemoryOperationFailed Code = "MEMORY_OPERATION_FAILED"
	CodeLockAcquireFailed     Code = "LOCK_ACQUIRE_FAILED"
	CodeCheckpointStoreFailed Code = "CHECKPOINT_STORE_FAILED"

	// Normalization-phase (§4.1)
	CodeUnknownTool            Code = "UNKNOWN_TOOL"
	CodeSchemaValidationFailed Code = "SCHEMA_VALIDATION_FAILED"

	// Execution-wide deadline, distinguished from a per-step timeout (§5).
	CodeExecutionTimeout Code = "EXECUTION_TIMEOUT"
)

// recoverableByDefault records which codes are safe to retry without
// compensation when the caller does not override Recoverable explicitly.
var recoverableByDefault = map[Code]bool{
	CodeConflict:          true,
	CodeStepTimeout:       true,
	CodeNotFound:          false,
	CodeLockAcquireFailed: true,
}

// Error is the structured failure type returned across the orchestrator.
// Recoverable=true means the caller may safely retry without running
// compensations (spec §7).
type Error struct {
	Code        Code
	Message     string
	Details     map[string]any
	Recoverable bool
	Timestamp   time.Time
	Cause       *Error
}

// New constructs an Error with the given code and message. Recoverability
// defaults per recoverableByDefault unless the code is unrecognized, in which
// case it defaults to false (fail closed).
func New(code Code, message string) *Error {
	return &Error{
		Code:        code,
		Message:     message,
		Recoverable: recoverableByDefault[code],
		Timestamp:   timeNow(),
	}
}

// Newf is New with fmt.Sprintf-style formatting of the message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap converts an arbitrary error into an *Error chain, preserving an
// existing *Error unchanged and otherwise wrapping err as Cause under the
// supplied code/message.
func Wrap(code Code, message string, err error) *Error {
	if err == nil {
		return New(code, message)
	}
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: code, Message: message, Recoverable: recoverableByDefault[code], Timestamp: timeNow(), Cause: existing}
	}
	return &Error{
		Code:        code,
		Message:     message,
		Recoverable: recoverableByDefault[code],
		Timestamp:   timeNow(),
		Cause:       &Error{Code: code, Message: err.Error(), Timestamp: timeNow()},
	}
}

// WithDetails attaches structured diagnostic fields and returns the receiver
// for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithRecoverable overrides the default recoverability for this error.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap supports errors.Is/As across cause chains.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target carries the same Code, letting callers write
// errors.Is(err, orcherr.New(orcherr.CodeConflict, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// timeNow is a seam so tests can freeze error timestamps; production uses
// the real clock, in UTC.
var timeNow = func() time.Time { return time.Now().UTC() }
