// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies control-plane failures by behavior, not by Go type.
type ErrorKind string

const (
	// KindCompileError marks plan compilation failure (unparseable LLM
	// reply, invalid DAG, unknown tool).
	KindCompileError ErrorKind = "compile_error"

	// KindInvalidPlan marks a cyclic or malformed DAG detected at
	// scheduler entry.
	KindInvalidPlan ErrorKind = "invalid_plan"

	// KindAgentError marks an agent task that produced no output.
	KindAgentError ErrorKind = "agent_error"

	// KindGateFailed marks a quality gate rejection after all retries.
	KindGateFailed ErrorKind = "gate_failed"

	// KindEscalationFailed marks a gate failure whose escalation target
	// also failed.
	KindEscalationFailed ErrorKind = "escalation_failed"

	// KindCancelled marks an explicit cancel or timeout.
	KindCancelled ErrorKind = "cancelled"

	// KindBusOverflow marks an event queue publish rejection.
	KindBusOverflow ErrorKind = "bus_overflow"

	// KindDeliveryFailed marks a webhook that exhausted its retries.
	KindDeliveryFailed ErrorKind = "delivery_failed"

	// KindIOError marks store snapshot or attachment I/O failure.
	KindIOError ErrorKind = "io_error"

	// KindValidationError marks an input constraint violation at an API
	// boundary.
	KindValidationError ErrorKind = "validation_error"

	// KindInternal marks everything unexpected. Usually retryable.
	KindInternal ErrorKind = "internal_error"
)

// Error carries an ErrorKind alongside detail text and an optional cause.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

// E constructs a kinded error with formatted detail.
func E(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap constructs a kinded error wrapping a cause.
func Wrap(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind of err, or KindInternal for unclassified
// errors. A nil err has no kind and returns the empty string.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
