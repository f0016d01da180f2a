package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Graph-build errors (fatal, no run starts).
const (
	ErrCodeCycle             ErrorCode = "CYCLE"
	ErrCodeUnknownDependency ErrorCode = "UNKNOWN_DEPENDENCY"
	ErrCodeSelfDependency    ErrorCode = "SELF_DEPENDENCY"
	ErrCodeDuplicateTask     ErrorCode = "DUPLICATE_TASK"
)

// Per-attempt and terminal task errors.
const (
	ErrCodeTimeout          ErrorCode = "TIMEOUT"
	ErrCodeTaskFailure      ErrorCode = "TASK_FAILURE"
	ErrCodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
	ErrCodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
)

// Contract violations and infrastructure errors.
const (
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeDoubleRelease     ErrorCode = "DOUBLE_RELEASE"
	ErrCodeSagaCompensation  ErrorCode = "SAGA_COMPENSATION"
	ErrCodeRunAborted        ErrorCode = "RUN_ABORTED"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
)

// Error is a structured error with a stable code and optional cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause attaches a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable by the executor.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// GetErrorCode extracts the code from any error in the chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether the executor may retry after err.
// Circuit breaker rejections and contract violations are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var coe *CircuitOpenError
	if errors.As(err, &coe) {
		return false
	}
	var dre *DoubleReleaseError
	if errors.As(err, &dre) {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return true
}

// CycleError reports a dependency cycle found at graph-build time.
// Cycle holds the full cycle path, first node repeated at the end.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// UnknownDependencyError reports a dependency name that resolves to no
// task in the same graph.
type UnknownDependencyError struct {
	Task    string
	Missing string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %q depends on unknown task %q", e.Task, e.Missing)
}

// CircuitOpenError is returned when a call is short-circuited by an
// open breaker without invoking the wrapped operation.
type CircuitOpenError struct {
	Name       string
	Failures   int
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q open after %d consecutive failures, retry after %v",
		e.Name, e.Failures, e.RetryAfter)
}

// ResourceExhaustedError is returned when an allocation exceeds the
// remaining capacity of a resource kind.
type ResourceExhaustedError struct {
	Kind      string
	Requested int64
	Available int64
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("resource %q exhausted: requested %d, available %d",
		e.Kind, e.Requested, e.Available)
}

// DoubleReleaseError reports a second Release on the same allocation
// handle. Surfaced rather than swallowed to catch leak bugs early.
type DoubleReleaseError struct {
	Kind string
}

func (e *DoubleReleaseError) Error() string {
	return fmt.Sprintf("allocation for resource %q already released", e.Kind)
}

// SagaCompensationError aggregates errors raised while running
// compensating actions. It is logged and reported, never allowed to
// override the original failure's status.
type SagaCompensationError struct {
	Task string
	Errs []error
}

func (e *SagaCompensationError) Error() string {
	return fmt.Sprintf("saga compensation for %q finished with %d error(s): %v",
		e.Task, len(e.Errs), errors.Join(e.Errs...))
}

func (e *SagaCompensationError) Unwrap() []error {
	return e.Errs
}

// ErrKeyNotFound is returned by Store.Get for absent keys.
var ErrKeyNotFound = errors.New("state: key not found")
