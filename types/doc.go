/*
Package types defines the core value types shared across the taskforge
engine: tasks, results, workflows, configuration, and the error
taxonomy.

Tasks are immutable once constructed; their per-run execution state
lives in the engine package. Task bodies are opaque callables of type
Command receiving a TaskContext — the engine never inspects what a
command does, it only observes the Result.

# Core types

  - Task              — a named unit of work with dependencies, timeout,
    retry policy, resource requests, and lifecycle hooks
  - Command           — opaque task body: func(*TaskContext) Result
  - Result            — tagged outcome (success/failure) with outputs
  - TaskContext       — per-invocation context with export buffer and
    fan-out helper for async tasks
  - Workflow          — task list plus metadata, config, and
    workflow-level hooks
  - WorkflowConfig    — recognized config block options
  - Store             — the key/value surface reachable from task bodies

# Errors

Structured error values with stable codes (ErrorCode) plus dedicated
structs carrying diagnostic context: CycleError, UnknownDependencyError,
CircuitOpenError, ResourceExhaustedError, DoubleReleaseError,
SagaCompensationError. All support errors.Is / errors.As.
*/
package types
