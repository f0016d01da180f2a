/*
Package engine implements the taskforge orchestration engine: a
dependency-aware task scheduler with retry/timeout enforcement, bounded
concurrency, circuit breaking, resource accounting, and saga
compensation.

# Components

  - TaskGraph — validated DAG of tasks built from declared
    dependencies; detects cycles (reporting the full cycle path) and
    unknown dependency names at build time, before any execution
  - Executor — wraps a single task invocation with a hard per-attempt
    timeout and configurable backoff retry (none, linear, exponential)
  - Breaker / BreakerRegistry — per-named-operation circuit breaker
    (Closed, Open, HalfOpen with exactly one trial call)
  - Scheduler — drives one graph to completion under the global
    concurrency limit, merges task outputs for dependents, fires task
    hooks, applies fail-fast skip cascades and saga compensation
  - Runner — binds workflow metadata, config defaults, and the
    on_start / on_complete lifecycle hooks around one Scheduler run

# Execution model

Each task's per-run state machine is Pending -> Ready -> Running ->
{Succeeded, Failed}, with Pending -> Skipped under fail-fast or an
unsatisfiable dependency. A task never starts before every declared
dependency has reached a terminal state. Hooks run synchronously on
the worker goroutine that completed the task, before any dependent is
released. Task bodies communicate only through declared Results and
the shared state store.
*/
package engine
