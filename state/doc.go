/*
Package state provides the durable key/value store shared across
workflow runs.

Three backends implement the same contract:

  - Memory — process-lifetime map, for tests and ephemeral runs
  - SQLite — embedded single-file persistence (gorm + glebarez/sqlite)
  - Redis  — shared store backed by a Redis server (go-redis)

The contract requires atomicity of Increment under concurrent task
access and process-wide visibility; everything else is backend choice.
Values are JSON-encoded, so any serializable scalar or structure
round-trips. Counters written by Increment are stored as plain decimal
and read back as numbers.
*/
package state
