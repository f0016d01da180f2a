package types

import "context"

// Store is the cross-task, cross-run key/value surface reachable from
// task bodies during execution. Implementations must be safe for
// concurrent use: multiple tasks may touch the store in parallel, and
// Increment in particular must be atomic (no lost updates).
type Store interface {
	// Set stores a serializable value under key, replacing any
	// previous value.
	Set(ctx context.Context, key string, value any) error

	// Get retrieves the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (any, error)

	// Increment atomically adds delta to the numeric value under key,
	// creating the key at delta if absent, and returns the value after
	// the increment.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key holds a value.
	Exists(ctx context.Context, key string) (bool, error)

	// Clear removes every key. Intended for run teardown and tests.
	Clear(ctx context.Context) error

	// Stats reports read-only store statistics.
	Stats(ctx context.Context) (StoreStats, error)
}

// StoreStats reports aggregate information about a store.
type StoreStats struct {
	TotalKeys int64  `json:"total_keys"`
	Backend   string `json:"backend"`
}
