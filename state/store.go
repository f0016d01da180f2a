package state

import (
	"github.com/taskforge/taskforge/types"
)

// Store is the full backend contract: the task-facing surface from
// types.Store plus lifecycle management.
type Store interface {
	types.Store

	// Close releases backend resources. The store is unusable after.
	Close() error
}

// Stats is re-exported for callers that only import state.
type Stats = types.StoreStats
