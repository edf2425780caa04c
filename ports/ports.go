// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"time"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Persisted Configuration
// -----------------------------------------------------------------------------

// ConfigStore is the persisted key/value configuration of a kernel session.
// Values are loaded once when the store is opened; every Set is written
// back synchronously before it returns.
type ConfigStore interface {
	// Get returns the value stored under key.
	Get(key string) (string, bool)

	// Set stores value under key and persists the whole mapping.
	Set(key, value string) error

	// All returns a copy of every stored key/value pair.
	All() map[string]string

	// Close releases the underlying resource.
	Close() error
}

// -----------------------------------------------------------------------------
// Observability
// -----------------------------------------------------------------------------

// Metrics receives kernel activity. Every core manager accepts a nil Metrics.
type Metrics interface {
	// CommandExecuted records one dispatched console line.
	// result is one of "ok", "unknown", "denied", "error".
	CommandExecuted(command, result string)

	// EventDispatched records one Dispatch call and how many handlers ran.
	EventDispatched(event string, handlers int)

	// TaskRun records one task firing.
	TaskRun(task string, d time.Duration, err error)

	// StageInvoked records one lifecycle stage method call.
	StageInvoked(module, stage string, err error)

	// ModulesDiscovered records the number of modules known to the loader.
	ModulesDiscovered(n int)
}
