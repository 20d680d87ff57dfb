// Package settings defines the key/value application settings capability the
// engine reads tuning values from (worker pool size, default timeouts).
// Settings are written by the host application; the engine only reads.
package settings

import (
	"context"
	"errors"
)

// Store persists application settings. Reads are safe for concurrent use;
// writes are serialised internally.
type Store interface {
	// Get returns the value for key. Returns ErrNotFound when absent.
	Get(ctx context.Context, key string) (string, error)
	// Set stores the value for key.
	Set(ctx context.Context, key, value string) error
}

// ErrNotFound indicates the requested setting does not exist.
var ErrNotFound = errors.New("setting not found")

// Engine-recognised setting keys.
const (
	// KeyWorkerPoolSize overrides the engine worker pool size.
	KeyWorkerPoolSize = "engine.workerPoolSize"
	// KeyDefaultNodeTimeout overrides the default per-node timeout
	// (Go duration string).
	KeyDefaultNodeTimeout = "engine.defaultNodeTimeout"
	// KeyMaxExecutionDuration overrides the per-execution wall-clock budget
	// (Go duration string).
	KeyMaxExecutionDuration = "engine.maxExecutionDuration"
)
