package store

import (
	"context"

	"github.com/microcell/microcell/pkg/state"
)

// Backend is the key/value service the shared state lives in. Values travel
// as JSON-encoded state assignments. Both mutations and multi-key reads are
// atomic with respect to each other; two concurrent writers serialize in
// some order with last-writer-wins per key.
type Backend interface {
	// GetBatch reads the given keys; absent keys are simply missing from
	// the result.
	GetBatch(ctx context.Context, keys []string) (state.State, error)

	// Keys lists every key currently stored.
	Keys(ctx context.Context) ([]string, error)

	// SetPartial atomically applies all assignments of the partial state.
	SetPartial(ctx context.Context, partial state.State) error

	// Ping probes backend health.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
