package store

import (
	"context"
	"sync"

	"github.com/microcell/microcell/pkg/state"
)

// MemoryBackend is a process-local Backend used by tests and the --in-memory
// run mode. A single mutex makes every batch read and write atomic, which is
// exactly the guarantee the Redis backend gets from MSET/MGET.
type MemoryBackend struct {
	mu sync.RWMutex
	m  map[string]state.Assignment
}

// NewMemoryBackend returns an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{m: map[string]state.Assignment{}}
}

// GetBatch implements Backend.
func (b *MemoryBackend) GetBatch(_ context.Context, keys []string) (state.State, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := map[string]state.Assignment{}
	for _, k := range keys {
		if a, ok := b.m[k]; ok {
			out[k] = a
		}
	}
	return state.FromAssignments(out), nil
}

// Keys implements Backend.
func (b *MemoryBackend) Keys(context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.m))
	for k := range b.m {
		keys = append(keys, k)
	}
	return keys, nil
}

// SetPartial implements Backend.
func (b *MemoryBackend) SetPartial(_ context.Context, partial state.State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, a := range partial.Assignments() {
		b.m[k] = a
	}
	return nil
}

// Ping implements Backend.
func (b *MemoryBackend) Ping(context.Context) error { return nil }

// Close implements Backend.
func (b *MemoryBackend) Close() error { return nil }
