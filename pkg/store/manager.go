package store

import (
	"context"
	"sync"
	"time"

	"github.com/microcell/microcell/pkg/state"
	"github.com/microcell/microcell/pkg/telemetry"
)

// StateManager is the facade every engine and emulator uses. Failed round
// trips are absorbed: reads return ok=false, writes become no-ops, and the
// engine interprets either as "skip this tick". Health is tracked so the
// CLI can surface it.
type StateManager struct {
	backend Backend
	log     *telemetry.Logger
	metrics *telemetry.Metrics

	mu        sync.Mutex
	healthy   bool
	lastError error
	lastProbe time.Time
}

// NewStateManager wraps a backend.
func NewStateManager(backend Backend, log *telemetry.Logger, metrics *telemetry.Metrics) *StateManager {
	if log == nil {
		log = telemetry.Nop()
	}
	return &StateManager{
		backend: backend,
		log:     log.NewComponentLogger("state_manager"),
		metrics: metrics,
		healthy: true,
	}
}

// Backend exposes the underlying backend, for lifecycle management.
func (m *StateManager) Backend() Backend { return m.backend }

// Health reports reachability and the last observed error.
func (m *StateManager) Health() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy, m.lastError
}

// CheckHealth probes the backend and records the outcome.
func (m *StateManager) CheckHealth(ctx context.Context) error {
	err := m.backend.Ping(ctx)
	m.record(err)
	return err
}

// GetFullState reads every stored variable. ok is false when the backend is
// unavailable.
func (m *StateManager) GetFullState(ctx context.Context) (state.State, bool) {
	keys, err := m.backend.Keys(ctx)
	if err != nil {
		m.record(err)
		m.log.WithError(err).Debug("full state read skipped")
		return state.New(), false
	}
	return m.GetStateForKeys(ctx, keys)
}

// GetStateForKeys reads a bounded set of keys.
func (m *StateManager) GetStateForKeys(ctx context.Context, keys []string) (state.State, bool) {
	s, err := m.backend.GetBatch(ctx, keys)
	if err != nil {
		m.record(err)
		m.log.WithError(err).Debug("batch read skipped")
		return state.New(), false
	}
	m.record(nil)
	return s, true
}

// GetValue reads one variable; absent or unreachable reads as UNKNOWN via
// the zero assignment.
func (m *StateManager) GetValue(ctx context.Context, key string) (state.Assignment, bool) {
	s, ok := m.GetStateForKeys(ctx, []string{key})
	if !ok {
		return state.Assignment{}, false
	}
	return s.Get(key)
}

// SetPartialState atomically applies a diff. On backend failure the write is
// dropped; the caller re-reads and re-decides next tick.
func (m *StateManager) SetPartialState(ctx context.Context, partial state.State) {
	if partial.Len() == 0 {
		return
	}
	if err := m.backend.SetPartial(ctx, partial); err != nil {
		m.record(err)
		m.log.WithError(err).Warn("partial state write dropped")
		return
	}
	m.record(nil)
}

func (m *StateManager) record(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastProbe = time.Now()
	if err != nil {
		m.healthy = false
		m.lastError = err
		if m.metrics != nil {
			m.metrics.StoreRoundtripError()
		}
		return
	}
	m.healthy = true
}
