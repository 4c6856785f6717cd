package runner

import (
	"context"
	"time"

	"github.com/microcell/microcell/pkg/model"
	"github.com/microcell/microcell/pkg/opsm"
	"github.com/microcell/microcell/pkg/spvalue"
	"github.com/microcell/microcell/pkg/state"
	"github.com/microcell/microcell/pkg/store"
	"github.com/microcell/microcell/pkg/telemetry"
)

// EventSink receives operation events for out-of-band persistence (the
// SQLite diagnostics store). Implementations must be non-blocking enough to
// sit on the tick path; writes are best effort.
type EventSink interface {
	AppendOperationEvent(ctx context.Context, category string, ev opsm.Event)
	AppendGoalEvent(ctx context.Context, goalID, from, to, info string)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) AppendOperationEvent(context.Context, string, opsm.Event) {}
func (NopSink) AppendGoalEvent(context.Context, string, string, string, string) {}

// engine carries what every tick loop needs.
type engine struct {
	name    string
	period  time.Duration
	sm      *store.StateManager
	keys    model.RunnerKeys
	log     *telemetry.Logger
	metrics *telemetry.Metrics
	sink    EventSink
}

func newEngine(name string, period time.Duration, sm *store.StateManager, spID string, log *telemetry.Logger, metrics *telemetry.Metrics, sink EventSink) engine {
	if log == nil {
		log = telemetry.Nop()
	}
	if sink == nil {
		sink = NopSink{}
	}
	return engine{
		name:    name,
		period:  period,
		sm:      sm,
		keys:    model.RunnerKeys{SPID: spID},
		log:     log.NewComponentLogger(name),
		metrics: metrics,
		sink:    sink,
	}
}

// runLoop ticks body until ctx is cancelled. The body never returns an
// error; failures are logged and expressed as state.
func (e engine) runLoop(ctx context.Context, body func(ctx context.Context)) {
	ticker := time.NewTicker(e.period)
	defer ticker.Stop()
	e.log.Debugf("engine online, tick %s", e.period)
	for {
		select {
		case <-ctx.Done():
			e.log.Debug("engine stopped")
			return
		case <-ticker.C:
			if e.metrics != nil {
				e.metrics.EngineTick(e.name)
			}
			body(ctx)
		}
	}
}

// snapshot reads the full state; ok=false means skip this tick.
func (e engine) snapshot(ctx context.Context) (state.State, bool) {
	return e.sm.GetFullState(ctx)
}

// commit writes the diff between old and next, bumping the global
// generation counter once per recorded event.
func (e engine) commit(ctx context.Context, old, next state.State, events int) {
	if events > 0 {
		gen := next.GetIntOrDefaultToZero(e.keys.Generation())
		next = next.MustUpdate(e.keys.Generation(), spvalue.Int(gen+int64(events)))
	}
	diff := old.Diff(next)
	if diff.Len() == 0 {
		return
	}
	e.sm.SetPartialState(ctx, diff)
}
