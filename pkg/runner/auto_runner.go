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

// AutoRunner fires guarded side effects outside of planning: every tick it
// takes each automatic transition whose guard holds and advances every
// automatic operation through the standard state machine. Ordering within a
// tick is the model's declaration order; each taken transition commits as
// part of one atomic diff.
type AutoRunner struct {
	engine
	model           model.Model
	opTracer        *TraceLogger
	transitionTrace *TraceLogger
}

// NewAutoRunner assembles the auto engine.
func NewAutoRunner(m model.Model, sm *store.StateManager, period time.Duration, log *telemetry.Logger, metrics *telemetry.Metrics, sink EventSink) *AutoRunner {
	return &AutoRunner{
		engine:          newEngine("auto_runner", period, sm, m.SPID, log, metrics, sink),
		model:           m,
		opTracer:        NewTraceLogger(5, 4),
		transitionTrace: NewTraceLogger(5, 4),
	}
}

// Run ticks until ctx is cancelled.
func (r *AutoRunner) Run(ctx context.Context) {
	r.runLoop(ctx, r.tick)
}

func (r *AutoRunner) tick(ctx context.Context) {
	s, ok := r.snapshot(ctx)
	if !ok {
		return
	}
	next, events, taken := r.step(s, time.Now())
	for _, ev := range events {
		r.opTracer.Record(ev)
		r.sink.AppendOperationEvent(ctx, "automatic", ev)
		if r.metrics != nil {
			r.metrics.OperationEvent(ev.Operation, string(ev.To))
		}
	}
	if serialized, ok := r.opTracer.Serialize(); ok {
		next = next.MustUpdate(r.keys.LoggerAutomaticOperations(), spvalue.String(serialized))
	}
	if serialized, ok := r.transitionTrace.Serialize(); ok {
		next = next.MustUpdate(r.keys.LoggerAutomaticTransitions(), spvalue.String(serialized))
	}
	r.commit(ctx, s, next, len(events)+taken)
}

// step is the pure tick body, separated for tests.
func (r *AutoRunner) step(s state.State, now time.Time) (state.State, []opsm.Event, int) {
	taken := 0
	for _, t := range r.model.AutoTransitions {
		if !t.EvalRunning(s) {
			continue
		}
		r.log.Infof("taking the free transition %s", t.Name)
		s = t.TakeRunning(s)
		counterKey := r.keys.TakenAutoCounter(t.Name)
		s = s.MustUpdate(counterKey, spvalue.Int(s.GetIntOrDefaultToZero(counterKey)+1))
		r.transitionTrace.Record(opsm.Event{
			Operation: t.Name,
			From:      model.OpExecuting,
			To:        model.OpCompleted,
			Narrative: "Transition taken.",
			Timestamp: now,
		})
		if r.metrics != nil {
			r.metrics.AutoTransitionTaken(t.Name)
		}
		taken++
	}

	var events []opsm.Event
	for _, op := range r.model.AutoOperations {
		var evs []opsm.Event
		switch opsm.CurrentState(op, s) {
		case model.OpCompleted, model.OpBypassed:
			// Automatic operations re-arm once they finish; their
			// precondition decides whether another round fires.
			s, evs = opsm.Reset(op, s, now)
		default:
			s, evs = opsm.Tick(op, s, now, opsm.Options{})
		}
		events = append(events, evs...)
	}
	return s, events, taken
}
