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

// SOPRunner drives the currently selected SOP tree to completion. SOP
// selection happens through state: an initiating operation sets the
// sop_enabled, sop_id and sop_state variables, and this engine picks the
// tree up from there.
type SOPRunner struct {
	engine
	model  model.Model
	tracer *TraceLogger
}

// NewSOPRunner assembles the SOP engine.
func NewSOPRunner(m model.Model, sm *store.StateManager, period time.Duration, log *telemetry.Logger, metrics *telemetry.Metrics, sink EventSink) *SOPRunner {
	return &SOPRunner{
		engine: newEngine("sop_runner", period, sm, m.SPID, log, metrics, sink),
		model:  m,
		tracer: NewTraceLogger(5, 4),
	}
}

// Run ticks until ctx is cancelled.
func (r *SOPRunner) Run(ctx context.Context) {
	r.runLoop(ctx, r.tick)
}

func (r *SOPRunner) tick(ctx context.Context) {
	s, ok := r.snapshot(ctx)
	if !ok {
		return
	}
	next, events := r.step(s, time.Now())
	for _, ev := range events {
		r.tracer.Record(ev)
		r.sink.AppendOperationEvent(ctx, "sop", ev)
		if r.metrics != nil {
			r.metrics.OperationEvent(ev.Operation, string(ev.To))
		}
	}
	if serialized, ok := r.tracer.Serialize(); ok {
		next = next.MustUpdate(r.keys.LoggerSOPOperations(), spvalue.String(serialized))
	}
	if serialized, ok := r.tracer.SerializeAggregate(); ok {
		next = next.MustUpdate(r.keys.LoggerSOPOperationsAgg(), spvalue.String(serialized))
	}
	r.commit(ctx, s, next, len(events))
}

// step is the pure tick body, separated for tests.
func (r *SOPRunner) step(s state.State, now time.Time) (state.State, []opsm.Event) {
	k := r.keys
	if !s.GetBoolOrDefaultToFalse(k.SOPEnabled()) {
		return s, nil
	}
	sopID := s.GetStringOrDefaultToUnknown(k.SOPID())
	sop, ok := r.model.SOP(sopID)
	if !ok {
		return s, nil
	}

	switch model.SOPStatus(s.GetStringOrDefaultToUnknown(k.SOPState())) {
	case model.SOPStatusInitial:
		// Fresh run: the contained operations restart from scratch.
		var events []opsm.Event
		for _, op := range sop.Root.Operations() {
			var evs []opsm.Event
			s, evs = opsm.Reset(*op, s, now)
			events = append(events, evs...)
		}
		r.log.Infof("starting sop %s", sopID)
		s = s.MustUpdate(k.SOPState(), spvalue.String(string(model.SOPStatusExecuting)))
		return s, events

	case model.SOPStatusExecuting:
		next, events := r.drive(sop.Root, s, now)
		switch r.status(sop.Root, next) {
		case model.SOPStatusCompleted:
			r.log.Infof("sop %s completed", sopID)
			next = next.MustUpdate(k.SOPState(), spvalue.String(string(model.SOPStatusCompleted)))
		case model.SOPStatusFailed:
			r.log.Warnf("sop %s failed", sopID)
			next = next.MustUpdate(k.SOPState(), spvalue.String(string(model.SOPStatusFailed)))
		}
		return next, events

	default:
		// Completed and Failed hold until the initiating operation resets
		// the handshake.
		return s, nil
	}
}

// status evaluates a node without driving it.
func (r *SOPRunner) status(n *model.SOPNode, s state.State) model.SOPStatus {
	switch n.Kind {
	case model.SOPOperation:
		switch opsm.CurrentState(*n.Operation, s) {
		case model.OpCompleted, model.OpBypassed:
			return model.SOPStatusCompleted
		case model.OpFatal:
			return model.SOPStatusFailed
		case model.OpInitial:
			return model.SOPStatusInitial
		default:
			return model.SOPStatusExecuting
		}

	case model.SOPSequence:
		for i, c := range n.Children {
			switch st := r.status(c, s); st {
			case model.SOPStatusFailed:
				return model.SOPStatusFailed
			case model.SOPStatusCompleted:
				continue
			case model.SOPStatusInitial:
				if i == 0 {
					return model.SOPStatusInitial
				}
				return model.SOPStatusExecuting
			default:
				return model.SOPStatusExecuting
			}
		}
		return model.SOPStatusCompleted

	case model.SOPParallel:
		// A fatal branch does not interrupt its siblings; failure is
		// reported only after every branch has come to a stop.
		anyFailed, anyRunning := false, false
		for _, c := range n.Children {
			switch r.status(c, s) {
			case model.SOPStatusFailed:
				anyFailed = true
			case model.SOPStatusCompleted:
			default:
				anyRunning = true
			}
		}
		switch {
		case anyRunning:
			return model.SOPStatusExecuting
		case anyFailed:
			return model.SOPStatusFailed
		default:
			return model.SOPStatusCompleted
		}

	case model.SOPAlternative:
		for _, c := range n.Children {
			if st := r.status(c, s); st != model.SOPStatusInitial {
				return st
			}
		}
		return model.SOPStatusInitial
	}
	return model.SOPStatusInitial
}

// drive advances the parts of the tree that should progress this tick.
func (r *SOPRunner) drive(n *model.SOPNode, s state.State, now time.Time) (state.State, []opsm.Event) {
	switch n.Kind {
	case model.SOPOperation:
		if st := r.status(n, s); st == model.SOPStatusCompleted || st == model.SOPStatusFailed {
			return s, nil
		}
		return opsm.Tick(*n.Operation, s, now, opsm.Options{})

	case model.SOPSequence:
		for _, c := range n.Children {
			switch r.status(c, s) {
			case model.SOPStatusCompleted:
				continue
			case model.SOPStatusFailed:
				return s, nil
			default:
				return r.drive(c, s, now)
			}
		}
		return s, nil

	case model.SOPParallel:
		var events []opsm.Event
		for _, c := range n.Children {
			if st := r.status(c, s); st == model.SOPStatusCompleted || st == model.SOPStatusFailed {
				continue
			}
			var evs []opsm.Event
			s, evs = r.drive(c, s, now)
			events = append(events, evs...)
		}
		return s, events

	case model.SOPAlternative:
		for _, c := range n.Children {
			if r.status(c, s) != model.SOPStatusInitial {
				return r.drive(c, s, now)
			}
		}
		for _, c := range n.Children {
			if r.runnable(c, s) {
				return r.drive(c, s, now)
			}
		}
		return s, nil
	}
	return s, nil
}

// runnable reports whether an alternative child could start now: its first
// operation's first precondition is runnable.
func (r *SOPRunner) runnable(n *model.SOPNode, s state.State) bool {
	ops := n.Operations()
	if len(ops) == 0 {
		return false
	}
	first := *ops[0]
	if len(first.Preconditions) == 0 {
		return false
	}
	return first.Preconditions[0].EvalRunning(s)
}
