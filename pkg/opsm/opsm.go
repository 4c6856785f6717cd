// Package opsm implements the operation life-cycle state machine. Operations
// are plain data (transition sets plus budgets); the machine is one function
// over that data, driven each tick by the plan runner, the SOP engine or the
// auto engine.
package opsm

import (
	"time"

	"github.com/microcell/microcell/pkg/model"
	"github.com/microcell/microcell/pkg/spvalue"
	"github.com/microcell/microcell/pkg/state"
)

// Event is one observable state-machine step, appended to the operation's
// structured log by the caller.
type Event struct {
	Operation string        `json:"operation"`
	From      model.OpState `json:"from"`
	To        model.OpState `json:"to"`
	Narrative string        `json:"narrative"`
	Timestamp time.Time     `json:"timestamp"`
}

// Options modifies how a tick treats an idle operation.
type Options struct {
	// MarkDisabled records the disabled state when the operation cannot
	// start. The plan runner sets this for the operation the plan demands;
	// auto operations and SOP leaves stay initial instead.
	MarkDisabled bool
}

// Narratives, also rendered in the terminal trace.
const (
	narStarting   = "Starting operation."
	narWaiting    = "Waiting to be completed."
	narDisabled   = "Waiting for the operation to be enabled."
	narCompleted  = "Operation completed."
	narFailed     = "Operation failed."
	narRetrying   = "Retrying operation."
	narTimedout   = "Operation timed out."
	narTimeoutTry = "Retrying after timeout."
	narBypassed   = "Operation bypassed."
	narFatal      = "Operation fatal."
	narReset      = "Operation reset."
)

// CurrentState reads the operation's life-cycle state.
func CurrentState(op model.Operation, s state.State) model.OpState {
	return model.OpStateFromString(s.GetStringOrDefaultToUnknown(op.StateKey()))
}

// Tick advances one operation at most one life-cycle edge and returns the
// next state together with the events taken. It never blocks and never
// fails; a contended or impossible edge is retried on the next tick.
func Tick(op model.Operation, s state.State, now time.Time, opts Options) (state.State, []Event) {
	switch CurrentState(op, s) {
	case model.OpInitial, model.OpDisabled:
		return tickStart(op, s, now, opts)
	case model.OpExecuting:
		return tickExecuting(op, s, now)
	case model.OpFailed:
		return tickFailed(op, s, now)
	case model.OpTimedout:
		return tickTimedout(op, s, now)
	default:
		// Completed, Bypassed and Fatal hold until an explicit reset.
		return s, nil
	}
}

func tickStart(op model.Operation, s state.State, now time.Time, opts Options) (state.State, []Event) {
	from := CurrentState(op, s)
	for _, pre := range op.Preconditions {
		if !pre.EvalRunning(s) {
			continue
		}
		next := pre.TakeRunning(s)
		next = setOpState(next, op, model.OpExecuting)
		next = next.MustUpdate(op.StartTimeKey(), spvalue.Time(now))
		next = bumpCounter(next, op.InfoCounterKey("executing"))
		return recordEvent(next, op, from, model.OpExecuting, narStarting, now)
	}
	if opts.MarkDisabled && from != model.OpDisabled {
		next := setOpState(s, op, model.OpDisabled)
		next = bumpCounter(next, op.InfoCounterKey("disabled"))
		return recordEvent(next, op, from, model.OpDisabled, narDisabled, now)
	}
	return s, nil
}

func tickExecuting(op model.Operation, s state.State, now time.Time) (state.State, []Event) {
	for _, post := range op.Postconditions {
		if !post.EvalRunning(s) {
			continue
		}
		next := post.TakeRunning(s)
		next = setOpState(next, op, model.OpCompleted)
		next = bumpCounter(next, op.InfoCounterKey("completed"))
		return recordEvent(next, op, model.OpExecuting, model.OpCompleted, narCompleted, now)
	}

	for _, fail := range op.FailTransitions {
		if !fail.EvalRunning(s) {
			continue
		}
		next := fail.TakeRunning(s)
		next = setOpState(next, op, model.OpFailed)
		next = bumpCounter(next, op.RetryCounterKey())
		next = bumpCounter(next, op.InfoCounterKey("failed"))
		return recordEvent(next, op, model.OpExecuting, model.OpFailed, narFailed, now)
	}

	if op.Timeout > 0 {
		if started, ok := s.Value(op.StartTimeKey()).AsTime(); ok && now.Sub(started) > op.Timeout {
			next := s
			for _, to := range op.TimeoutTransitions {
				if to.EvalRunning(next) {
					next = to.TakeRunning(next)
					break
				}
			}
			next = setOpState(next, op, model.OpTimedout)
			next = bumpCounter(next, op.TimeoutRetryCounterKey())
			next = bumpCounter(next, op.InfoCounterKey("timedout"))
			return recordEvent(next, op, model.OpExecuting, model.OpTimedout, narTimedout, now)
		}
	}

	// Still executing; note the wait once so the trace shows it.
	if s.GetStringOrDefaultToUnknown(op.LastEventKey()) != narWaiting {
		return recordEvent(s, op, model.OpExecuting, model.OpExecuting, narWaiting, now)
	}
	return s, nil
}

func tickFailed(op model.Operation, s state.State, now time.Time) (state.State, []Event) {
	retries := s.GetIntOrDefaultToZero(op.RetryCounterKey())
	if retries <= int64(op.Retries) {
		next := setOpState(s, op, model.OpInitial)
		return recordEvent(next, op, model.OpFailed, model.OpInitial, narRetrying, now)
	}
	for _, bypass := range op.BypassTransitions {
		if !bypass.EvalRunning(s) {
			continue
		}
		next := bypass.TakeRunning(s)
		next = setOpState(next, op, model.OpBypassed)
		return recordEvent(next, op, model.OpFailed, model.OpBypassed, narBypassed, now)
	}
	next := setOpState(s, op, model.OpFatal)
	return recordEvent(next, op, model.OpFailed, model.OpFatal, narFatal, now)
}

func tickTimedout(op model.Operation, s state.State, now time.Time) (state.State, []Event) {
	retries := s.GetIntOrDefaultToZero(op.TimeoutRetryCounterKey())
	if retries <= int64(op.TimeoutRetries) {
		next := setOpState(s, op, model.OpInitial)
		next = next.MustUpdate(op.StartTimeKey(), spvalue.Unknown(spvalue.KindTime))
		return recordEvent(next, op, model.OpTimedout, model.OpInitial, narTimeoutTry, now)
	}
	next := setOpState(s, op, model.OpFatal)
	return recordEvent(next, op, model.OpTimedout, model.OpFatal, narFatal, now)
}

// Reset returns the operation to initial and clears its budgets. Used by
// goal replanning and SOP re-execution; any runnable reset transition's
// actions apply first.
func Reset(op model.Operation, s state.State, now time.Time) (state.State, []Event) {
	from := CurrentState(op, s)
	next := s
	for _, reset := range op.ResetTransitions {
		if reset.EvalRunning(next) {
			next = reset.TakeRunning(next)
			break
		}
	}
	next = setOpState(next, op, model.OpInitial)
	next = next.MustUpdate(op.StartTimeKey(), spvalue.Unknown(spvalue.KindTime))
	next = next.MustUpdate(op.RetryCounterKey(), spvalue.Int(0))
	next = next.MustUpdate(op.TimeoutRetryCounterKey(), spvalue.Int(0))
	if from == model.OpInitial {
		return next, nil
	}
	return recordEvent(next, op, from, model.OpInitial, narReset, now)
}

func setOpState(s state.State, op model.Operation, to model.OpState) state.State {
	return s.MustUpdate(op.StateKey(), spvalue.String(string(to)))
}

func bumpCounter(s state.State, key string) state.State {
	return s.MustUpdate(key, spvalue.Int(s.GetIntOrDefaultToZero(key)+1))
}

func recordEvent(s state.State, op model.Operation, from, to model.OpState, narrative string, now time.Time) (state.State, []Event) {
	s = s.MustUpdate(op.LastEventKey(), spvalue.String(narrative))
	return s, []Event{{
		Operation: op.Name,
		From:      from,
		To:        to,
		Narrative: narrative,
		Timestamp: now,
	}}
}
