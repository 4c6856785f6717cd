package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/microcell/microcell/pkg/spvalue"
	"github.com/microcell/microcell/pkg/state"
	"github.com/microcell/microcell/pkg/store"
	"github.com/microcell/microcell/pkg/telemetry"
)

// TimerRunner serves N named timers through the standard request handshake:
// a rising trigger with state "initial" arms the timer for duration_ms, the
// state moves to "executing", and once the deadline passes it settles on
// "succeeded". Operations model waits by binding to a timer id.
type TimerRunner struct {
	engine
	numTimers int
}

// NewTimerRunner assembles the timer service for a fixed number of timers.
func NewTimerRunner(spID string, numTimers int, sm *store.StateManager, period time.Duration, log *telemetry.Logger, metrics *telemetry.Metrics) *TimerRunner {
	return &TimerRunner{
		engine:    newEngine("timer_service", period, sm, spID, log, metrics, nil),
		numTimers: numTimers,
	}
}

// Run ticks until ctx is cancelled.
func (r *TimerRunner) Run(ctx context.Context) {
	r.runLoop(ctx, r.tick)
}

func (r *TimerRunner) tick(ctx context.Context) {
	keys := make([]string, 0, r.numTimers*5)
	for id := 1; id <= r.numTimers; id++ {
		keys = append(keys,
			r.keys.TimerRequestTrigger(id),
			r.keys.TimerRequestState(id),
			r.keys.TimerDurationMs(id),
			r.keys.TimerCommand(id),
			r.keys.TimerDeadline(id),
		)
	}
	s, ok := r.sm.GetStateForKeys(ctx, keys)
	if !ok {
		return
	}
	next := r.step(s, time.Now())
	diff := s.Diff(next)
	if diff.Len() > 0 {
		r.sm.SetPartialState(ctx, diff)
	}
}

// step is the pure tick body, separated for tests.
func (r *TimerRunner) step(s state.State, now time.Time) state.State {
	for id := 1; id <= r.numTimers; id++ {
		trigger := s.GetBoolOrDefaultToFalse(r.keys.TimerRequestTrigger(id))
		reqState := s.GetStringOrDefaultToUnknown(r.keys.TimerRequestState(id))

		switch {
		case trigger && reqState == RequestInitial:
			command := s.GetStringOrDefaultToUnknown(r.keys.TimerCommand(id))
			if command != "sleep" {
				r.log.Warnf("timer %d rejected unknown command %q", id, command)
				s = s.MustUpdate(r.keys.TimerRequestState(id), spvalue.String(RequestFailed))
				continue
			}
			duration := time.Duration(s.GetIntOrDefaultToZero(r.keys.TimerDurationMs(id))) * time.Millisecond
			s = s.MustUpdate(r.keys.TimerDeadline(id), spvalue.Time(now.Add(duration)))
			s = s.MustUpdate(r.keys.TimerRequestState(id), spvalue.String(RequestExecuting))
			r.log.Debugf("timer %d armed for %s", id, duration)

		case reqState == RequestExecuting:
			if !trigger {
				// The requester abandoned the wait; orphaned timers fall
				// back to initial.
				s = s.MustUpdate(r.keys.TimerRequestState(id), spvalue.String(RequestInitial))
				s = s.MustUpdate(r.keys.TimerDeadline(id), spvalue.Unknown(spvalue.KindTime))
				continue
			}
			deadline, ok := s.Value(r.keys.TimerDeadline(id)).AsTime()
			if !ok || !now.Before(deadline) {
				s = s.MustUpdate(r.keys.TimerRequestState(id), spvalue.String(RequestSucceeded))
				s = s.MustUpdate(r.keys.TimerDeadline(id), spvalue.Unknown(spvalue.KindTime))
				r.log.Debugf("timer %d fired", id)
			}
		}
	}
	return s
}

// RequestState constants re-exported for model authors binding operations to
// timers.
const (
	RequestInitial   = "initial"
	RequestExecuting = "executing"
	RequestSucceeded = "succeeded"
	RequestFailed    = "failed"
)

// TimerVars formats the handshake variable names an operation binds to.
func TimerVars(spID string, id int) (trigger, reqState, duration, command string) {
	return fmt.Sprintf("%s_timer_%d_request_trigger", spID, id),
		fmt.Sprintf("%s_timer_%d_request_state", spID, id),
		fmt.Sprintf("%s_timer_%d_duration_ms", spID, id),
		fmt.Sprintf("%s_timer_%d_command", spID, id)
}
