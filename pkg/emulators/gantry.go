package emulators

import (
	"context"
	"time"

	"github.com/microcell/microcell/pkg/model"
	"github.com/microcell/microcell/pkg/spvalue"
	"github.com/microcell/microcell/pkg/state"
	"github.com/microcell/microcell/pkg/store"
	"github.com/microcell/microcell/pkg/telemetry"
)

// GantryEmulator emulates the gantry driver: move, calibrate, lock, unlock.
type GantryEmulator struct {
	sm     *store.StateManager
	log    *telemetry.Logger
	period time.Duration
}

// NewGantryEmulator creates the emulator task.
func NewGantryEmulator(sm *store.StateManager, period time.Duration, log *telemetry.Logger) *GantryEmulator {
	if log == nil {
		log = telemetry.Nop()
	}
	return &GantryEmulator{sm: sm, log: log.NewComponentLogger("gantry_emulator"), period: period}
}

var gantryKeys = []string{
	"gantry_request_trigger",
	"gantry_request_state",
	"gantry_total_fail_counter",
	"gantry_subsequent_fail_counter",
	"gantry_command_command",
	"gantry_speed_command",
	"gantry_position_command",
	"gantry_position_estimated",
	"gantry_calibrated_estimated",
	"gantry_locked_estimated",
	"gantry_emulate_execution_time",
	"gantry_emulated_execution_time",
	"gantry_emulate_failure_rate",
	"gantry_emulated_failure_rate",
	"gantry_emulate_failure_cause",
	"gantry_emulated_failure_cause",
}

// Run ticks the emulator until ctx is cancelled.
func (e *GantryEmulator) Run(ctx context.Context) {
	e.log.Info("online")
	ticker := time.NewTicker(e.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *GantryEmulator) tick(ctx context.Context) {
	s, ok := e.sm.GetStateForKeys(ctx, gantryKeys)
	if !ok {
		return
	}
	next := e.step(s)
	diff := s.Diff(next)
	if diff.Len() > 0 {
		e.sm.SetPartialState(ctx, diff)
	}
}

// step consumes at most one request per tick.
func (e *GantryEmulator) step(s state.State) state.State {
	trigger := s.GetBoolOrDefaultToFalse("gantry_request_trigger")
	reqState := s.GetStringOrDefaultToUnknown("gantry_request_state")
	if !trigger {
		return s
	}

	next := s.MustUpdate("gantry_request_trigger", spvalue.Bool(false))
	if reqState != model.RequestInitial {
		return next
	}

	req := request{
		Command:               s.GetStringOrDefaultToUnknown("gantry_command_command"),
		Speed:                 s.GetFloatOrDefaultToZero("gantry_speed_command"),
		Position:              s.GetStringOrDefaultToUnknown("gantry_position_command"),
		EmulateExecutionTime:  s.GetIntOrDefaultToZero("gantry_emulate_execution_time"),
		EmulatedExecutionTime: s.GetIntOrDefaultToZero("gantry_emulated_execution_time"),
		EmulateFailureRate:    s.GetIntOrDefaultToZero("gantry_emulate_failure_rate"),
		EmulatedFailureRate:   s.GetIntOrDefaultToZero("gantry_emulated_failure_rate"),
		EmulateFailureCause:   s.GetIntOrDefaultToZero("gantry_emulate_failure_cause"),
		EmulatedFailureCause:  s.GetStringArrayOrDefaultToEmpty("gantry_emulated_failure_cause"),
	}

	known := true
	switch req.Command {
	case "move", "calibrate", "lock", "unlock":
	default:
		e.log.Warnf("unknown command %q", req.Command)
		known = false
	}
	e.log.Infof("got request to %s", req.Command)

	resp := req.run(known)
	if resp.Success {
		next = next.MustUpdate("gantry_subsequent_fail_counter", spvalue.Int(0))
		switch req.Command {
		case "move":
			next = next.MustUpdate("gantry_position_estimated", spvalue.String(req.Position))
		case "calibrate":
			next = next.MustUpdate("gantry_calibrated_estimated", spvalue.Bool(true))
		case "lock":
			next = next.MustUpdate("gantry_locked_estimated", spvalue.Bool(true))
		case "unlock":
			next = next.MustUpdate("gantry_locked_estimated", spvalue.Bool(false))
		}
		next = next.MustUpdate("gantry_request_state", spvalue.String(model.RequestSucceeded))
		e.log.Info(resp.Info)
		return next
	}

	next = next.MustUpdate("gantry_total_fail_counter",
		spvalue.Int(s.GetIntOrDefaultToZero("gantry_total_fail_counter")+1))
	next = next.MustUpdate("gantry_subsequent_fail_counter",
		spvalue.Int(s.GetIntOrDefaultToZero("gantry_subsequent_fail_counter")+1))
	next = next.MustUpdate("gantry_request_state", spvalue.String(model.RequestFailed))
	e.log.Error(resp.Info)
	return next
}
