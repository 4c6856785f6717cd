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

// RobotEmulator emulates the robot driver: move, pick, place, mount,
// unmount and check_mounted_tool. The mounted-tool check can be forced to a
// specific answer through the emulate_mounted_tool knobs, which is how the
// replan scenarios fake a surprising measurement.
type RobotEmulator struct {
	sm     *store.StateManager
	log    *telemetry.Logger
	period time.Duration
}

// NewRobotEmulator creates the emulator task.
func NewRobotEmulator(sm *store.StateManager, period time.Duration, log *telemetry.Logger) *RobotEmulator {
	if log == nil {
		log = telemetry.Nop()
	}
	return &RobotEmulator{sm: sm, log: log.NewComponentLogger("robot_emulator"), period: period}
}

var robotKeys = []string{
	"robot_request_trigger",
	"robot_request_state",
	"robot_total_fail_counter",
	"robot_subsequent_fail_counter",
	"robot_command_command",
	"robot_speed_command",
	"robot_position_command",
	"robot_position_estimated",
	"robot_mounted_one_time_measured",
	"robot_emulate_execution_time",
	"robot_emulated_execution_time",
	"robot_emulate_failure_rate",
	"robot_emulated_failure_rate",
	"robot_emulate_failure_cause",
	"robot_emulated_failure_cause",
	"robot_emulate_mounted_tool",
	"robot_emulated_mounted_tool",
}

// Run ticks the emulator until ctx is cancelled.
func (e *RobotEmulator) Run(ctx context.Context) {
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

func (e *RobotEmulator) tick(ctx context.Context) {
	s, ok := e.sm.GetStateForKeys(ctx, robotKeys)
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
func (e *RobotEmulator) step(s state.State) state.State {
	trigger := s.GetBoolOrDefaultToFalse("robot_request_trigger")
	reqState := s.GetStringOrDefaultToUnknown("robot_request_state")
	if !trigger {
		return s
	}

	next := s.MustUpdate("robot_request_trigger", spvalue.Bool(false))
	if reqState != model.RequestInitial {
		return next
	}

	req := request{
		Command:               s.GetStringOrDefaultToUnknown("robot_command_command"),
		Speed:                 s.GetFloatOrDefaultToZero("robot_speed_command"),
		Position:              s.GetStringOrDefaultToUnknown("robot_position_command"),
		EmulateExecutionTime:  s.GetIntOrDefaultToZero("robot_emulate_execution_time"),
		EmulatedExecutionTime: s.GetIntOrDefaultToZero("robot_emulated_execution_time"),
		EmulateFailureRate:    s.GetIntOrDefaultToZero("robot_emulate_failure_rate"),
		EmulatedFailureRate:   s.GetIntOrDefaultToZero("robot_emulated_failure_rate"),
		EmulateFailureCause:   s.GetIntOrDefaultToZero("robot_emulate_failure_cause"),
		EmulatedFailureCause:  s.GetStringArrayOrDefaultToEmpty("robot_emulated_failure_cause"),
	}

	known := true
	switch req.Command {
	case "move", "pick", "place", "mount", "unmount", "check_mounted_tool":
	default:
		e.log.Warnf("unknown command %q", req.Command)
		known = false
	}
	e.log.Infof("got request to %s", req.Command)

	resp := req.run(known)
	if resp.Success {
		next = next.MustUpdate("robot_subsequent_fail_counter", spvalue.Int(0))
		switch req.Command {
		case "move":
			next = next.MustUpdate("robot_position_estimated", spvalue.String(req.Position))
		case "check_mounted_tool":
			measured := "none"
			if s.GetBoolOrDefaultToFalse("robot_emulate_mounted_tool") {
				measured = s.GetStringOrDefaultToUnknown("robot_emulated_mounted_tool")
			}
			next = next.MustUpdate("robot_mounted_one_time_measured", spvalue.String(measured))
		}
		next = next.MustUpdate("robot_request_state", spvalue.String(model.RequestSucceeded))
		e.log.Info(resp.Info)
		return next
	}

	next = next.MustUpdate("robot_total_fail_counter",
		spvalue.Int(s.GetIntOrDefaultToZero("robot_total_fail_counter")+1))
	next = next.MustUpdate("robot_subsequent_fail_counter",
		spvalue.Int(s.GetIntOrDefaultToZero("robot_subsequent_fail_counter")+1))
	next = next.MustUpdate("robot_request_state", spvalue.String(model.RequestFailed))
	e.log.Error(resp.Info)
	return next
}
