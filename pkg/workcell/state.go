// Package workcell declares the built-in gantry + robot workcell: the
// initial state variables, the nominal operation set and the demo SOPs the
// CLI runs against the emulators.
package workcell

import (
	"github.com/microcell/microcell/pkg/spvalue"
	"github.com/microcell/microcell/pkg/state"
)

// GantryPositions are the positions the gantry can be commanded to.
var GantryPositions = []string{"home", "pipe_blue_box", "plate_pipe_box"}

// RobotPositions are the positions the robot can be commanded to.
var RobotPositions = []string{
	"a", "b", "c", "d",
	"pipe_blue_box", "plate_pipe_box",
	"gripper_tool_rack", "suction_tool_rack",
}

// Tools the robot can mount.
var Tools = []string{"gripper_tool", "suction_tool"}

// GenerateResourceVariables declares the handshake and bookkeeping variables
// every resource carries: the request trigger/state pair, the fail counters
// and the emulation knobs.
func GenerateResourceVariables(name string) state.State {
	s := state.New()
	add := func(key string, v spvalue.Value, lt state.Lifetime) {
		s = s.Add(key, state.Assignment{Value: v, Meta: state.Metadata{Lifetime: lt}})
	}

	add(name+"_resource_online", spvalue.Bool(false), state.LifetimeMeasured)
	add(name+"_request_trigger", spvalue.Bool(false), state.LifetimeRunner)
	add(name+"_request_state", spvalue.String("initial"), state.LifetimeMeasured)
	add(name+"_total_fail_counter", spvalue.Int(0), state.LifetimeMeasured)
	add(name+"_subsequent_fail_counter", spvalue.Int(0), state.LifetimeMeasured)

	add(name+"_emulate_execution_time", spvalue.Int(0), state.LifetimeParameter)
	add(name+"_emulated_execution_time", spvalue.Int(0), state.LifetimeParameter)
	add(name+"_emulate_failure_rate", spvalue.Int(0), state.LifetimeParameter)
	add(name+"_emulated_failure_rate", spvalue.Int(0), state.LifetimeParameter)
	add(name+"_emulate_failure_cause", spvalue.Int(0), state.LifetimeParameter)
	add(name+"_emulated_failure_cause", spvalue.Array(), state.LifetimeParameter)

	return s
}

// InitialState declares every variable of the gantry + robot workcell.
func InitialState() state.State {
	s := GenerateResourceVariables("gantry").
		Extend(GenerateResourceVariables("robot"), true)

	add := func(key string, v spvalue.Value, meta state.Metadata) {
		s = s.Add(key, state.Assignment{Value: v, Meta: meta})
	}
	command := state.Metadata{Lifetime: state.LifetimeCommand}
	estimated := state.Metadata{Lifetime: state.LifetimeEstimated}
	measured := state.Metadata{Lifetime: state.LifetimeMeasured}

	// Gantry command and estimated variables.
	add("gantry_command_command", spvalue.Unknown(spvalue.KindString), command)
	add("gantry_speed_command", spvalue.Float(0), command)
	add("gantry_position_command", spvalue.Unknown(spvalue.KindString),
		state.Metadata{Lifetime: state.LifetimeCommand, Domain: GantryPositions})
	add("gantry_position_estimated", spvalue.Unknown(spvalue.KindString), estimated)
	add("gantry_calibrated_estimated", spvalue.Unknown(spvalue.KindBool), estimated)
	add("gantry_locked_estimated", spvalue.Unknown(spvalue.KindBool), estimated)
	add("gantry_speed_estimated", spvalue.Unknown(spvalue.KindFloat), estimated)

	// Robot command and estimated variables.
	add("robot_command_command", spvalue.Unknown(spvalue.KindString), command)
	add("robot_speed_command", spvalue.Float(0), command)
	add("robot_position_command", spvalue.Unknown(spvalue.KindString),
		state.Metadata{Lifetime: state.LifetimeCommand, Domain: RobotPositions})
	add("robot_position_estimated", spvalue.Unknown(spvalue.KindString), estimated)
	add("robot_speed_estimated", spvalue.Unknown(spvalue.KindFloat), estimated)
	add("robot_mounted_estimated", spvalue.Unknown(spvalue.KindString), estimated)
	add("robot_mounted_checked", spvalue.Bool(false), estimated)
	add("robot_mounted_one_time_measured", spvalue.Unknown(spvalue.KindString), measured)
	add("robot_emulate_mounted_tool", spvalue.Bool(false), state.Metadata{Lifetime: state.LifetimeParameter})
	add("robot_emulated_mounted_tool", spvalue.Unknown(spvalue.KindString), state.Metadata{Lifetime: state.LifetimeParameter})

	// A reference frame between the cell base and the tool plate; drivers
	// with spatial output refresh it.
	add("workcell_tool_frame", spvalue.TransformVal(spvalue.Transform{
		ActiveTransform: true,
		EnableTransform: true,
		ParentFrameID:   "workcell_base",
		ChildFrameID:    "tool_plate",
		Rotation:        spvalue.Rotation{W: 1},
	}), measured)

	return s
}
