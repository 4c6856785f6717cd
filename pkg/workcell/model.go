package workcell

import (
	"fmt"
	"time"

	"github.com/microcell/microcell/pkg/model"
	"github.com/microcell/microcell/pkg/state"
)

// OpSettings carries the optional budgets a builder applies to an operation.
type OpSettings struct {
	Timeout        time.Duration
	Retries        int
	TimeoutRetries int
	// WithFail adds the standard fail transition watching request_state ==
	// failed; retries only make sense with it.
	WithFail bool
	// WithTimeoutReset adds the standard timeout transition that clears the
	// request handshake so the next attempt can start.
	WithTimeoutReset bool
	// BypassActions, when non-empty, installs a bypass transition applying
	// these actions after the retry budget is spent.
	BypassActions []string
}

// resourceOp builds the standard driver-handshake operation for a resource:
// the precondition encodes the command and raises the trigger, the
// postcondition waits for success and records the estimated effect.
func resourceOp(name, resource, startGuard string, commandActions []string, postGuard string, postActions []string, st OpSettings) model.Operation {
	pre := model.MustParseTransition(
		"start_"+name,
		fmt.Sprintf("var:%s_request_state == initial && var:%s_request_trigger == false", resource, resource)+startGuard,
		"true",
		append(commandActions, fmt.Sprintf("var:%s_request_trigger <- true", resource)),
		nil,
	)
	post := model.MustParseTransition(
		"complete_"+name,
		"true",
		postGuard,
		append([]string{
			fmt.Sprintf("var:%s_request_trigger <- false", resource),
			fmt.Sprintf("var:%s_request_state <- initial", resource),
		}, postActions...),
		nil,
	)

	op := model.Operation{
		Name:           name,
		Timeout:        st.Timeout,
		Retries:        st.Retries,
		TimeoutRetries: st.TimeoutRetries,
		Preconditions:  []model.Transition{pre},
		Postconditions: []model.Transition{post},
		// A reset abandons any in-flight request: the trigger drops and the
		// handshake returns to initial, orphaning whatever the driver was
		// doing.
		ResetTransitions: []model.Transition{resetHandshake(name, resource)},
	}
	if st.WithFail {
		op.FailTransitions = []model.Transition{model.MustParseTransition(
			"failed_"+name,
			"true",
			fmt.Sprintf("var:%s_request_state == failed", resource),
			[]string{
				fmt.Sprintf("var:%s_request_trigger <- false", resource),
				fmt.Sprintf("var:%s_request_state <- initial", resource),
			},
			nil,
		)}
	}
	if st.WithTimeoutReset {
		op.TimeoutTransitions = []model.Transition{model.MustParseTransition(
			"timedout_"+name,
			"true",
			"true",
			[]string{
				fmt.Sprintf("var:%s_request_trigger <- false", resource),
				fmt.Sprintf("var:%s_request_state <- initial", resource),
			},
			nil,
		)}
	}
	if len(st.BypassActions) > 0 {
		op.BypassTransitions = []model.Transition{model.MustParseTransition(
			"bypass_"+name,
			"true",
			"true",
			append([]string{
				fmt.Sprintf("var:%s_request_trigger <- false", resource),
				fmt.Sprintf("var:%s_request_state <- initial", resource),
			}, st.BypassActions...),
			nil,
		)}
	}
	return op
}

func resetHandshake(name, resource string) model.Transition {
	return model.MustParseTransition(
		"reset_"+name,
		"true",
		"true",
		[]string{
			fmt.Sprintf("var:%s_request_trigger <- false", resource),
			fmt.Sprintf("var:%s_request_state <- initial", resource),
		},
		nil,
	)
}

// GantryLock builds the gantry lock operation.
func GantryLock(st OpSettings) model.Operation {
	return resourceOp("gantry_lock", "gantry",
		"",
		[]string{"var:gantry_command_command <- lock"},
		"var:gantry_request_state == succeeded",
		[]string{"var:gantry_locked_estimated <- true"},
		st,
	)
}

// GantryUnlock builds the gantry unlock operation.
func GantryUnlock(st OpSettings) model.Operation {
	return resourceOp("gantry_unlock", "gantry",
		"",
		[]string{"var:gantry_command_command <- unlock"},
		"var:gantry_request_state == succeeded",
		[]string{"var:gantry_locked_estimated <- false"},
		st,
	)
}

// GantryCalibrate builds the gantry calibrate operation; calibration only
// runs unlocked.
func GantryCalibrate(st OpSettings) model.Operation {
	return resourceOp("gantry_calibrate", "gantry",
		" && var:gantry_locked_estimated == false",
		[]string{"var:gantry_command_command <- calibrate"},
		"var:gantry_request_state == succeeded",
		[]string{"var:gantry_calibrated_estimated <- true"},
		st,
	)
}

// GantryMoveTo builds the gantry move operation for one position; moves need
// an unlocked, calibrated gantry.
func GantryMoveTo(pos string, st OpSettings) model.Operation {
	return resourceOp("gantry_move_to_"+pos, "gantry",
		" && var:gantry_locked_estimated == false && var:gantry_calibrated_estimated == true",
		[]string{
			"var:gantry_command_command <- move",
			"var:gantry_position_command <- " + pos,
			"var:gantry_speed_command <- 0.5",
		},
		"var:gantry_request_state == succeeded",
		[]string{"var:gantry_position_estimated <- " + pos},
		st,
	)
}

// RobotMoveTo builds the robot move operation for one position; the gantry
// must be locked and calibrated while the robot moves.
func RobotMoveTo(pos string, st OpSettings) model.Operation {
	return resourceOp("robot_move_to_"+pos, "robot",
		" && var:gantry_locked_estimated == true && var:gantry_calibrated_estimated == true",
		[]string{
			"var:robot_command_command <- move",
			"var:robot_position_command <- " + pos,
			"var:robot_speed_command <- 0.5",
		},
		"var:robot_request_state == succeeded",
		[]string{"var:robot_position_estimated <- " + pos},
		st,
	)
}

// RobotMount builds the mount operation for a tool, runnable at the tool's
// rack with an empty flange.
func RobotMount(tool string, st OpSettings) model.Operation {
	return resourceOp("robot_mount_"+tool, "robot",
		fmt.Sprintf(" && var:robot_position_estimated == %s_rack && var:robot_mounted_estimated == none && var:gantry_locked_estimated == true", tool),
		[]string{"var:robot_command_command <- mount"},
		"var:robot_request_state == succeeded",
		[]string{"var:robot_mounted_estimated <- " + tool},
		st,
	)
}

// RobotUnmount builds the unmount operation for a tool.
func RobotUnmount(tool string, st OpSettings) model.Operation {
	return resourceOp("robot_unmount_"+tool, "robot",
		fmt.Sprintf(" && var:robot_position_estimated == %s_rack && var:robot_mounted_estimated == %s && var:gantry_locked_estimated == true", tool, tool),
		[]string{"var:robot_command_command <- unmount"},
		"var:robot_request_state == succeeded",
		[]string{"var:robot_mounted_estimated <- none"},
		st,
	)
}

// RobotCheckMounted builds the mounted-tool check for a tool. The planner is
// promised the expected tool; at runtime the measurement decides, and a
// surprising answer records the measured tool and asks for a replan.
func RobotCheckMounted(spID, tool string, st OpSettings) model.Operation {
	pre := model.MustParseTransition(
		"start_robot_check_for_"+tool+"_mounted",
		"(var:robot_mounted_checked == false || var:robot_mounted_checked == UNKNOWN_bool)"+
			" && var:robot_request_state == initial"+
			" && var:robot_request_trigger == false"+
			" && var:robot_mounted_estimated == UNKNOWN_string",
		"true",
		[]string{
			"var:robot_command_command <- check_mounted_tool",
			"var:robot_request_trigger <- true",
		},
		nil,
	)
	confirmed := model.MustParseTransition(
		"complete_robot_check_for_"+tool+"_mounted",
		"true",
		fmt.Sprintf("var:robot_request_state == succeeded && var:robot_mounted_one_time_measured == %s", tool),
		[]string{
			"var:robot_request_trigger <- false",
			"var:robot_request_state <- initial",
			"var:robot_mounted_checked <- true",
			"var:robot_mounted_estimated <- " + tool,
		},
		nil,
	)
	surprised := model.MustParseTransition(
		"complete_robot_check_for_"+tool+"_mounted_2",
		"true",
		fmt.Sprintf("var:robot_request_state == succeeded && var:robot_mounted_one_time_measured != %s", tool),
		[]string{
			"var:robot_request_trigger <- false",
			"var:robot_request_state <- initial",
			"var:robot_mounted_checked <- true",
			"var:robot_mounted_estimated <- var:robot_mounted_one_time_measured",
			fmt.Sprintf("var:%s_replan_trigger <- true", spID),
			fmt.Sprintf("var:%s_replanned <- false", spID),
		},
		nil,
	)
	// The planner only ever assumes the confirming outcome; the surprise
	// branch exists for the runtime.
	op := model.Operation{
		Name:             "robot_check_for_" + tool + "_mounted",
		Timeout:          st.Timeout,
		Retries:          st.Retries,
		TimeoutRetries:   st.TimeoutRetries,
		Preconditions:    []model.Transition{pre},
		Postconditions:   []model.Transition{confirmed, surprised},
		ResetTransitions: []model.Transition{resetHandshake("robot_check_for_" + tool + "_mounted", "robot")},
	}
	return op
}

// NominalModel assembles the full workcell operation set: gantry handling,
// robot motion, tool checks and tool changes.
func NominalModel(spID string) model.Model {
	var operations []model.Operation

	operations = append(operations,
		GantryUnlock(OpSettings{}),
		GantryLock(OpSettings{}),
		GantryCalibrate(OpSettings{}),
	)
	for _, pos := range GantryPositions {
		operations = append(operations, GantryMoveTo(pos, OpSettings{}))
	}
	for _, pos := range RobotPositions {
		operations = append(operations, RobotMoveTo(pos, OpSettings{}))
	}
	for _, tool := range Tools {
		operations = append(operations,
			RobotCheckMounted(spID, tool, OpSettings{}),
			RobotMount(tool, OpSettings{}),
			RobotUnmount(tool, OpSettings{}),
		)
	}

	autoOperations := []model.Operation{DemoAutoOperation(spID)}

	return model.New(spID, BlinkTransitions(), autoOperations, DemoSOPs(spID), operations)
}

// FullInitialState is the workcell state plus the demo SOP and blink
// variables; this is what the CLI installs.
func FullInitialState() state.State {
	return InitialState().
		Extend(DemoVariables(), true).
		Extend(BlinkVariables(), true)
}
