package workcell

import (
	"fmt"

	"github.com/microcell/microcell/pkg/model"
	"github.com/microcell/microcell/pkg/spvalue"
	"github.com/microcell/microcell/pkg/state"
)

// sopMoveID names the demo SOP.
const sopMoveID = "sop_move_robot_and_gantry"

// DemoVariables declares the extra variables the demo SOP uses.
func DemoVariables() state.State {
	s := state.New()
	s = s.Add("sop_demo_done", state.Assignment{
		Value: spvalue.Bool(false),
		Meta:  state.Metadata{Lifetime: state.LifetimeRunner},
	})
	return s
}

// sopLeaf builds an SOP-owned move operation. The leaves get their own names
// so they never collide with the planned operations over the same resources.
func sopLeaf(resource, pos string, st OpSettings) model.Operation {
	op := resourceOp(
		fmt.Sprintf("sop_%s_move_to_%s", resource, pos), resource,
		"",
		[]string{
			fmt.Sprintf("var:%s_command_command <- move", resource),
			fmt.Sprintf("var:%s_position_command <- %s", resource, pos),
			fmt.Sprintf("var:%s_speed_command <- 0.5", resource),
		},
		fmt.Sprintf("var:%s_request_state == succeeded", resource),
		[]string{fmt.Sprintf("var:%s_position_estimated <- %s", resource, pos)},
		st,
	)
	return op
}

// DemoSOPs declares the parallel robot + gantry move procedure.
func DemoSOPs(spID string) []model.SOPStruct {
	return []model.SOPStruct{{
		ID: sopMoveID,
		Root: model.Par(
			model.SOPOp(sopLeaf("robot", "a", OpSettings{})),
			model.SOPOp(sopLeaf("gantry", "home", OpSettings{})),
		),
	}}
}

// DemoAutoOperation wraps the demo SOP in an automatic operation: once per
// run it enables the SOP and completes when the tree reports completion.
func DemoAutoOperation(spID string) model.Operation {
	start := model.MustParseTransition(
		"start_"+sopMoveID,
		"var:sop_demo_done == false",
		"true",
		[]string{
			fmt.Sprintf("var:%s_sop_enabled <- true", spID),
			fmt.Sprintf("var:%s_sop_state <- initial", spID),
			fmt.Sprintf("var:%s_sop_id <- %s", spID, sopMoveID),
		},
		nil,
	)
	complete := model.MustParseTransition(
		"complete_"+sopMoveID,
		"true",
		fmt.Sprintf("var:%s_sop_state == completed", spID),
		[]string{
			"var:sop_demo_done <- true",
			fmt.Sprintf("var:%s_sop_enabled <- false", spID),
		},
		nil,
	)
	return model.Operation{
		Name:           "auto_" + sopMoveID,
		Automatic:      true,
		Preconditions:  []model.Transition{start},
		Postconditions: []model.Transition{complete},
	}
}
