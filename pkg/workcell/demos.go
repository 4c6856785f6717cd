package workcell

import (
	"fmt"

	"github.com/microcell/microcell/pkg/model"
	"github.com/microcell/microcell/pkg/spvalue"
	"github.com/microcell/microcell/pkg/state"
)

// BlinkVariables declares the light-indicator variables driven by the
// automatic transitions.
func BlinkVariables() state.State {
	s := state.New()
	add := func(key string, v spvalue.Value, lt state.Lifetime) {
		s = s.Add(key, state.Assignment{Value: v, Meta: state.Metadata{Lifetime: lt}})
	}
	add("gantry_lights_on", spvalue.Bool(false), state.LifetimeEstimated)
	add("gantry_blink_counter", spvalue.Int(0), state.LifetimeRunner)
	return s
}

// BlinkTransitions flashes the gantry light indicator a few times at
// startup: a pair of free transitions toggling the light until the blink
// budget is spent. The effects sit in the runner actions; the planner never
// reasons about the light.
func BlinkTransitions() []model.Transition {
	return []model.Transition{
		model.MustParseTransition(
			"turn_gantry_lights_on",
			"var:gantry_blink_counter < 3",
			"var:gantry_lights_on == false",
			nil,
			[]string{
				"var:gantry_lights_on <- true",
				"var:gantry_blink_counter += 1",
			},
		),
		model.MustParseTransition(
			"turn_gantry_lights_off",
			"true",
			"var:gantry_lights_on == true",
			nil,
			[]string{"var:gantry_lights_on <- false"},
		),
	}
}

// TimerBinding pairs a timer id with a sleep duration.
type TimerBinding struct {
	ID         int
	DurationMs int64
}

// SleepVariables declares the pacing counter for the sleep demo.
func SleepVariables() state.State {
	s := state.New()
	s = s.Add("sleep_counter", state.Assignment{
		Value: spvalue.Int(0),
		Meta:  state.Metadata{Lifetime: state.LifetimeRunner},
	})
	return s
}

// SleepAutoOperations builds one automatic operation per timer binding.
// Each operation arms its timer through the request handshake and completes
// when the timer fires, bumping the shared pacing counter. The operations
// run in parallel under the auto engine, one wait in flight per timer.
func SleepAutoOperations(spID string, bindings []TimerBinding, rounds int) []model.Operation {
	k := model.RunnerKeys{SPID: spID}
	var ops []model.Operation
	for _, b := range bindings {
		name := fmt.Sprintf("sleep_timer_%d", b.ID)
		pre := model.MustParseTransition(
			"start_"+name,
			fmt.Sprintf(
				"var:sleep_counter < %d && var:%s == initial && var:%s == false",
				rounds, k.TimerRequestState(b.ID), k.TimerRequestTrigger(b.ID),
			),
			"true",
			[]string{
				fmt.Sprintf("var:%s <- true", k.TimerRequestTrigger(b.ID)),
				fmt.Sprintf("var:%s <- %d", k.TimerDurationMs(b.ID), b.DurationMs),
				fmt.Sprintf("var:%s <- sleep", k.TimerCommand(b.ID)),
			},
			nil,
		)
		post := model.MustParseTransition(
			"complete_"+name,
			"true",
			fmt.Sprintf("var:%s == succeeded", k.TimerRequestState(b.ID)),
			[]string{
				fmt.Sprintf("var:%s <- false", k.TimerRequestTrigger(b.ID)),
				fmt.Sprintf("var:%s <- initial", k.TimerRequestState(b.ID)),
				"var:sleep_counter += 1",
			},
			nil,
		)
		reset := model.MustParseTransition(
			"reset_"+name,
			"true",
			"true",
			[]string{
				fmt.Sprintf("var:%s <- false", k.TimerRequestTrigger(b.ID)),
				fmt.Sprintf("var:%s <- initial", k.TimerRequestState(b.ID)),
			},
			nil,
		)
		ops = append(ops, model.Operation{
			Name:             name,
			Automatic:        true,
			Preconditions:    []model.Transition{pre},
			Postconditions:   []model.Transition{post},
			ResetTransitions: []model.Transition{reset},
		})
	}
	return ops
}
