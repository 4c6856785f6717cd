// Package runner hosts the concurrent engines that drive a model against
// the shared state: the goal runner, the plan runner, the auto engine, the
// SOP engine and the timer service, each an independent tick loop that
// reads a snapshot, computes a diff locally and commits it in one write.
package runner

import (
	"time"

	"github.com/google/uuid"

	"github.com/microcell/microcell/pkg/spvalue"
)

// Priority orders scheduled goals; higher wins, FIFO among equals.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// ParsePriority maps a textual priority; unknown text reads as normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Goal is one scheduled goal record, serialized into the scheduled-goals
// state variable as a map value so operators and tools can inspect the
// queue.
type Goal struct {
	ID        string
	Predicate string
	Priority  Priority
	CreatedAt time.Time
}

// NewGoal allocates a goal record for a predicate.
func NewGoal(predicate string, priority Priority) Goal {
	return Goal{
		ID:        uuid.New().String(),
		Predicate: predicate,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
}

// ToValue encodes the goal as a map value.
func (g Goal) ToValue() spvalue.Value {
	return spvalue.Map(map[string]spvalue.Value{
		"id":         spvalue.String(g.ID),
		"predicate":  spvalue.String(g.Predicate),
		"priority":   spvalue.Int(int64(g.Priority)),
		"created_at": spvalue.Time(g.CreatedAt),
	})
}

// GoalFromValue decodes a goal record; ok is false for malformed entries.
func GoalFromValue(v spvalue.Value) (Goal, bool) {
	m, ok := v.AsMap()
	if !ok {
		return Goal{}, false
	}
	id, ok := m["id"].AsString()
	if !ok {
		return Goal{}, false
	}
	pred, ok := m["predicate"].AsString()
	if !ok {
		return Goal{}, false
	}
	prio := m["priority"].IntOr(int64(PriorityNormal))
	created, _ := m["created_at"].AsTime()
	return Goal{ID: id, Predicate: pred, Priority: Priority(prio), CreatedAt: created}, true
}

// GoalsFromValue decodes the scheduled-goals array, dropping malformed
// entries.
func GoalsFromValue(v spvalue.Value) []Goal {
	var goals []Goal
	for _, gv := range v.ArrayOr() {
		if g, ok := GoalFromValue(gv); ok {
			goals = append(goals, g)
		}
	}
	return goals
}

// GoalsToValue encodes a schedule back into its array variable.
func GoalsToValue(goals []Goal) spvalue.Value {
	vals := make([]spvalue.Value, 0, len(goals))
	for _, g := range goals {
		vals = append(vals, g.ToValue())
	}
	return spvalue.Array(vals...)
}

// popHighest removes the highest-priority goal, FIFO among equals, and
// returns it with the remaining schedule. Scheduling order is preserved for
// the rest.
func popHighest(goals []Goal) (Goal, []Goal, bool) {
	if len(goals) == 0 {
		return Goal{}, goals, false
	}
	best := 0
	for i, g := range goals {
		if g.Priority > goals[best].Priority {
			best = i
		}
	}
	picked := goals[best]
	rest := append(append([]Goal{}, goals[:best]...), goals[best+1:]...)
	return picked, rest, true
}

// maxPriority returns the highest priority present in the schedule.
func maxPriority(goals []Goal) Priority {
	var max Priority
	for _, g := range goals {
		if g.Priority > max {
			max = g.Priority
		}
	}
	return max
}
