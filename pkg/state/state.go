// Package state implements the shared key/value state: a mapping from
// variable names to typed assignments with lifetime metadata. States are
// value types; mutating methods return a modified copy so engines can
// compute a next-state diff locally and commit it in one write.
package state

import (
	"fmt"
	"sort"
	"strings"

	"github.com/microcell/microcell/pkg/spvalue"
)

// Lifetime classifies who owns a variable and how it changes.
type Lifetime string

const (
	LifetimeRunner    Lifetime = "runner"
	LifetimeMeasured  Lifetime = "measured"
	LifetimeEstimated Lifetime = "estimated"
	LifetimeCommand   Lifetime = "command"
	LifetimeParameter Lifetime = "parameter"
)

// Metadata carries the declaration-time attributes of a variable.
type Metadata struct {
	Lifetime Lifetime `json:"lifetime,omitempty"`
	// Domain optionally restricts a string variable to an enumerated set of
	// values (UNKNOWN is always admitted).
	Domain []string `json:"domain,omitempty"`
}

// Assignment binds a value to its metadata.
type Assignment struct {
	Value spvalue.Value `json:"value"`
	Meta  Metadata      `json:"meta,omitempty"`
}

// State is an immutable-by-convention snapshot of the variable map.
type State struct {
	m map[string]Assignment
}

// New returns an empty state.
func New() State {
	return State{m: map[string]Assignment{}}
}

// FromAssignments builds a state from a raw assignment map.
func FromAssignments(m map[string]Assignment) State {
	s := New()
	for k, a := range m {
		s.m[k] = a
	}
	return s
}

// Len returns the number of variables.
func (s State) Len() int { return len(s.m) }

// Contains reports whether key is declared.
func (s State) Contains(key string) bool {
	_, ok := s.m[key]
	return ok
}

// Get returns the assignment for key.
func (s State) Get(key string) (Assignment, bool) {
	a, ok := s.m[key]
	return a, ok
}

// Value returns the value for key; absent keys read as UNKNOWN string.
func (s State) Value(key string) spvalue.Value {
	if a, ok := s.m[key]; ok {
		return a.Value
	}
	return spvalue.Unknown(spvalue.KindString)
}

// SortedKeys returns all keys in deterministic order.
func (s State) SortedKeys() []string {
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// clone returns a shallow copy of the underlying map.
func (s State) clone() State {
	c := make(map[string]Assignment, len(s.m))
	for k, a := range s.m {
		c[k] = a
	}
	return State{m: c}
}

// Add declares a new variable, replacing any previous declaration.
func (s State) Add(key string, a Assignment) State {
	c := s.clone()
	c.m[key] = a
	return c
}

// Update assigns a new value to a declared variable. The assignment must
// preserve the declared kind: a typed value may replace UNKNOWN of the same
// kind and vice versa, but cross-kind writes are rejected. Domain-constrained
// strings admit only listed values or UNKNOWN.
func (s State) Update(key string, v spvalue.Value) (State, error) {
	a, ok := s.m[key]
	if !ok {
		return s, fmt.Errorf("variable %q is not declared", key)
	}
	if a.Value.Kind() != v.Kind() {
		return s, fmt.Errorf("variable %q: cannot assign %s to declared %s",
			key, v.Kind(), a.Value.Kind())
	}
	if len(a.Meta.Domain) > 0 && !v.IsUnknown() {
		sv, _ := v.AsString()
		if !containsString(a.Meta.Domain, sv) {
			return s, fmt.Errorf("variable %q: value %q outside domain %v", key, sv, a.Meta.Domain)
		}
	}
	c := s.clone()
	a.Value = v
	c.m[key] = a
	return c, nil
}

// MustUpdate is Update for initialization paths where a mismatch is a
// programming error.
func (s State) MustUpdate(key string, v spvalue.Value) State {
	next, err := s.Update(key, v)
	if err != nil {
		panic(err)
	}
	return next
}

// Extend merges other into s. Existing declarations are kept unless
// overwrite is set.
func (s State) Extend(other State, overwrite bool) State {
	c := s.clone()
	for k, a := range other.m {
		if _, exists := c.m[k]; exists && !overwrite {
			continue
		}
		c.m[k] = a
	}
	return c
}

// Diff returns the partial state containing the assignments of next whose
// values differ from s (including keys absent from s). Applying the result
// to s with Extend(…, true) yields next, provided next declares no fewer
// keys than s.
func (s State) Diff(next State) State {
	partial := New()
	for k, a := range next.m {
		old, ok := s.m[k]
		if !ok || !old.Value.Equal(a.Value) {
			partial.m[k] = a
		}
	}
	return partial
}

// Projection returns the sub-state restricted to keys, skipping undeclared
// ones.
func (s State) Projection(keys []string) State {
	p := New()
	for _, k := range keys {
		if a, ok := s.m[k]; ok {
			p.m[k] = a
		}
	}
	return p
}

// CanonicalString renders the state as "k=v" pairs in key order. The planner
// uses it as the visited-set hash of a projection.
func (s State) CanonicalString() string {
	var b strings.Builder
	for i, k := range s.SortedKeys() {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.m[k].Value.String())
	}
	return b.String()
}

// Assignments exposes a copy of the raw map, for serialization.
func (s State) Assignments() map[string]Assignment {
	c := make(map[string]Assignment, len(s.m))
	for k, a := range s.m {
		c[k] = a
	}
	return c
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
