package state

import "github.com/microcell/microcell/pkg/spvalue"

// Typed accessors with default-on-UNKNOWN semantics. Consumers that tolerate
// missing or not-yet-measured data (emulators, runners, the CLI) read through
// these instead of matching on kinds.

// GetBoolOrDefaultToFalse reads key as bool, defaulting to false.
func (s State) GetBoolOrDefaultToFalse(key string) bool {
	return s.Value(key).BoolOr(false)
}

// GetIntOrDefaultToZero reads key as int64, defaulting to 0.
func (s State) GetIntOrDefaultToZero(key string) int64 {
	return s.Value(key).IntOr(0)
}

// GetFloatOrDefaultToZero reads key as float64, defaulting to 0.
func (s State) GetFloatOrDefaultToZero(key string) float64 {
	return s.Value(key).FloatOr(0)
}

// GetStringOrDefaultToUnknown reads key as string, defaulting to "UNKNOWN".
func (s State) GetStringOrDefaultToUnknown(key string) string {
	return s.Value(key).StringOr("UNKNOWN")
}

// GetArrayOrDefaultToEmpty reads key as an array, defaulting to empty.
func (s State) GetArrayOrDefaultToEmpty(key string) []spvalue.Value {
	return s.Value(key).ArrayOr()
}

// GetStringArrayOrDefaultToEmpty reads key as an array and keeps only the
// string elements.
func (s State) GetStringArrayOrDefaultToEmpty(key string) []string {
	vals := s.Value(key).ArrayOr()
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if sv, ok := v.AsString(); ok {
			out = append(out, sv)
		}
	}
	return out
}
