// Package spvalue implements the typed value algebra shared by every
// component of the orchestrator. A Value is one of a small set of kinds
// (bool, int, float, string, time, array, map, transform); each scalar kind
// either carries a concrete value or the distinguished UNKNOWN.
package spvalue

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the declared type of a Value.
type Kind string

const (
	KindBool      Kind = "bool"
	KindInt       Kind = "int"
	KindFloat     Kind = "float"
	KindString    Kind = "string"
	KindTime      Kind = "time"
	KindArray     Kind = "array"
	KindMap       Kind = "map"
	KindTransform Kind = "transform"
)

// Translation is the positional part of a spatial transform.
type Translation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rotation is a quaternion.
type Rotation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Transform is a stamped spatial pose between two named frames.
type Transform struct {
	ActiveTransform bool        `json:"active_transform"`
	EnableTransform bool        `json:"enable_transform"`
	Timestamp       time.Time   `json:"timestamp"`
	ParentFrameID   string      `json:"parent_frame_id"`
	ChildFrameID    string      `json:"child_frame_id"`
	Translation     Translation `json:"translation"`
	Rotation        Rotation    `json:"rotation"`
}

// Value is the tagged union carried by every state variable. The zero Value
// is an UNKNOWN string, which is also what consumers fall back to when a key
// is absent.
type Value struct {
	kind    Kind
	defined bool

	b  bool
	i  int64
	f  float64
	s  string
	t  time.Time
	a  []Value
	m  map[string]Value
	tf Transform
}

// Bool returns a concrete bool value.
func Bool(b bool) Value { return Value{kind: KindBool, defined: true, b: b} }

// Int returns a concrete int64 value.
func Int(i int64) Value { return Value{kind: KindInt, defined: true, i: i} }

// Float returns a concrete float64 value.
func Float(f float64) Value { return Value{kind: KindFloat, defined: true, f: f} }

// String returns a concrete string value.
func String(s string) Value { return Value{kind: KindString, defined: true, s: s} }

// Time returns a concrete time value.
func Time(t time.Time) Value { return Value{kind: KindTime, defined: true, t: t} }

// Array returns a concrete array value.
func Array(vs ...Value) Value {
	cp := make([]Value, len(vs))
	copy(cp, vs)
	return Value{kind: KindArray, defined: true, a: cp}
}

// StringArray returns an array of string values.
func StringArray(ss ...string) Value {
	vs := make([]Value, 0, len(ss))
	for _, s := range ss {
		vs = append(vs, String(s))
	}
	return Value{kind: KindArray, defined: true, a: vs}
}

// Map returns a concrete map value.
func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, defined: true, m: cp}
}

// TransformVal returns a concrete transform value.
func TransformVal(tf Transform) Value {
	return Value{kind: KindTransform, defined: true, tf: tf}
}

// Unknown returns the UNKNOWN value of the given kind.
func Unknown(k Kind) Value { return Value{kind: k} }

// Kind reports the declared type.
func (v Value) Kind() Kind {
	if v.kind == "" {
		return KindString
	}
	return v.kind
}

// IsUnknown reports whether the value is the distinguished UNKNOWN.
func (v Value) IsUnknown() bool { return !v.defined }

// AsBool returns the bool payload. ok is false for UNKNOWN or non-bool kinds.
func (v Value) AsBool() (b bool, ok bool) {
	if v.kind != KindBool || !v.defined {
		return false, false
	}
	return v.b, true
}

// AsInt returns the int payload.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt || !v.defined {
		return 0, false
	}
	return v.i, true
}

// AsFloat returns the float payload.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindFloat || !v.defined {
		return 0, false
	}
	return v.f, true
}

// AsString returns the string payload.
func (v Value) AsString() (string, bool) {
	if v.Kind() != KindString || !v.defined {
		return "", false
	}
	return v.s, true
}

// AsTime returns the time payload.
func (v Value) AsTime() (time.Time, bool) {
	if v.kind != KindTime || !v.defined {
		return time.Time{}, false
	}
	return v.t, true
}

// AsArray returns the array payload.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray || !v.defined {
		return nil, false
	}
	return v.a, true
}

// AsMap returns the map payload.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap || !v.defined {
		return nil, false
	}
	return v.m, true
}

// AsTransform returns the transform payload.
func (v Value) AsTransform() (Transform, bool) {
	if v.kind != KindTransform || !v.defined {
		return Transform{}, false
	}
	return v.tf, true
}

// BoolOr returns the bool payload or def when UNKNOWN or mistyped.
func (v Value) BoolOr(def bool) bool {
	if b, ok := v.AsBool(); ok {
		return b
	}
	return def
}

// IntOr returns the int payload or def.
func (v Value) IntOr(def int64) int64 {
	if i, ok := v.AsInt(); ok {
		return i
	}
	return def
}

// FloatOr returns the float payload or def.
func (v Value) FloatOr(def float64) float64 {
	if f, ok := v.AsFloat(); ok {
		return f
	}
	return def
}

// StringOr returns the string payload or def.
func (v Value) StringOr(def string) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	return def
}

// ArrayOr returns the array payload or an empty slice.
func (v Value) ArrayOr() []Value {
	if a, ok := v.AsArray(); ok {
		return a
	}
	return []Value{}
}

// Equal reports deep structural equality, including kind and UNKNOWN-ness.
func (v Value) Equal(o Value) bool {
	if v.Kind() != o.Kind() || v.defined != o.defined {
		return false
	}
	if !v.defined {
		return true
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindTime:
		return v.t.Equal(o.t)
	case KindArray:
		if len(v.a) != len(o.a) {
			return false
		}
		for idx := range v.a {
			if !v.a[idx].Equal(o.a[idx]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, mv := range v.m {
			ov, ok := o.m[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	case KindTransform:
		return v.tf == o.tf
	}
	return false
}

// String renders the value the way it appears in predicate text, also used
// for canonical hashing by the planner.
func (v Value) String() string {
	if !v.defined {
		return "UNKNOWN_" + string(v.Kind())
	}
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindTime:
		return v.t.UTC().Format(time.RFC3339Nano)
	case KindArray:
		parts := make([]string, 0, len(v.a))
		for _, e := range v.a {
			parts = append(parts, e.String())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+v.m[k].String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindTransform:
		return fmt.Sprintf("transform(%s->%s)", v.tf.ParentFrameID, v.tf.ChildFrameID)
	}
	return "UNKNOWN_string"
}

// wire is the JSON representation of a Value.
type wire struct {
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the value as {"type": ..., "value": ...}; an UNKNOWN
// value omits the value field.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wire{Type: v.Kind()}
	if v.defined {
		var payload any
		switch v.kind {
		case KindBool:
			payload = v.b
		case KindInt:
			payload = v.i
		case KindFloat:
			payload = v.f
		case KindString:
			payload = v.s
		case KindTime:
			payload = v.t.UTC().Format(time.RFC3339Nano)
		case KindArray:
			payload = v.a
		case KindMap:
			payload = v.m
		case KindTransform:
			payload = v.tf
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		w.Value = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Value == nil {
		*v = Unknown(w.Type)
		return nil
	}
	switch w.Type {
	case KindBool:
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case KindInt:
		var i int64
		if err := json.Unmarshal(w.Value, &i); err != nil {
			return err
		}
		*v = Int(i)
	case KindFloat:
		var f float64
		if err := json.Unmarshal(w.Value, &f); err != nil {
			return err
		}
		*v = Float(f)
	case KindString:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return err
		}
		*v = String(s)
	case KindTime:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		*v = Time(t)
	case KindArray:
		var a []Value
		if err := json.Unmarshal(w.Value, &a); err != nil {
			return err
		}
		*v = Value{kind: KindArray, defined: true, a: a}
	case KindMap:
		var m map[string]Value
		if err := json.Unmarshal(w.Value, &m); err != nil {
			return err
		}
		*v = Value{kind: KindMap, defined: true, m: m}
	case KindTransform:
		var tf Transform
		if err := json.Unmarshal(w.Value, &tf); err != nil {
			return err
		}
		*v = TransformVal(tf)
	default:
		return fmt.Errorf("unknown spvalue type %q", w.Type)
	}
	return nil
}
