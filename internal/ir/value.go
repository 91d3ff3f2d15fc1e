package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// undefinedValue is the type of Undefined.
type undefinedValue struct{}

// Undefined marks a value that is strictly absent, as opposed to nil (JSON
// null). A missing leaf of an $input path resolves to Undefined; $default
// replaces only Undefined.
var Undefined = undefinedValue{}

func (undefinedValue) String() string { return "undefined" }

// MarshalJSON encodes Undefined as null. Data bags never carry Undefined keys;
// this only matters for operands that resolved to nothing.
func (undefinedValue) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// IsUndefined reports whether v is Undefined.
func IsUndefined(v any) bool {
	_, ok := v.(undefinedValue)
	return ok
}

// StateMarker is the unresolved result of a StateRef. It carries the
// requested field name so an integrator that owns live entity state can
// substitute it.
type StateMarker struct {
	Field string
}

// MarshalJSON encodes the marker in its DSL shape.
func (m StateMarker) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{TagState: m.Field})
}

// Normalize converts decoded JSON/YAML/CUE values to the canonical literal
// shape: nil, bool, string, int64, float64, []any, map[string]any.
// Integral floats stay float64; json.Number becomes int64 when it parses as one.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string, int64, float64, undefinedValue, StateMarker:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return float64(val), nil
		}
		return int64(val), nil
	case float32:
		return float64(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return f, nil
	case time.Time:
		return val.UTC().Format(TimestampFormat), nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			key := fmt.Sprint(k)
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", key, err)
			}
			out[key] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

// NormalizeMap normalizes every value of m.
func NormalizeMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	n, err := Normalize(m)
	if err != nil {
		return nil, err
	}
	return n.(map[string]any), nil
}

// TimestampFormat is the ISO-8601 layout produced by $now.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// ToNumber converts a numeric value to float64. ok is false for
// non-numeric values, including numeric strings.
func ToNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Add sums two values numerically, treating non-numbers as zero. The result
// stays int64 when both sides are integers.
func Add(a, b any) any {
	ai, aInt := asInt(a)
	bi, bInt := asInt(b)
	if aInt && bInt {
		return ai + bi
	}
	af, _ := ToNumber(a)
	bf, _ := ToNumber(b)
	return af + bf
}

// Negate flips the sign of a numeric value; non-numbers become zero.
func Negate(v any) any {
	if i, ok := asInt(v); ok {
		return -i
	}
	f, _ := ToNumber(v)
	return -f
}

// asInt reports v as int64 when it is an integer or an absent/non-numeric
// value (which counts as 0).
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64, float32, json.Number:
		return 0, false
	}
	return 0, true
}

// Truthy coerces v to a boolean using JavaScript-like rules: nil, Undefined,
// false, 0, NaN and "" are false; everything else is true.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil, undefinedValue:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int64:
		return val != 0
	case int:
		return val != 0
	case float64:
		return val != 0 && !math.IsNaN(val)
	}
	return true
}

// Equal reports deep structural equality. Maps compare key by key, lists
// element by element, and numbers by numeric value regardless of int/float.
func Equal(a, b any) bool {
	if an, ok := ToNumber(a); ok {
		bn, ok := ToNumber(b)
		return ok && an == bn
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case undefinedValue:
		return IsUndefined(b)
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !Equal(x, y) {
				return false
			}
		}
		return true
	case StateMarker:
		bv, ok := b.(StateMarker)
		return ok && av == bv
	}
	return false
}

// Clone deep-copies lists and maps; scalars are returned as is.
func Clone(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case map[string]any:
		return CloneMap(val)
	}
	return v
}

// CloneMap deep-copies a data bag. A nil map stays nil.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}

// Index returns child seg of v. Maps are indexed by key, lists by decimal
// position. Anything else, or a missing key, yields Undefined.
func Index(v any, seg string) any {
	switch val := v.(type) {
	case map[string]any:
		child, ok := val[seg]
		if !ok {
			return Undefined
		}
		return child
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(val) {
			return Undefined
		}
		return val[i]
	}
	return Undefined
}

// IsNullish reports whether v is nil or Undefined.
func IsNullish(v any) bool {
	return v == nil || IsUndefined(v)
}
