// Package ir provides the intermediate representation for optisync mutations.
//
// This package contains type definitions and value helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Reference and Operator are sealed interfaces (marker method pattern);
//     only types in this package implement them
//   - Literal values are plain Go values of the JSON shape: nil, bool, string,
//     int64, float64, []any, map[string]any (see Normalize)
//   - Undefined is distinct from nil (JSON null) and never serialized as a key
//   - Batch preserves declaration order; evaluation order is derived from it
//   - All JSON tags use camelCase to match the wire shape consumed by transports
package ir
