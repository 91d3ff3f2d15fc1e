// Package apply computes final field values from deferred instructions once
// the entity's current state is known.
//
// Apply is pure and total: it never fails and never mutates its inputs.
package apply

import "github.com/roach88/optisync/internal/ir"

// Apply returns the new value of a field given its current value.
// A missing current value is passed as ir.Undefined.
//
//   - increment/decrement: a non-numeric current value counts as zero
//   - push: appends to a copy of the current list (non-lists count as empty)
//   - pull: removes elements deep-equal to any operand; non-lists pass through
//   - addToSet: push that skips elements already present
//   - default: replaces only ir.Undefined; nil, 0 and "" are kept
//   - if: then when the condition is truthy, else else, else current
func Apply(instr ir.DeferredInstruction, current any) any {
	switch instr.Type {
	case ir.InstrIncrement:
		return ir.Add(current, instr.Value)

	case ir.InstrDecrement:
		return ir.Add(current, ir.Negate(instr.Value))

	case ir.InstrPush:
		out := listCopy(current)
		for _, item := range items(instr.Value) {
			out = append(out, ir.Clone(item))
		}
		return out

	case ir.InstrPull:
		list, ok := current.([]any)
		if !ok {
			return current
		}
		drop := items(instr.Value)
		out := make([]any, 0, len(list))
		for _, elem := range list {
			if !contains(drop, elem) {
				out = append(out, ir.Clone(elem))
			}
		}
		return out

	case ir.InstrAddToSet:
		out := listCopy(current)
		for _, item := range items(instr.Value) {
			if !contains(out, item) {
				out = append(out, ir.Clone(item))
			}
		}
		return out

	case ir.InstrDefault:
		if ir.IsUndefined(current) {
			return ir.Clone(instr.Value)
		}
		return current

	case ir.InstrIf:
		if ir.Truthy(instr.Condition) {
			return ir.Clone(instr.ThenValue)
		}
		if instr.HasElse {
			return ir.Clone(instr.ElseValue)
		}
		return current
	}
	return current
}

// ApplyAll merges op over snapshot: literal data is shallow-merged first,
// then each deferred instruction is applied to the merged field value.
// A field whose instruction yields ir.Undefined is left out. The snapshot is
// not modified.
func ApplyAll(op ir.EvaluatedOperation, snapshot map[string]any) map[string]any {
	merged := make(map[string]any, len(snapshot)+len(op.Data)+len(op.Deferred))
	for k, v := range snapshot {
		merged[k] = ir.Clone(v)
	}
	for k, v := range op.Data {
		merged[k] = ir.Clone(v)
	}
	for field, instr := range op.Deferred {
		current, ok := merged[field]
		if !ok {
			current = ir.Undefined
		}
		next := Apply(instr, current)
		if ir.IsUndefined(next) {
			delete(merged, field)
			continue
		}
		merged[field] = next
	}
	return merged
}

func items(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

func listCopy(v any) []any {
	list, _ := v.([]any)
	out := make([]any, 0, len(list))
	for _, elem := range list {
		out = append(out, ir.Clone(elem))
	}
	return out
}

func contains(list []any, v any) bool {
	for _, elem := range list {
		if ir.Equal(elem, v) {
			return true
		}
	}
	return false
}
