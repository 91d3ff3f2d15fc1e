package apply

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/optisync/internal/ir"
)

func instr(t ir.InstructionType, v any) ir.DeferredInstruction {
	return ir.DeferredInstruction{Type: t, Value: v}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name     string
		instr    ir.DeferredInstruction
		current  any
		expected any
	}{
		{"increment undefined", instr(ir.InstrIncrement, int64(5)), ir.Undefined, int64(5)},
		{"increment int", instr(ir.InstrIncrement, int64(2)), int64(40), int64(42)},
		{"increment float", instr(ir.InstrIncrement, 0.5), int64(1), 1.5},
		{"increment non-numeric", instr(ir.InstrIncrement, int64(1)), "abc", int64(1)},
		{"increment null", instr(ir.InstrIncrement, int64(3)), nil, int64(3)},
		{"decrement", instr(ir.InstrDecrement, int64(1)), int64(10), int64(9)},
		{"decrement undefined", instr(ir.InstrDecrement, int64(4)), ir.Undefined, int64(-4)},

		{"push onto list", instr(ir.InstrPush, []any{"c"}), []any{"a", "b"}, []any{"a", "b", "c"}},
		{"push onto undefined", instr(ir.InstrPush, []any{"a"}), ir.Undefined, []any{"a"}},
		{"push onto non-list", instr(ir.InstrPush, []any{int64(1)}), "x", []any{int64(1)}},
		{"push duplicates allowed", instr(ir.InstrPush, []any{"a"}), []any{"a"}, []any{"a", "a"}},

		{"pull", instr(ir.InstrPull, []any{"b"}), []any{"a", "b", "c"}, []any{"a", "c"}},
		{"pull every occurrence", instr(ir.InstrPull, []any{"b"}), []any{"b", "a", "b"}, []any{"a"}},
		{"pull deep equal maps", instr(ir.InstrPull, []any{map[string]any{"id": int64(1)}}),
			[]any{map[string]any{"id": 1.0}, map[string]any{"id": int64(2)}},
			[]any{map[string]any{"id": int64(2)}}},
		{"pull non-list passes through", instr(ir.InstrPull, []any{"a"}), "a", "a"},
		{"pull undefined passes through", instr(ir.InstrPull, []any{"a"}), ir.Undefined, ir.Undefined},

		{"addToSet skips present", instr(ir.InstrAddToSet, []any{"a", "c"}), []any{"a", "b"}, []any{"a", "b", "c"}},
		{"addToSet dedupes operand", instr(ir.InstrAddToSet, []any{"x", "x"}), ir.Undefined, []any{"x"}},
		{"addToSet deep equal", instr(ir.InstrAddToSet, []any{[]any{int64(1)}}), []any{[]any{1.0}}, []any{[]any{1.0}}},

		{"default on undefined", instr(ir.InstrDefault, "x"), ir.Undefined, "x"},
		{"default keeps zero", instr(ir.InstrDefault, "x"), int64(0), int64(0)},
		{"default keeps null", instr(ir.InstrDefault, "x"), nil, nil},
		{"default keeps empty string", instr(ir.InstrDefault, "x"), "", ""},
		{"default keeps false", instr(ir.InstrDefault, true), false, false},

		{"if true", ir.DeferredInstruction{Type: ir.InstrIf, Condition: true, ThenValue: "t", ElseValue: "e", HasElse: true}, "cur", "t"},
		{"if false with else", ir.DeferredInstruction{Type: ir.InstrIf, Condition: int64(0), ThenValue: "t", ElseValue: "e", HasElse: true}, "cur", "e"},
		{"if false with null else", ir.DeferredInstruction{Type: ir.InstrIf, Condition: "", ThenValue: "t", ElseValue: nil, HasElse: true}, "cur", nil},
		{"if false without else keeps current", ir.DeferredInstruction{Type: ir.InstrIf, Condition: nil, ThenValue: "t"}, "cur", "cur"},
		{"if truthy string", ir.DeferredInstruction{Type: ir.InstrIf, Condition: "yes", ThenValue: int64(1)}, int64(0), int64(1)},

		{"unknown type is identity", instr("rename", "x"), "cur", "cur"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Apply(tt.instr, tt.current))
		})
	}
}

func TestApplyDoesNotMutateCurrent(t *testing.T) {
	current := []any{"a", "b"}
	_ = Apply(instr(ir.InstrPush, []any{"c"}), current)
	_ = Apply(instr(ir.InstrPull, []any{"a"}), current)
	assert.Equal(t, []any{"a", "b"}, current)
}

func TestApplyAll(t *testing.T) {
	snapshot := map[string]any{
		"id":    "p1",
		"title": "Old",
		"views": int64(10),
		"tags":  []any{"go"},
		"owner": "ada",
	}
	op := ir.EvaluatedOperation{
		Entity: "Post",
		Op:     ir.OpUpdate,
		ID:     "p1",
		Data:   map[string]any{"title": "New"},
		Deferred: map[string]ir.DeferredInstruction{
			"views":  instr(ir.InstrIncrement, int64(1)),
			"tags":   instr(ir.InstrAddToSet, []any{"go", "sql"}),
			"status": instr(ir.InstrDefault, "draft"),
			"owner":  {Type: ir.InstrIf, Condition: false, ThenValue: "bob"},
			"likes":  {Type: ir.InstrIf, Condition: false, ThenValue: int64(1)},
		},
	}

	merged := ApplyAll(op, snapshot)

	assert.Equal(t, map[string]any{
		"id":     "p1",
		"title":  "New",
		"views":  int64(11),
		"tags":   []any{"go", "sql"},
		"status": "draft",
		"owner":  "ada",
	}, merged, "an if without else on a missing field leaves it missing")

	assert.Equal(t, "Old", snapshot["title"], "snapshot must not be modified")
	assert.Equal(t, []any{"go"}, snapshot["tags"])
}

func TestApplyAllNilSnapshot(t *testing.T) {
	op := ir.EvaluatedOperation{
		Entity:   "Counter",
		Op:       ir.OpCreate,
		ID:       "temp_0",
		Data:     map[string]any{"name": "hits"},
		Deferred: map[string]ir.DeferredInstruction{"n": instr(ir.InstrIncrement, int64(1))},
	}
	assert.Equal(t, map[string]any{"name": "hits", "n": int64(1)}, ApplyAll(op, nil))
}
