package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/optisync/internal/ir"
)

// RawOperation is one operation of a DSL batch as read from a source file,
// before compilation. Fields keep declaration order; values are normalized
// literals (see ir.Normalize).
type RawOperation struct {
	Name   string
	Fields []ir.Field
	Pos    token.Pos
}

// CompileBatch compiles raw operations into an ir.Batch, preserving order.
func CompileBatch(raw []RawOperation) (*ir.Batch, error) {
	batch := ir.NewBatch()
	for _, op := range raw {
		d, err := CompileOperation(op)
		if err != nil {
			return nil, err
		}
		if err := batch.Add(op.Name, d); err != nil {
			return nil, &CompileError{Operation: op.Name, Field: "name", Message: err.Error(), Pos: op.Pos}
		}
	}
	return batch, nil
}

// CompileOperation compiles one raw operation into a Descriptor.
//
// Directive keys ($entity, $op, $id, $ids, $where) are consumed; every other
// key is an assigned field compiled with CompileValue. At most one of $id,
// $ids and $where may be present.
func CompileOperation(raw RawOperation) (ir.Descriptor, error) {
	var d ir.Descriptor
	fail := func(field, format string, args ...any) (ir.Descriptor, error) {
		return ir.Descriptor{}, &CompileError{
			Operation: raw.Name,
			Field:     field,
			Message:   fmt.Sprintf(format, args...),
			Pos:       raw.Pos,
		}
	}

	idForms := 0
	for _, f := range raw.Fields {
		switch f.Name {
		case ir.TagEntity:
			s, ok := f.Value.(string)
			if !ok || s == "" {
				return fail(f.Name, "must be a non-empty string")
			}
			d.Entity = s

		case ir.TagOp:
			s, ok := f.Value.(string)
			if !ok || !ir.ValidOpKinds[ir.OpKind(s)] {
				return fail(f.Name, "must be one of create, update, delete (got %v)", f.Value)
			}
			d.Op = ir.OpKind(s)

		case ir.TagID:
			v, err := compileIDValue(f.Value)
			if err != nil {
				return fail(f.Name, "%v", err)
			}
			d.ID = ir.SingleID(v)
			idForms++

		case ir.TagIDs:
			v, err := compileIDValue(f.Value)
			if err != nil {
				return fail(f.Name, "%v", err)
			}
			d.ID = ir.IDs(v)
			idForms++

		case ir.TagWhere:
			m, ok := f.Value.(map[string]any)
			if !ok {
				return fail(f.Name, "must be a map of field filters")
			}
			where := make([]ir.Field, 0, len(m))
			for _, k := range ir.SortedKeys(m) {
				v, err := compileIDValue(m[k])
				if err != nil {
					return fail(f.Name+"."+k, "%v", err)
				}
				where = append(where, ir.F(k, v))
			}
			d.ID = ir.Filter(where...)
			idForms++

		default:
			if strings.HasPrefix(f.Name, "$") {
				return fail(f.Name, "unknown directive")
			}
			v, err := CompileValue(f.Value)
			if err != nil {
				return fail(f.Name, "%v", err)
			}
			d.Fields = append(d.Fields, ir.F(f.Name, v))
		}
	}

	if d.Entity == "" {
		return fail(ir.TagEntity, "is required")
	}
	if d.Op == "" {
		return fail(ir.TagOp, "is required")
	}
	if idForms > 1 {
		return fail("id", "$id, $ids and $where are mutually exclusive")
	}
	return d, nil
}

// compileIDValue compiles an identifier or filter value. References are
// allowed, including inside an $ids list; operators are not.
func compileIDValue(raw any) (any, error) {
	if list, ok := raw.([]any); ok {
		out := make([]any, len(list))
		for i, elem := range list {
			v, err := compileIDValue(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	}
	v, err := CompileValue(raw)
	if err != nil {
		return nil, err
	}
	if _, ok := v.(ir.Operator); ok {
		return nil, fmt.Errorf("operators are not allowed in identifiers")
	}
	return v, nil
}

// CompileValue converts a raw field value to an ir.Reference, an
// ir.Operator, or a literal.
//
// Discrimination is by key presence on a map value, checked in this order:
// $input, $ref, $temp, $now, $state, then the operators. A map carrying any
// other $-prefixed key is returned unchanged as a literal; the evaluator
// rejects it as an unknown reference.
func CompileValue(raw any) (any, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return raw, nil
	}

	if v, ok := m[ir.TagInput]; ok {
		path, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a dot-path string", ir.TagInput)
		}
		return ir.InputRef{Path: path}, nil
	}
	if v, ok := m[ir.TagRef]; ok {
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("%s must be a \"name.path\" string", ir.TagRef)
		}
		return ir.ParseSiblingRef(s), nil
	}
	if _, ok := m[ir.TagTemp]; ok {
		return ir.TempRef{}, nil
	}
	if _, ok := m[ir.TagNow]; ok {
		return ir.NowRef{}, nil
	}
	if v, ok := m[ir.TagState]; ok {
		field, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a field name string", ir.TagState)
		}
		return ir.StateRef{Field: field}, nil
	}

	return compileOperator(m)
}

func compileOperator(m map[string]any) (any, error) {
	if v, ok := m[ir.TagIncrement]; ok {
		n, err := compileOperand(v)
		return ir.Increment{N: n}, err
	}
	if v, ok := m[ir.TagDecrement]; ok {
		n, err := compileOperand(v)
		return ir.Decrement{N: n}, err
	}
	if v, ok := m[ir.TagPush]; ok {
		items, err := compileOperand(v)
		return ir.Push{Items: items}, err
	}
	if v, ok := m[ir.TagPull]; ok {
		items, err := compileOperand(v)
		return ir.Pull{Items: items}, err
	}
	if v, ok := m[ir.TagAddToSet]; ok {
		items, err := compileOperand(v)
		return ir.AddToSet{Items: items}, err
	}
	if v, ok := m[ir.TagDefault]; ok {
		val, err := compileOperand(v)
		return ir.Default{Value: val}, err
	}
	if v, ok := m[ir.TagIf]; ok {
		return compileIf(v)
	}
	return m, nil
}

func compileIf(raw any) (any, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a map with condition, then and optional else", ir.TagIf)
	}
	condRaw, ok := m["condition"]
	if !ok {
		return nil, fmt.Errorf("%s requires condition", ir.TagIf)
	}
	cond, err := compileOperand(condRaw)
	if err != nil {
		return nil, err
	}
	then, err := compileOperand(m["then"])
	if err != nil {
		return nil, err
	}
	op := ir.If{Condition: cond, Then: then}
	if elseRaw, ok := m["else"]; ok {
		op.Else, err = compileOperand(elseRaw)
		if err != nil {
			return nil, err
		}
		op.HasElse = true
	}
	return op, nil
}

// compileOperand compiles an operator operand. Lists are compiled element
// by element so each item may be a reference. Nested operators are rejected.
func compileOperand(raw any) (any, error) {
	if list, ok := raw.([]any); ok {
		out := make([]any, len(list))
		for i, elem := range list {
			v, err := compileOperand(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	}
	v, err := CompileValue(raw)
	if err != nil {
		return nil, err
	}
	if _, ok := v.(ir.Operator); ok {
		return nil, fmt.Errorf("operators cannot be nested")
	}
	return v, nil
}
