package eval

import "github.com/roach88/optisync/internal/ir"

// CompileOperator converts an operator into a deferred instruction. Operands
// are resolved first, so they may be references. Push, Pull and AddToSet
// always carry a list. An If without an else keeps HasElse false so the
// applier falls back to the current value.
func CompileOperator(op ir.Operator, ctx *Context) (ir.DeferredInstruction, error) {
	switch o := op.(type) {
	case ir.Increment:
		v, err := resolveOperand(o.N, ctx)
		return ir.DeferredInstruction{Type: ir.InstrIncrement, Value: v}, err
	case ir.Decrement:
		v, err := resolveOperand(o.N, ctx)
		return ir.DeferredInstruction{Type: ir.InstrDecrement, Value: v}, err
	case ir.Push:
		v, err := resolveItems(o.Items, ctx)
		return ir.DeferredInstruction{Type: ir.InstrPush, Value: v}, err
	case ir.Pull:
		v, err := resolveItems(o.Items, ctx)
		return ir.DeferredInstruction{Type: ir.InstrPull, Value: v}, err
	case ir.AddToSet:
		v, err := resolveItems(o.Items, ctx)
		return ir.DeferredInstruction{Type: ir.InstrAddToSet, Value: v}, err
	case ir.Default:
		v, err := resolveOperand(o.Value, ctx)
		return ir.DeferredInstruction{Type: ir.InstrDefault, Value: v}, err
	case ir.If:
		return compileIf(o, ctx)
	}
	return ir.DeferredInstruction{}, newError(ErrCodeUnknownReference, ctx.Operation, "",
		"unsupported operator %T", op)
}

func compileIf(o ir.If, ctx *Context) (ir.DeferredInstruction, error) {
	cond, err := resolveOperand(o.Condition, ctx)
	if err != nil {
		return ir.DeferredInstruction{}, err
	}
	then, err := resolveOperand(o.Then, ctx)
	if err != nil {
		return ir.DeferredInstruction{}, err
	}
	d := ir.DeferredInstruction{Type: ir.InstrIf, Condition: cond, ThenValue: then}
	if o.HasElse {
		d.ElseValue, err = resolveOperand(o.Else, ctx)
		if err != nil {
			return ir.DeferredInstruction{}, err
		}
		d.HasElse = true
	}
	return d, nil
}

// resolveOperand resolves an operand, element-wise for lists.
func resolveOperand(v any, ctx *Context) (any, error) {
	list, ok := v.([]any)
	if !ok {
		return Resolve(v, ctx)
	}
	out := make([]any, len(list))
	for i, elem := range list {
		r, err := Resolve(elem, ctx)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// resolveItems resolves a list operand, wrapping a single item in a list.
func resolveItems(v any, ctx *Context) ([]any, error) {
	r, err := resolveOperand(v, ctx)
	if err != nil {
		return nil, err
	}
	if list, ok := r.([]any); ok {
		return list, nil
	}
	return []any{r}, nil
}
