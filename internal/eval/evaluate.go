package eval

import (
	"log/slog"

	"github.com/roach88/optisync/internal/ir"
)

// Evaluator turns DSL batches into evaluated operations.
//
// An Evaluator is safe for concurrent use: each call builds its own Context,
// and the shared IDGenerator is required to be concurrency-safe.
type Evaluator struct {
	ids    IDGenerator
	clock  Clock
	logger *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithIDGenerator sets the placeholder id generator.
// Default: a TempIDs counter owned by the Evaluator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Evaluator) {
		e.ids = g
	}
}

// WithClock sets the clock used by $now.
func WithClock(c Clock) Option {
	return func(e *Evaluator) {
		e.clock = c
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = l
	}
}

// New creates an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		ids:   NewTempIDs(),
		clock: systemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// CallOption configures a single Evaluate or EvaluateMap call.
type CallOption func(*callConfig)

type callConfig struct {
	ids IDGenerator
}

// WithBatchIDs mints placeholder ids for one call from g instead of the
// Evaluator's shared generator. A batch given its own counter never
// interleaves with concurrent batches.
func WithBatchIDs(g IDGenerator) CallOption {
	return func(c *callConfig) {
		c.ids = g
	}
}

// Evaluate evaluates batch against input and returns operations in
// dependency order.
func (e *Evaluator) Evaluate(batch *ir.Batch, input map[string]any, opts ...CallOption) ([]ir.EvaluatedOperation, error) {
	order, ctx, err := e.run(batch, input, opts)
	if err != nil {
		return nil, err
	}
	ops := make([]ir.EvaluatedOperation, len(order))
	for i, name := range order {
		ops[i] = *ctx.Results[name]
	}
	return ops, nil
}

// EvaluateMap is Evaluate keyed by operation name.
func (e *Evaluator) EvaluateMap(batch *ir.Batch, input map[string]any, opts ...CallOption) (map[string]ir.EvaluatedOperation, error) {
	_, ctx, err := e.run(batch, input, opts)
	if err != nil {
		return nil, err
	}
	out := make(map[string]ir.EvaluatedOperation, len(ctx.Results))
	for name, op := range ctx.Results {
		out[name] = *op
	}
	return out, nil
}

func (e *Evaluator) run(batch *ir.Batch, input map[string]any, opts []CallOption) ([]string, *Context, error) {
	cfg := callConfig{ids: e.ids}
	for _, opt := range opts {
		opt(&cfg)
	}

	graph := BuildGraph(batch)
	order, err := Sort(batch, graph)
	if err != nil {
		e.logger.Debug("batch rejected", "error", err)
		return nil, nil, err
	}

	ctx := NewContext(input, cfg.ids, e.clock)
	for _, name := range order {
		d, _ := batch.Get(name)
		ctx.Operation = name
		op, err := evaluateOperation(name, d, ctx)
		if err != nil {
			e.logger.Debug("operation failed", "operation", name, "error", err)
			return nil, nil, err
		}
		ctx.Results[name] = op
		e.logger.Debug("operation evaluated",
			"operation", name,
			"entity", op.Entity,
			"op", op.Op,
			"id", op.ID,
			"deferred", len(op.Deferred),
		)
	}
	return order, ctx, nil
}

// evaluateOperation resolves the identifier, then partitions fields into
// literal data and deferred instructions. Fields resolving to ir.Undefined
// are left out of the data bag.
func evaluateOperation(name string, d *ir.Descriptor, ctx *Context) (*ir.EvaluatedOperation, error) {
	op := &ir.EvaluatedOperation{
		Name:   name,
		Entity: d.Entity,
		Op:     d.Op,
		Data:   map[string]any{},
	}
	if err := resolveIdentifier(op, d, ctx); err != nil {
		return nil, err
	}

	for _, f := range d.Fields {
		if operator, ok := f.Value.(ir.Operator); ok {
			instr, err := CompileOperator(operator, ctx)
			if err != nil {
				return nil, err
			}
			if op.Deferred == nil {
				op.Deferred = make(map[string]ir.DeferredInstruction)
			}
			op.Deferred[f.Name] = instr
			continue
		}
		v, err := Resolve(f.Value, ctx)
		if err != nil {
			return nil, err
		}
		if ir.IsUndefined(v) {
			continue
		}
		op.Data[f.Name] = ir.Clone(v)
	}
	return op, nil
}

func resolveIdentifier(op *ir.EvaluatedOperation, d *ir.Descriptor, ctx *Context) error {
	switch d.ID.Form {
	case ir.IDList:
		ids, err := resolveIDList(d.ID.Value, ctx)
		if err != nil {
			return err
		}
		op.IDs = ids
		return nil

	case ir.IDFilter:
		where := make(map[string]any, len(d.ID.Where))
		for _, w := range d.ID.Where {
			v, err := Resolve(w.Value, ctx)
			if err != nil {
				return err
			}
			if !ir.IsUndefined(v) {
				where[w.Name] = v
			}
		}
		op.Where = where
		return nil

	case ir.IDSingle:
		v, err := Resolve(d.ID.Value, ctx)
		if err != nil {
			return err
		}
		if !ir.IsNullish(v) {
			op.ID = v
			return nil
		}
	}

	if d.Op == ir.OpCreate {
		op.ID = ctx.IDs.Next()
		return nil
	}
	return newError(ErrCodeMissingID, ctx.Operation, ir.TagID,
		"%s on %s requires an identifier", d.Op, d.Entity)
}

// resolveIDList resolves an $ids value. A literal list is resolved
// element-wise; any other value must resolve to a list or a single id.
func resolveIDList(v any, ctx *Context) ([]any, error) {
	if list, ok := v.([]any); ok {
		out := make([]any, 0, len(list))
		for _, elem := range list {
			r, err := Resolve(elem, ctx)
			if err != nil {
				return nil, err
			}
			if !ir.IsNullish(r) {
				out = append(out, r)
			}
		}
		return out, nil
	}

	r, err := Resolve(v, ctx)
	if err != nil {
		return nil, err
	}
	if list, ok := r.([]any); ok {
		return list, nil
	}
	if ir.IsNullish(r) {
		return nil, newError(ErrCodeMissingID, ctx.Operation, ir.TagIDs,
			"%s resolved to no identifiers", ir.TagIDs)
	}
	return []any{r}, nil
}
