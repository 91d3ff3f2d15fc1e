package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/roach88/optisync/internal/cache"
	"github.com/roach88/optisync/internal/engine"
	"github.com/roach88/optisync/internal/eval"
	"github.com/roach88/optisync/internal/ir"
	"github.com/roach88/optisync/internal/store"
	"github.com/roach88/optisync/internal/testutil"
)

// Harness runs one scenario against a fresh cache, engine and journal.
type Harness struct {
	cache  *cache.Cache
	engine *engine.Engine
	batch  *ir.Batch
	input  map[string]any
	result *Result
	seq    int64
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory journal. Transaction ids,
// mutation ids, placeholder ids and the clock are deterministic, so two
// runs of the same scenario produce identical traces.
//
// Execution flow:
//  1. Compile the scenario's batch (if any)
//  2. Run every step, recording trace events
//  3. Evaluate assertions against the final cache and journal
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewFixedClock(testutil.Epoch)

	c := cache.New(
		cache.WithTxIDGenerator(testutil.NewSequentialIDs("tx")),
		cache.WithClock(clock),
		cache.WithLogger(logger),
	)
	eng := engine.New(c,
		engine.WithStore(st),
		engine.WithEvaluator(eval.New(eval.WithClock(clock), eval.WithLogger(logger))),
		engine.WithMutationIDs(testutil.NewSequentialIDs("m")),
		engine.WithLogger(logger),
	)

	h := &Harness{
		cache:  c,
		engine: eng,
		result: NewResult(),
		logger: logger,
	}

	if scenario.Mutation != "" || scenario.Batch.Kind != 0 {
		src, err := scenario.source()
		if err != nil {
			return nil, fmt.Errorf("failed to load mutation: %w", err)
		}
		if h.batch, err = src.Batch(); err != nil {
			return nil, fmt.Errorf("failed to compile mutation: %w", err)
		}
		h.input = mergeInput(src.Input, scenario.Input)
	}

	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, i, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Do, err)
		}
	}

	actx := &AssertionContext{
		Ctx:   ctx,
		Cache: c,
		Store: st,
	}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) runStep(ctx context.Context, index int, step Step) error {
	switch step.Do {
	case StepSet:
		h.cache.SetEntity(step.Entity, step.ID, ir.CloneMap(step.Data))
		h.record(TraceEvent{Type: EventSet, Entity: step.Entity, ID: step.ID, Data: h.cellData(step.Entity, step.ID)})
	case StepMutate:
		return h.mutate(ctx, index, step)
	case StepRetain:
		h.cache.Retain(step.Entity, step.ID)
		h.record(TraceEvent{Type: EventRetain, Entity: step.Entity, ID: step.ID})
	case StepRelease:
		h.cache.Release(step.Entity, step.ID)
		h.record(TraceEvent{Type: EventRelease, Entity: step.Entity, ID: step.ID})
	case StepGC:
		n := h.cache.GC()
		h.record(TraceEvent{Type: EventGC, Count: n})
	default:
		return fmt.Errorf("unknown step %q", step.Do)
	}
	h.logger.Debug("step completed", "step", index, "do", step.Do)
	return nil
}

// mutate runs one mutation through the engine with a scripted executor.
// The executor observes the evaluated operations and the cache while the
// mutation is in flight.
func (h *Harness) mutate(ctx context.Context, index int, step Step) error {
	input := h.input
	if step.Input != nil {
		input = mergeInput(h.input, step.Input)
	}

	var touched []cache.Key
	exec := engine.ExecutorFunc(func(_ context.Context, ops []ir.EvaluatedOperation) (engine.Results, error) {
		for _, op := range ops {
			h.record(TraceEvent{Type: EventEvaluate, Operation: op.Name, Data: ir.OperationObject(op)})
			if !op.IsBulk() && !ir.IsNullish(op.ID) {
				touched = appendKey(touched, cache.KeyOf(op.Entity, op.ID))
			}
		}
		h.record(TraceEvent{Type: EventInFlight, Data: h.view(touched)})

		if step.Reject != "" {
			return nil, errors.New(step.Reject)
		}
		return engine.Results(step.Server), nil
	})

	res, err := h.engine.Mutate(ctx, h.batch, input, exec)
	code := errorCode(err)

	if res != nil {
		h.record(TraceEvent{
			Type:     EventSettled,
			Mutation: res.MutationID,
			Status:   string(res.Status),
			Data:     h.view(touched),
			Error:    code,
		})
	} else if err != nil {
		h.record(TraceEvent{Type: EventError, Error: code})
	}

	switch {
	case step.ExpectError == "" && err != nil:
		h.result.AddError(fmt.Sprintf("step %d: unexpected error: %v", index, err))
	case step.ExpectError != "" && err == nil:
		h.result.AddError(fmt.Sprintf("step %d: expected error %s, mutation succeeded", index, step.ExpectError))
	case step.ExpectError != "" && code != step.ExpectError:
		h.result.AddError(fmt.Sprintf("step %d: expected error %s, got %s", index, step.ExpectError, code))
	}
	return nil
}

// errorCode reduces a Mutate error to a stable code: the evaluator's code
// for evaluation failures, the engine's code otherwise.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var ee *eval.EvalError
	if errors.As(err, &ee) {
		return string(ee.Code)
	}
	var me *engine.MutationError
	if errors.As(err, &me) {
		return string(me.Code)
	}
	return "ERROR"
}

// record appends an event with the next trace seq.
func (h *Harness) record(e TraceEvent) {
	h.seq++
	e.Seq = h.seq
	h.result.Trace = append(h.result.Trace, e)
}

// view returns the current data of the given cells keyed "Entity:id".
// Absent or unloaded cells map to nil.
func (h *Harness) view(keys []cache.Key) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		var data any
		if cell, ok := h.cache.Peek(k.Entity, k.ID); ok && cell.Data != nil {
			data = cell.Data
		}
		out[k.String()] = data
	}
	return out
}

func (h *Harness) cellData(entity string, id any) any {
	if cell, ok := h.cache.Peek(entity, id); ok && cell.Data != nil {
		return cell.Data
	}
	return nil
}

func appendKey(keys []cache.Key, k cache.Key) []cache.Key {
	for _, existing := range keys {
		if existing == k {
			return keys
		}
	}
	keys = append(keys, k)
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// mergeInput shallow-merges override over base into a new map.
func mergeInput(base, override map[string]any) map[string]any {
	out := ir.CloneMap(base)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range override {
		out[k] = ir.Clone(v)
	}
	return out
}
