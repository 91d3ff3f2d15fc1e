package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/optisync/internal/apply"
	"github.com/roach88/optisync/internal/cache"
	"github.com/roach88/optisync/internal/eval"
	"github.com/roach88/optisync/internal/ir"
	"github.com/roach88/optisync/internal/store"
)

// Results holds the authoritative record returned by the server for each
// operation, keyed by operation name. A missing entry confirms the
// operation's optimistic write as is.
type Results map[string]map[string]any

// Executor sends evaluated operations to the server.
//
// Execute receives every operation of a mutation in evaluation order. A
// non-nil error rejects the whole mutation.
type Executor interface {
	Execute(ctx context.Context, ops []ir.EvaluatedOperation) (Results, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, ops []ir.EvaluatedOperation) (Results, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, ops []ir.EvaluatedOperation) (Results, error) {
	return f(ctx, ops)
}

// Accept is an Executor that accepts every mutation without server data.
var Accept Executor = ExecutorFunc(func(context.Context, []ir.EvaluatedOperation) (Results, error) {
	return nil, nil
})

// IDGenerator mints mutation ids.
// Implemented by cache.UUIDv7Generator (production) and
// testutil.SequentialIDs (tests).
type IDGenerator interface {
	Generate() string
}

// Engine applies mutations to a cache optimistically and settles them
// against an Executor.
//
// Thread-safety: Mutate may be called from any goroutine. The evaluate and
// apply stage and the settle stage of each mutation run under the engine's
// lock; the executor call does not.
type Engine struct {
	mu        sync.Mutex
	cache     *cache.Cache
	evaluator *eval.Evaluator
	store     *store.Store
	clock     *Clock
	ids       IDGenerator
	logger    *slog.Logger
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithStore journals every mutation to s.
func WithStore(s *store.Store) EngineOption {
	return func(e *Engine) {
		e.store = s
	}
}

// WithEvaluator sets the batch evaluator. Default: eval.New().
func WithEvaluator(ev *eval.Evaluator) EngineOption {
	return func(e *Engine) {
		e.evaluator = ev
	}
}

// WithMutationIDs sets the mutation id generator. Default: UUIDv7.
func WithMutationIDs(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithClock sets the logical clock. Used to resume from a known seq.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine writing to c.
func New(c *cache.Cache, opts ...EngineOption) *Engine {
	e := &Engine{
		cache:  c,
		clock:  NewClock(),
		ids:    cache.UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.evaluator == nil {
		e.evaluator = eval.New(eval.WithLogger(e.logger))
	}
	return e
}

// Cache returns the engine's cache.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock { return e.clock }

// Outcome describes one operation of a settled mutation.
type Outcome struct {
	Operation string
	// TxID is the optimistic transaction id, or "" when the operation was
	// not applied optimistically (bulk, or optimism disabled).
	TxID string
	// Applied is the record written to the cache at apply time.
	Applied map[string]any
}

// Result is the outcome of Mutate.
type Result struct {
	MutationID string
	BatchHash  string
	Operations []ir.EvaluatedOperation
	Outcomes   []Outcome
	Status     store.MutationStatus
}

// Mutate evaluates batch against input, applies it optimistically, runs it
// through exec and settles every optimistic transaction.
//
// On rejection the returned Result is non-nil and Status is rolled_back;
// the error satisfies IsRejected. Evaluation errors return a nil Result and
// leave the cache untouched.
func (e *Engine) Mutate(ctx context.Context, batch *ir.Batch, input map[string]any, exec Executor) (*Result, error) {
	if exec == nil {
		exec = Accept
	}

	res, err := e.begin(ctx, batch, input)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return e.reject(ctx, res, fmt.Errorf("context cancelled: %w", err))
	}

	results, execErr := exec.Execute(ctx, res.Operations)
	if execErr != nil {
		return e.reject(ctx, res, execErr)
	}
	return e.confirm(ctx, res, results)
}

// begin evaluates, journals and applies a batch.
func (e *Engine) begin(ctx context.Context, batch *ir.Batch, input map[string]any) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ops, err := e.evaluator.Evaluate(batch, input)
	if err != nil {
		return nil, &MutationError{Code: ErrCodeEvaluation, Message: "evaluate batch", Err: err}
	}
	hash, err := ir.BatchHash(ops)
	if err != nil {
		return nil, &MutationError{Code: ErrCodeEvaluation, Message: "hash batch", Err: err}
	}

	res := &Result{
		MutationID: e.ids.Generate(),
		BatchHash:  hash,
		Operations: ops,
		Status:     store.MutationPending,
	}
	seq := e.clock.Next()

	if e.store != nil {
		m := store.Mutation{ID: res.MutationID, BatchHash: hash, Input: input, Seq: seq}
		if err := e.store.WriteMutation(ctx, m, ops); err != nil {
			return nil, &MutationError{Code: ErrCodeJournal, Message: "write mutation", MutationID: res.MutationID, Err: err}
		}
	}

	e.logger.Info("mutation started",
		"mutation", res.MutationID,
		"operations", len(ops),
		"seq", seq,
	)

	for _, op := range ops {
		out := e.applyOne(op)
		res.Outcomes = append(res.Outcomes, out)
		if out.TxID == "" || e.store == nil {
			continue
		}
		t := store.Transaction{
			ID:         out.TxID,
			MutationID: res.MutationID,
			Operation:  op.Name,
			Entity:     op.Entity,
			EntityID:   cache.KeyOf(op.Entity, op.ID).ID,
			Seq:        e.clock.Next(),
		}
		if err := e.store.WriteTransaction(ctx, t); err != nil {
			// The cache already holds the write; undo everything applied so
			// far so the journal and cache agree.
			e.rollbackAll(res)
			if settleErr := e.store.SettleMutation(ctx, res.MutationID, store.MutationRolledBack, err.Error()); settleErr != nil {
				e.logger.Error("journal rollback failed", "mutation", res.MutationID, "error", settleErr)
			}
			return nil, &MutationError{Code: ErrCodeJournal, Message: "write transaction", MutationID: res.MutationID, Err: err}
		}
	}
	return res, nil
}

// applyOne writes one operation to the cache optimistically.
func (e *Engine) applyOne(op ir.EvaluatedOperation) Outcome {
	out := Outcome{Operation: op.Name}
	if op.IsBulk() || ir.IsNullish(op.ID) {
		e.logger.Debug("operation not applied optimistically",
			"operation", op.Name,
			"entity", op.Entity,
			"bulk", op.IsBulk(),
		)
		return out
	}

	idField := e.cache.IDField()
	var data map[string]any
	switch op.Op {
	case ir.OpDelete:
		data = map[string]any{idField: op.ID}
	case ir.OpCreate:
		data = apply.ApplyAll(op, nil)
	default:
		var snapshot map[string]any
		if cell, ok := e.cache.Peek(op.Entity, op.ID); ok {
			snapshot = cell.Data
		}
		data = changedFields(op, apply.ApplyAll(op, snapshot))
	}
	data[idField] = op.ID

	out.TxID = e.cache.ApplyOptimistic(op.Entity, op.Op, data)
	out.Applied = data
	return out
}

// changedFields keeps the fields op writes from the folded record, so an
// update merges only what it changes.
func changedFields(op ir.EvaluatedOperation, folded map[string]any) map[string]any {
	out := make(map[string]any, len(op.Data)+len(op.Deferred)+1)
	for k := range op.Data {
		out[k] = folded[k]
	}
	for k := range op.Deferred {
		if v, ok := folded[k]; ok {
			out[k] = v
		}
	}
	return out
}

// confirm settles every transaction of res with the executor's data. The
// cache is settled in full before the journal is written; journal errors
// do not stop the remaining writes and are returned together.
func (e *Engine) confirm(ctx context.Context, res *Result, results Results) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, out := range res.Outcomes {
		if out.TxID != "" {
			e.cache.ConfirmOptimistic(out.TxID, results[out.Operation])
		}
	}
	res.Status = store.MutationConfirmed

	if e.store != nil {
		var errs []error
		for _, out := range res.Outcomes {
			if out.TxID == "" {
				continue
			}
			if err := e.store.SettleTransaction(ctx, out.TxID, store.TxConfirmed, e.clock.Next(), results[out.Operation]); err != nil {
				errs = append(errs, err)
			}
		}
		if err := e.store.SettleMutation(ctx, res.MutationID, store.MutationConfirmed, ""); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			err := errors.Join(errs...)
			e.logger.Error("journal confirm failed", "mutation", res.MutationID, "error", err)
			return res, &MutationError{Code: ErrCodeJournal, Message: "settle mutation", MutationID: res.MutationID, Err: err}
		}
	}

	e.logger.Info("mutation confirmed", "mutation", res.MutationID)
	return res, nil
}

// reject rolls back every transaction of res in reverse apply order.
func (e *Engine) reject(ctx context.Context, res *Result, cause error) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollbackAll(res)
	res.Status = store.MutationRolledBack

	if e.store != nil {
		for i := len(res.Outcomes) - 1; i >= 0; i-- {
			txID := res.Outcomes[i].TxID
			if txID == "" {
				continue
			}
			if err := e.store.SettleTransaction(ctx, txID, store.TxRolledBack, e.clock.Next(), nil); err != nil {
				e.logger.Error("journal rollback failed", "mutation", res.MutationID, "tx", txID, "error", err)
			}
		}
		if err := e.store.SettleMutation(ctx, res.MutationID, store.MutationRolledBack, cause.Error()); err != nil {
			e.logger.Error("journal rollback failed", "mutation", res.MutationID, "error", err)
		}
	}

	e.logger.Warn("mutation rejected", "mutation", res.MutationID, "error", cause)
	return res, &MutationError{Code: ErrCodeRejected, Message: "executor rejected mutation", MutationID: res.MutationID, Err: cause}
}

func (e *Engine) rollbackAll(res *Result) {
	for i := len(res.Outcomes) - 1; i >= 0; i-- {
		if txID := res.Outcomes[i].TxID; txID != "" {
			e.cache.RollbackOptimistic(txID)
		}
	}
}

// Resume prepares the engine to continue an existing journal. The clock is
// moved past the journal's last seq, and every transaction and mutation a
// previous process left unsettled is recorded as rolled back: the cache
// writes they describe did not survive that process.
//
// Resume returns the number of transactions it settled.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	last, err := e.store.LastSeq(ctx)
	if err != nil {
		return 0, fmt.Errorf("resume: %w", err)
	}
	e.clock.advanceTo(last)

	pending, err := e.store.ReadPendingTransactions(ctx)
	if err != nil {
		return 0, fmt.Errorf("resume: %w", err)
	}
	for _, t := range pending {
		if err := e.store.SettleTransaction(ctx, t.ID, store.TxRolledBack, e.clock.Next(), nil); err != nil {
			return 0, fmt.Errorf("resume: %w", err)
		}
	}

	mutations, err := e.store.ReadMutations(ctx)
	if err != nil {
		return 0, fmt.Errorf("resume: %w", err)
	}
	for _, m := range mutations {
		if m.Status != store.MutationPending {
			continue
		}
		if err := e.store.SettleMutation(ctx, m.ID, store.MutationRolledBack, "abandoned before settlement"); err != nil {
			return 0, fmt.Errorf("resume: %w", err)
		}
	}

	if len(pending) > 0 {
		e.logger.Warn("settled abandoned transactions", "count", len(pending))
	}
	e.logger.Info("engine resumed", "seq", e.clock.Current())
	return len(pending), nil
}
