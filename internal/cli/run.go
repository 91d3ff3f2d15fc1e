package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/optisync/internal/cache"
	"github.com/roach88/optisync/internal/compiler"
	"github.com/roach88/optisync/internal/engine"
	"github.com/roach88/optisync/internal/ir"
	"github.com/roach88/optisync/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Input    string
	Set      []string
	Server   string // per-operation server records file
	Reject   string // reject the mutation with this message

	// MutationIDs and TxIDs override the UUIDv7 generators (for testing).
	MutationIDs engine.IDGenerator
	TxIDs       cache.TxIDGenerator
}

// RunResult is the output of the run command.
type RunResult struct {
	MutationID string             `json:"mutation_id"`
	BatchHash  string             `json:"batch_hash"`
	Status     string             `json:"status"`
	Order      []string           `json:"order"`
	Outcomes   []RunOutcome       `json:"outcomes"`
	Entities   []cache.EntityCell `json:"entities"`
	Resumed    int                `json:"resumed,omitempty"`
}

// RunOutcome describes one operation of a run.
type RunOutcome struct {
	Operation string         `json:"operation"`
	TxID      string         `json:"tx,omitempty"`
	Applied   map[string]any `json:"applied,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <mutation-file>",
		Short: "Apply a mutation optimistically and settle it",
		Long: `Evaluate a mutation batch, apply it optimistically to a fresh cache, and
settle it, journaling every step to a SQLite database (created if it does
not exist).

By default the mutation is accepted and each operation keeps its
optimistic data. --server supplies authoritative records keyed by
operation name; --reject rolls every write back.

Transactions a previous run left unsettled are recorded as rolled back
before the new mutation starts.

Examples:
  optisync run --db ./optisync.db ./mutations/chat.yaml --set title=Hello
  optisync run --db ./optisync.db ./mutations/chat.yaml --server ./server.json
  optisync run --db ./optisync.db ./mutations/chat.yaml --reject "offline"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutation(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Input, "input", "", "input record file (.cue, .yaml, .yml or .json)")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "input override key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Server, "server", "", "server records file keyed by operation name")
	cmd.Flags().StringVar(&opts.Reject, "reject", "", "reject the mutation with this message")
	cmd.MarkFlagsMutuallyExclusive("server", "reject")

	return cmd
}

func runMutation(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	m, err := LoadMutation(path, opts.Input, opts.Set)
	if err != nil {
		code, msg := loadErrorCode(err)
		_ = formatter.Error(code, msg, nil)
		return WrapExitError(ExitCommandError, "failed to load mutation", err)
	}
	formatter.VerboseDump("input", m.Input)

	exec, err := buildExecutor(opts)
	if err != nil {
		_ = formatter.Error(ErrCodeInputFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load server records", err)
	}

	logger.Info("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	cacheOpts := []cache.Option{cache.WithLogger(logger)}
	if opts.TxIDs != nil {
		cacheOpts = append(cacheOpts, cache.WithTxIDGenerator(opts.TxIDs))
	}
	engineOpts := []engine.EngineOption{engine.WithStore(st), engine.WithLogger(logger)}
	if opts.MutationIDs != nil {
		engineOpts = append(engineOpts, engine.WithMutationIDs(opts.MutationIDs))
	}
	eng := engine.New(cache.New(cacheOpts...), engineOpts...)

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()

	resumed, err := eng.Resume(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to resume journal", err)
	}

	res, err := eng.Mutate(ctx, m.Batch, m.Input, exec)
	if err != nil && res == nil {
		if engine.IsEvaluationError(err) {
			return outputEvalError(formatter, err)
		}
		_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "mutation failed", err)
	}

	out := buildRunResult(res, eng.Cache(), resumed)
	formatter.VerboseDump("result", res)

	if err != nil {
		code := ErrCodeJournal
		if engine.IsRejected(err) {
			code = ErrCodeRejected
		}
		if formatter.Format == "json" {
			if rerr := formatter.Respond(CLIResponse{
				Status: "error",
				Data:   out,
				Error:  &CLIError{Code: code, Message: err.Error()},
			}); rerr != nil {
				return rerr
			}
		} else {
			writeRunText(formatter, out)
			fmt.Fprintf(formatter.Writer, "✗ %s\n", err)
		}
		return WrapExitError(ExitFailure, "mutation not confirmed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(out)
	}
	writeRunText(formatter, out)
	fmt.Fprintf(formatter.Writer, "✓ Mutation %s confirmed\n", out.MutationID)
	return nil
}

// buildExecutor returns the executor selected by the flags.
func buildExecutor(opts *RunOptions) (engine.Executor, error) {
	if opts.Reject != "" {
		msg := opts.Reject
		return engine.ExecutorFunc(func(context.Context, []ir.EvaluatedOperation) (engine.Results, error) {
			return nil, errors.New(msg)
		}), nil
	}
	if opts.Server == "" {
		return engine.Accept, nil
	}

	rec, err := compiler.LoadInput(opts.Server)
	if err != nil {
		return nil, err
	}
	results := make(engine.Results, len(rec))
	for name, v := range rec {
		data, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("server record %q must be a map, got %T", name, v)
		}
		results[name] = data
	}
	return engine.ExecutorFunc(func(context.Context, []ir.EvaluatedOperation) (engine.Results, error) {
		return results, nil
	}), nil
}

// signalContext cancels the returned context on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, cancelling mutation", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func buildRunResult(res *engine.Result, c *cache.Cache, resumed int) RunResult {
	out := RunResult{
		MutationID: res.MutationID,
		BatchHash:  res.BatchHash,
		Status:     string(res.Status),
		Order:      make([]string, 0, len(res.Operations)),
		Outcomes:   make([]RunOutcome, 0, len(res.Outcomes)),
		Entities:   c.Snapshot().Entities,
		Resumed:    resumed,
	}
	for _, op := range res.Operations {
		out.Order = append(out.Order, op.Name)
	}
	for _, o := range res.Outcomes {
		out.Outcomes = append(out.Outcomes, RunOutcome{Operation: o.Operation, TxID: o.TxID, Applied: o.Applied})
	}
	return out
}

func writeRunText(formatter *OutputFormatter, out RunResult) {
	w := formatter.Writer
	fmt.Fprintf(w, "Mutation: %s (%s)\n", out.MutationID, out.Status)
	fmt.Fprintf(w, "Batch:    %s\n", out.BatchHash)
	if out.Resumed > 0 {
		fmt.Fprintf(w, "Resumed:  %d abandoned transaction(s) rolled back\n", out.Resumed)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Operations:")
	for i, o := range out.Outcomes {
		tx := o.TxID
		if tx == "" {
			tx = "not applied"
		}
		fmt.Fprintf(w, "  %d. %s [%s]\n", i+1, o.Operation, tx)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Cache:")
	if len(out.Entities) == 0 {
		fmt.Fprintln(w, "  (empty)")
	}
	for _, cell := range out.Entities {
		key := cache.KeyOf(cell.Entity, cell.ID)
		if cell.Data == nil {
			fmt.Fprintf(w, "  %s (no data)\n", key)
			continue
		}
		body, err := ir.MarshalCanonical(cell.Data)
		if err != nil {
			body = []byte(fmt.Sprint(cell.Data))
		}
		fmt.Fprintf(w, "  %s %s\n", key, body)
	}
	fmt.Fprintln(w)
}
