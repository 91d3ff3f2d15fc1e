package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/optisync/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Mutation string // optional - trace a single mutation
	Status   string // optional - filter by mutation status
}

// TraceMutation is one journaled mutation with its operations and
// transactions.
type TraceMutation struct {
	ID           string             `json:"id"`
	Seq          int64              `json:"seq"`
	BatchHash    string             `json:"batch_hash"`
	Status       string             `json:"status"`
	Error        string             `json:"error,omitempty"`
	Input        map[string]any     `json:"input,omitempty"`
	Operations   []TraceOperation   `json:"operations"`
	Transactions []TraceTransaction `json:"transactions"`
}

// TraceOperation is one evaluated operation in journal order.
type TraceOperation struct {
	Position int            `json:"position"`
	Name     string         `json:"name"`
	Entity   string         `json:"entity"`
	Op       string         `json:"op"`
	Hash     string         `json:"hash"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// TraceTransaction is one optimistic cache transaction.
type TraceTransaction struct {
	ID         string         `json:"id"`
	Operation  string         `json:"operation"`
	Entity     string         `json:"entity"`
	EntityID   string         `json:"entity_id"`
	Status     string         `json:"status"`
	Seq        int64          `json:"seq"`
	SettledSeq int64          `json:"settled_seq,omitempty"`
	ServerData map[string]any `json:"server_data,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Mutations []TraceMutation `json:"mutations"`
	Stats     TraceStats      `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Mutations    int `json:"mutations"`
	Confirmed    int `json:"confirmed"`
	RolledBack   int `json:"rolled_back"`
	Pending      int `json:"pending"`
	Transactions int `json:"transactions"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the mutation journal",
		Long: `Show the mutation journal recorded by run.

Each mutation is listed with its evaluated operations and the optimistic
transactions it opened, including how each transaction settled.

Examples:
  optisync trace --db ./optisync.db
  optisync trace --db ./optisync.db --mutation 0190a8b2-...
  optisync trace --db ./optisync.db --status rolled_back --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Mutation, "mutation", "", "mutation id to trace")
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (pending|confirmed|rolled_back)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	switch store.MutationStatus(opts.Status) {
	case "", store.MutationPending, store.MutationConfirmed, store.MutationRolledBack:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --status %q", opts.Status))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	mutations, err := selectMutations(ctx, st, opts)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitFailure, "mutation not found", err)
		}
		_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := TraceResult{Mutations: make([]TraceMutation, 0, len(mutations))}
	for _, m := range mutations {
		tm, err := buildTraceMutation(ctx, st, m)
		if err != nil {
			_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		result.Mutations = append(result.Mutations, tm)
		result.Stats.add(tm)
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	return outputTraceText(formatter.Writer, result, opts.Verbose)
}

func selectMutations(ctx context.Context, st *store.Store, opts *TraceOptions) ([]store.Mutation, error) {
	if opts.Mutation != "" {
		m, err := st.ReadMutation(ctx, opts.Mutation)
		if err != nil {
			return nil, err
		}
		return []store.Mutation{m}, nil
	}

	all, err := st.ReadMutations(ctx)
	if err != nil {
		return nil, err
	}
	if opts.Status == "" {
		return all, nil
	}
	filtered := all[:0]
	for _, m := range all {
		if string(m.Status) == opts.Status {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

func buildTraceMutation(ctx context.Context, st *store.Store, m store.Mutation) (TraceMutation, error) {
	ops, err := st.ReadOperations(ctx, m.ID)
	if err != nil {
		return TraceMutation{}, fmt.Errorf("failed to read operations: %w", err)
	}
	txs, err := st.ReadTransactions(ctx, m.ID)
	if err != nil {
		return TraceMutation{}, fmt.Errorf("failed to read transactions: %w", err)
	}

	tm := TraceMutation{
		ID:           m.ID,
		Seq:          m.Seq,
		BatchHash:    m.BatchHash,
		Status:       string(m.Status),
		Error:        m.Error,
		Input:        m.Input,
		Operations:   make([]TraceOperation, 0, len(ops)),
		Transactions: make([]TraceTransaction, 0, len(txs)),
	}
	for _, op := range ops {
		tm.Operations = append(tm.Operations, TraceOperation{
			Position: op.Position,
			Name:     op.Name,
			Entity:   op.Entity,
			Op:       string(op.Op),
			Hash:     op.Hash,
			Payload:  op.Payload,
		})
	}
	for _, tx := range txs {
		tm.Transactions = append(tm.Transactions, TraceTransaction{
			ID:         tx.ID,
			Operation:  tx.Operation,
			Entity:     tx.Entity,
			EntityID:   tx.EntityID,
			Status:     string(tx.Status),
			Seq:        tx.Seq,
			SettledSeq: tx.SettledSeq,
			ServerData: tx.ServerData,
		})
	}
	return tm, nil
}

func (s *TraceStats) add(m TraceMutation) {
	s.Mutations++
	s.Transactions += len(m.Transactions)
	switch store.MutationStatus(m.Status) {
	case store.MutationConfirmed:
		s.Confirmed++
	case store.MutationRolledBack:
		s.RolledBack++
	case store.MutationPending:
		s.Pending++
	}
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintln(w, "=== Journal ===")
	if len(result.Mutations) == 0 {
		fmt.Fprintln(w, "  (no mutations)")
	}
	for _, m := range result.Mutations {
		fmt.Fprintf(w, "  [%d] %s %s\n", m.Seq, truncateID(m.ID), m.Status)
		if m.Error != "" {
			fmt.Fprintf(w, "       Error: %s\n", m.Error)
		}
		if verbose {
			fmt.Fprintf(w, "       Batch: %s\n", m.BatchHash)
			if len(m.Input) > 0 {
				fmt.Fprintf(w, "       Input: %s\n", formatArgs(m.Input))
			}
		}
		for _, op := range m.Operations {
			fmt.Fprintf(w, "       %d. %s %s %s\n", op.Position+1, op.Name, op.Op, op.Entity)
			if verbose && len(op.Payload) > 0 {
				fmt.Fprintf(w, "          %s\n", formatArgs(op.Payload))
			}
		}
		for _, tx := range m.Transactions {
			fmt.Fprintf(w, "       tx %s %s:%s %s\n", truncateID(tx.ID), tx.Entity, tx.EntityID, tx.Status)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Mutations:    %d\n", result.Stats.Mutations)
	fmt.Fprintf(w, "  Confirmed:    %d\n", result.Stats.Confirmed)
	fmt.Fprintf(w, "  Rolled back:  %d\n", result.Stats.RolledBack)
	fmt.Fprintf(w, "  Pending:      %d\n", result.Stats.Pending)
	fmt.Fprintf(w, "  Transactions: %d\n", result.Stats.Transactions)

	return nil
}

// formatArgs formats a map for display with sorted keys.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value, recursing into nested structures.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
