package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/optisync/internal/eval"
	"github.com/roach88/optisync/internal/ir"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	Input string   // input record file
	Set   []string // key=value input overrides
}

// EvalResult is the output of the eval command.
type EvalResult struct {
	BatchHash  string                  `json:"batch_hash"`
	Order      []string                `json:"order"`
	Operations []EvaluatedOperationOut `json:"operations"`
}

// EvaluatedOperationOut is one evaluated operation with its name.
type EvaluatedOperationOut struct {
	Name string         `json:"name"`
	Hash string         `json:"hash"`
	Op   map[string]any `json:"operation"`
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval <mutation-file>",
		Short: "Evaluate a mutation batch",
		Long: `Resolve every reference of a mutation batch and print the evaluated
operations in evaluation order.

Nothing is applied or journaled. Placeholder ids start at temp_0.

Examples:
  optisync eval ./mutations/chat.yaml --set title=Hello
  optisync eval ./mutations/todo.cue --input ./input.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Input, "input", "", "input record file (.cue, .yaml, .yml or .json)")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "input override key=value (repeatable)")

	return cmd
}

func runEval(opts *EvalOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	m, err := LoadMutation(path, opts.Input, opts.Set)
	if err != nil {
		code, msg := loadErrorCode(err)
		_ = formatter.Error(code, msg, nil)
		return WrapExitError(ExitCommandError, "failed to load mutation", err)
	}
	formatter.VerboseDump("input", m.Input)

	ops, err := eval.New().Evaluate(m.Batch, m.Input)
	if err != nil {
		return outputEvalError(formatter, err)
	}

	result, err := buildEvalResult(ops)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to hash batch", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	return writeEvalText(formatter.Writer, result)
}

func buildEvalResult(ops []ir.EvaluatedOperation) (EvalResult, error) {
	hash, err := ir.BatchHash(ops)
	if err != nil {
		return EvalResult{}, err
	}
	result := EvalResult{
		BatchHash:  hash,
		Order:      make([]string, 0, len(ops)),
		Operations: make([]EvaluatedOperationOut, 0, len(ops)),
	}
	for _, op := range ops {
		opHash, err := ir.OperationHash(op)
		if err != nil {
			return EvalResult{}, fmt.Errorf("%s: %w", op.Name, err)
		}
		result.Order = append(result.Order, op.Name)
		result.Operations = append(result.Operations, EvaluatedOperationOut{
			Name: op.Name,
			Hash: opHash,
			Op:   ir.OperationObject(op),
		})
	}
	return result, nil
}

func writeEvalText(w io.Writer, result EvalResult) error {
	for i, op := range result.Operations {
		body, err := ir.MarshalCanonical(op.Op)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d. %s %s\n", i+1, op.Name, body)
	}
	fmt.Fprintf(w, "\nbatch %s\n", result.BatchHash)
	return nil
}

// outputEvalError reports an evaluation failure with the evaluator's code
// in the details.
func outputEvalError(formatter *OutputFormatter, err error) error {
	var details map[string]string
	var evalErr *eval.EvalError
	if errors.As(err, &evalErr) {
		details = map[string]string{"code": string(evalErr.Code)}
		if evalErr.Operation != "" {
			details["operation"] = evalErr.Operation
		}
	}
	_ = formatter.Error(ErrCodeEvalFailed, err.Error(), details)
	return WrapExitError(ExitFailure, "evaluation failed", err)
}
