package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/optisync/internal/eval"
)

// GraphOptions holds flags for the graph command.
type GraphOptions struct {
	*RootOptions
	As string // "dot" | "mermaid"
}

// GraphResult is the JSON output of the graph command.
type GraphResult struct {
	Order []string   `json:"order"`
	Edges eval.Graph `json:"edges"`
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GraphOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "graph <mutation-file>",
		Short: "Print the sibling dependency graph of a batch",
		Long: `Print the sibling dependency graph of a mutation batch.

Text output is Graphviz DOT (default) or Mermaid. JSON output lists the
evaluation order and each operation's dependencies.

Examples:
  optisync graph ./mutations/chat.yaml | dot -Tsvg > chat.svg
  optisync graph ./mutations/chat.yaml --as mermaid`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.As, "as", "dot", "text rendering (dot|mermaid)")

	return cmd
}

func runGraph(opts *GraphOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.As != "dot" && opts.As != "mermaid" {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --as %q: must be dot or mermaid", opts.As))
	}

	m, err := LoadMutation(path, "", nil)
	if err != nil {
		code, msg := loadErrorCode(err)
		_ = formatter.Error(code, msg, nil)
		return WrapExitError(ExitCommandError, "failed to load mutation", err)
	}

	graph := eval.BuildGraph(m.Batch)
	order, err := eval.Sort(m.Batch, graph)
	if err != nil {
		return outputEvalError(formatter, err)
	}
	formatter.VerboseLog("Evaluation order: %v", order)

	if formatter.Format == "json" {
		return formatter.Success(GraphResult{Order: order, Edges: graph})
	}

	if opts.As == "mermaid" {
		fmt.Fprint(formatter.Writer, eval.Mermaid(m.Batch, graph))
		return nil
	}
	fmt.Fprint(formatter.Writer, eval.DOT(m.Batch, graph))
	return nil
}
