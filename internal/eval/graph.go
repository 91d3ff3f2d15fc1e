package eval

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/optisync/internal/ir"
)

// Graph maps each operation name to the siblings it depends on. Every batch
// operation is a key; dependency lists keep first-reference order.
type Graph map[string][]string

// BuildGraph scans every operation of batch for sibling references in its
// identifier, filter values and assigned fields, including operator
// operands. Each sibling is listed once. Names absent from the batch are
// external and dropped.
func BuildGraph(batch *ir.Batch) Graph {
	graph := make(Graph, batch.Len())
	for _, name := range batch.Names() {
		d, _ := batch.Get(name)
		seen := mapset.NewThreadUnsafeSet[string]()
		deps := []string{}
		add := func(ref ir.SiblingRef) {
			if !batch.Has(ref.Name) || seen.Contains(ref.Name) {
				return
			}
			seen.Add(ref.Name)
			deps = append(deps, ref.Name)
		}

		scanRefs(d.ID.Value, add)
		for _, w := range d.ID.Where {
			scanRefs(w.Value, add)
		}
		for _, f := range d.Fields {
			scanRefs(f.Value, add)
		}
		graph[name] = deps
	}
	return graph
}

// scanRefs reports every SiblingRef in v. Lists are scanned element-wise
// (for $ids lists) and operators through their operands. Literal maps are
// not descended into.
func scanRefs(v any, fn func(ir.SiblingRef)) {
	switch val := v.(type) {
	case ir.SiblingRef:
		fn(val)
	case ir.Operator:
		for _, operand := range ir.Operands(val) {
			scanRefs(operand, fn)
		}
	case []any:
		for _, elem := range val {
			scanRefs(elem, fn)
		}
	}
}

// Dependents returns the reverse graph: for each operation, the operations
// that reference it.
func (g Graph) Dependents() Graph {
	out := make(Graph, len(g))
	for name := range g {
		out[name] = []string{}
	}
	for name, deps := range g {
		for _, dep := range deps {
			out[dep] = append(out[dep], name)
		}
	}
	return out
}

// DOT exports the graph of batch as Graphviz DOT text. Edges point from an
// operation to the sibling it depends on.
func DOT(batch *ir.Batch, g Graph) string {
	var b strings.Builder
	b.WriteString("digraph batch {\n")
	b.WriteString("  rankdir=LR;\n")

	aliases := nodeAliases(batch)
	for _, name := range batch.Names() {
		b.WriteString(fmt.Sprintf("  %s [label=\"%s\"];\n", aliases[name], escapeLabel(nodeLabel(batch, name, `\n`))))
	}
	for _, name := range batch.Names() {
		for _, dep := range g[name] {
			b.WriteString(fmt.Sprintf("  %s -> %s;\n", aliases[name], aliases[dep]))
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// Mermaid exports the graph of batch as Mermaid flowchart text.
func Mermaid(batch *ir.Batch, g Graph) string {
	var b strings.Builder
	b.WriteString("graph TD\n")

	aliases := nodeAliases(batch)
	for _, name := range batch.Names() {
		b.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", aliases[name], escapeLabel(nodeLabel(batch, name, "<br/>"))))
	}
	for _, name := range batch.Names() {
		for _, dep := range g[name] {
			b.WriteString(fmt.Sprintf("    %s --> %s\n", aliases[name], aliases[dep]))
		}
	}
	return b.String()
}

func nodeAliases(batch *ir.Batch) map[string]string {
	aliases := make(map[string]string, batch.Len())
	for i, name := range batch.Names() {
		aliases[name] = fmt.Sprintf("n%d", i)
	}
	return aliases
}

func nodeLabel(batch *ir.Batch, name, sep string) string {
	d, _ := batch.Get(name)
	return fmt.Sprintf("%s%s(%s.%s)", name, sep, d.Entity, d.Op)
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}
