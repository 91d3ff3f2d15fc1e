package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/optisync/internal/eval"
	"github.com/roach88/optisync/internal/ir"
)

// CycleWarning reports one strongly connected component of a batch's
// sibling dependency graph.
//
// Unlike the evaluator, which stops at the first cycle it meets, the
// analysis reports every cycle in the batch so all of them can be fixed in
// one pass. Every cycle makes the batch unevaluable, so Level is always
// "error".
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`
}

// AnalyzeCycles performs static cycle analysis on a batch.
//
// The algorithm:
//  1. Build the sibling dependency graph (eval.BuildGraph)
//  2. Use Tarjan's algorithm to find strongly connected components,
//     visiting operations in declaration order
//  3. Report each SCC with size > 1, or with a self-reference, as a cycle
//
// An acyclic batch returns an empty list.
func AnalyzeCycles(batch *ir.Batch) []CycleWarning {
	if batch == nil || batch.Len() == 0 {
		return []CycleWarning{}
	}

	graph := eval.BuildGraph(batch)
	sccs := tarjanSCC(batch.Names(), graph)

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph eval.Graph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Roots are tried in the given order, and successors in edge order, so the
// result is deterministic. Each SCC is returned starting from its root.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(order []string, graph eval.Graph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root: pop its component. The stack holds it in visit
		// order, so the component starts at v.
		if lowlink[v] == indices[v] {
			i := len(stack) - 1
			for stack[i] != v {
				i--
			}
			scc := append([]string(nil), stack[i:]...)
			for _, w := range scc {
				onStack[w] = false
			}
			stack = stack[:i]
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
//
// For self-references, the path is [name, name].
// For multi-node cycles, the path shows a cycle traversal.
func cycleSCCToWarning(scc []string, graph eval.Graph) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("operation references itself: %s -> %s", name, name),
			Level:   "error",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("circular dependency: %s", strings.Join(path, " -> ")),
		Level:   "error",
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: Start at first node in SCC, follow edges to other SCC members,
// continue until we return to start node.
func reconstructCyclePath(scc []string, graph eval.Graph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			break
		}

		path = append(path, next)

		if next == start {
			break
		}

		current = next
	}

	return path
}
