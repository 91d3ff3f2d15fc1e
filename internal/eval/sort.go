package eval

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/optisync/internal/ir"
)

// Sort orders the operations of batch so every operation follows the
// siblings it depends on. It walks operations depth-first in declaration
// order, so mutually independent operations keep their declared order.
//
// Revisiting an operation that is still in progress, including an operation
// that references itself, fails with ErrCodeCircularDependency naming that
// operation.
func Sort(batch *ir.Batch, graph Graph) ([]string, error) {
	var (
		order    = make([]string, 0, batch.Len())
		visiting = mapset.NewThreadUnsafeSet[string]()
		done     = mapset.NewThreadUnsafeSet[string]()
		path     []string
	)

	var visit func(name string) error
	visit = func(name string) error {
		if done.Contains(name) {
			return nil
		}
		if visiting.Contains(name) {
			cycle := append(cyclePath(path, name), name)
			return newError(ErrCodeCircularDependency, name, ir.TagRef,
				"circular dependency: %s", strings.Join(cycle, " -> "))
		}

		visiting.Add(name)
		path = append(path, name)
		for _, dep := range graph[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		visiting.Remove(name)
		done.Add(name)
		order = append(order, name)
		return nil
	}

	for _, name := range batch.Names() {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// cyclePath returns the suffix of path starting at name.
func cyclePath(path []string, name string) []string {
	for i, p := range path {
		if p == name {
			return append([]string(nil), path[i:]...)
		}
	}
	return []string{name}
}
