package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/optisync/internal/cache"
	"github.com/roach88/optisync/internal/ir"
	"github.com/roach88/optisync/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			switch event.Type {
			case EventEvaluate:
				fmt.Fprintf(&buf, "  [%d] evaluate %s\n", event.Seq, event.Operation)
			case EventSettled:
				fmt.Fprintf(&buf, "  [%d] settled %s %s\n", event.Seq, event.Mutation, event.Status)
			default:
				fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, event.Type)
			}
		}
	}

	return buf.String()
}

// AssertionContext provides the final state assertions are checked against.
type AssertionContext struct {
	Ctx   context.Context
	Cache *cache.Cache
	Store *store.Store
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertOrder:
			err = assertOrder(result.Trace, assertion)
		case AssertEntity, AssertAbsent, AssertStale, AssertPending:
			if actx == nil || actx.Cache == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a cache", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertEntity:
				err = assertEntity(actx.Cache, assertion)
			case AssertAbsent:
				err = assertAbsent(actx.Cache, assertion)
			case AssertStale:
				err = assertStale(actx.Cache, assertion)
			default:
				err = assertPending(actx.Cache, assertion)
			}
		case AssertJournal:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: journal requires a store", i)
				break
			}
			err = assertJournal(actx.Ctx, actx.Store, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}

// assertEntity checks that a cell holds the expected fields (subset match).
func assertEntity(c *cache.Cache, a Assertion) error {
	key := cache.KeyOf(a.Entity, a.ID)
	cell, ok := c.Peek(a.Entity, a.ID)
	if !ok || cell.Data == nil {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("%s loaded", key),
			Actual:   "no data",
		}
	}
	for _, field := range ir.SortedKeys(a.Expect) {
		want := a.Expect[field]
		got, exists := cell.Data[field]
		if !exists {
			return &AssertionError{
				Type:     AssertEntity,
				Expected: fmt.Sprintf("%s.%s = %v", key, field, want),
				Actual:   fmt.Sprintf("field %q not present", field),
			}
		}
		if !ir.Equal(got, want) {
			return &AssertionError{
				Type:     AssertEntity,
				Expected: fmt.Sprintf("%s.%s = %v (type %T)", key, field, want, want),
				Actual:   fmt.Sprintf("%v (type %T)", got, got),
			}
		}
	}
	return nil
}

// assertAbsent checks that a cell holds no data. A removed cell and a
// deleted cell both pass.
func assertAbsent(c *cache.Cache, a Assertion) error {
	cell, ok := c.Peek(a.Entity, a.ID)
	if ok && cell.Data != nil {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("%s absent", cache.KeyOf(a.Entity, a.ID)),
			Actual:   fmt.Sprintf("data %v", cell.Data),
		}
	}
	return nil
}

// assertStale checks that a cell exists and is marked stale.
func assertStale(c *cache.Cache, a Assertion) error {
	key := cache.KeyOf(a.Entity, a.ID)
	cell, ok := c.Peek(a.Entity, a.ID)
	if !ok {
		return &AssertionError{Type: AssertStale, Expected: fmt.Sprintf("%s stale", key), Actual: "cell not present"}
	}
	if !cell.Stale {
		return &AssertionError{
			Type:     AssertStale,
			Expected: fmt.Sprintf("%s stale", key),
			Actual:   fmt.Sprintf("not stale (refCount %d)", cell.RefCount),
		}
	}
	return nil
}

// assertPending checks the number of unsettled optimistic transactions.
func assertPending(c *cache.Cache, a Assertion) error {
	if n := len(c.Pending()); n != a.Count {
		return &AssertionError{
			Type:     AssertPending,
			Expected: fmt.Sprintf("%d pending transactions", a.Count),
			Actual:   fmt.Sprintf("%d pending transactions", n),
		}
	}
	return nil
}

// assertOrder checks that operations were evaluated in the specified order.
// Operations don't need to be consecutive (intervening operations are
// allowed). The first evaluation of each operation counts.
func assertOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type != EventEvaluate {
			continue
		}
		if _, seen := positions[event.Operation]; !seen {
			positions[event.Operation] = i + 1
		}
	}

	for _, name := range a.Operations {
		if positions[name] == 0 {
			return &AssertionError{
				Type:     AssertOrder,
				Expected: fmt.Sprintf("all operations evaluated: %v", a.Operations),
				Actual:   fmt.Sprintf("missing operation: %s", name),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Operations); i++ {
		prev, curr := a.Operations[i-1], a.Operations[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertOrder,
				Expected: fmt.Sprintf("operations in order: %v", a.Operations),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertJournal checks how many journaled mutations carry a status.
func assertJournal(ctx context.Context, st *store.Store, a Assertion) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mutations, err := st.ReadMutations(ctx)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	n := 0
	for _, m := range mutations {
		if string(m.Status) == a.Status {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertJournal,
			Expected: fmt.Sprintf("%d mutations with status %s", a.Count, a.Status),
			Actual:   fmt.Sprintf("%d of %d", n, len(mutations)),
		}
	}
	return nil
}
