package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/optisync/internal/ir"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestMutation creates a mutation with minimal required fields.
func createTestMutation(id string, seq int64) Mutation {
	return Mutation{
		ID:        id,
		BatchHash: "test-hash",
		Input:     map[string]any{},
		Seq:       seq,
	}
}

// createTestOperations returns a two-operation evaluated batch.
func createTestOperations() []ir.EvaluatedOperation {
	return []ir.EvaluatedOperation{
		{
			Name:   "session",
			Entity: "Session",
			Op:     ir.OpCreate,
			ID:     "temp_1",
			Data:   map[string]any{"id": "temp_1", "title": "Chat"},
		},
		{
			Name:   "bump",
			Entity: "Session",
			Op:     ir.OpUpdate,
			ID:     "s1",
			Data:   map[string]any{},
			Deferred: map[string]ir.DeferredInstruction{
				"count": {Type: ir.InstrIncrement, Value: int64(1)},
			},
		},
	}
}

// createTestTransaction creates an applied transaction for a mutation.
func createTestTransaction(id, mutationID string, seq int64) Transaction {
	return Transaction{
		ID:         id,
		MutationID: mutationID,
		Operation:  "session",
		Entity:     "Session",
		EntityID:   "temp_1",
		Seq:        seq,
	}
}
