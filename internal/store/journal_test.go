package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/optisync/internal/ir"
)

func TestWriteMutation_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	m := createTestMutation("m1", 1)
	m.Source = "chat.cue"
	m.Input = map[string]any{"title": "Chat", "big": int64(1) << 60}
	ops := createTestOperations()

	if err := s.WriteMutation(ctx, m, ops); err != nil {
		t.Fatalf("WriteMutation() failed: %v", err)
	}

	got, err := s.ReadMutation(ctx, "m1")
	if err != nil {
		t.Fatalf("ReadMutation() failed: %v", err)
	}
	if got.Status != MutationPending {
		t.Errorf("Status = %q, want %q", got.Status, MutationPending)
	}
	if got.EngineVersion != ir.EngineVersion || got.IRVersion != ir.IRVersion {
		t.Errorf("versions = %q/%q, want %q/%q", got.EngineVersion, got.IRVersion, ir.EngineVersion, ir.IRVersion)
	}
	if got.Source != "chat.cue" {
		t.Errorf("Source = %q, want chat.cue", got.Source)
	}
	if !ir.Equal(got.Input, m.Input) {
		t.Errorf("Input = %v, want %v", got.Input, m.Input)
	}

	stored, err := s.ReadOperations(ctx, "m1")
	if err != nil {
		t.Fatalf("ReadOperations() failed: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("ReadOperations() returned %d operations, want 2", len(stored))
	}
	for i, op := range stored {
		if op.Position != i || op.Name != ops[i].Name || op.Op != ops[i].Op {
			t.Errorf("operation %d = %+v, want name %q op %q", i, op, ops[i].Name, ops[i].Op)
		}
		want, _ := ir.OperationHash(ops[i])
		if op.Hash != want {
			t.Errorf("operation %d hash = %s, want %s", i, op.Hash, want)
		}
	}
	deferred, _ := stored[1].Payload["deferred"].(map[string]any)
	count, _ := deferred["count"].(map[string]any)
	if count["type"] != "increment" || count["value"] != int64(1) {
		t.Errorf("deferred payload = %v, want increment by 1", deferred)
	}
}

func TestWriteMutation_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	m := createTestMutation("m1", 1)
	if err := s.WriteMutation(ctx, m, createTestOperations()); err != nil {
		t.Fatalf("first WriteMutation() failed: %v", err)
	}
	if err := s.WriteMutation(ctx, m, createTestOperations()); err != nil {
		t.Fatalf("second WriteMutation() failed: %v", err)
	}

	ops, err := s.ReadOperations(ctx, "m1")
	if err != nil {
		t.Fatalf("ReadOperations() failed: %v", err)
	}
	if len(ops) != 2 {
		t.Errorf("got %d operations after duplicate write, want 2", len(ops))
	}
}

func TestReadMutation_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadMutation(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadMutation() error = %v, want ErrNotFound", err)
	}
}

func TestReadMutations_OrderedBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, m := range []Mutation{createTestMutation("b", 3), createTestMutation("a", 1), createTestMutation("c", 2)} {
		if err := s.WriteMutation(ctx, m, nil); err != nil {
			t.Fatalf("WriteMutation(%s) failed: %v", m.ID, err)
		}
	}

	got, err := s.ReadMutations(ctx)
	if err != nil {
		t.Fatalf("ReadMutations() failed: %v", err)
	}
	var ids []string
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "c" || ids[2] != "b" {
		t.Errorf("ReadMutations() order = %v, want [a c b]", ids)
	}
}

func TestReadMutations_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)

	got, err := s.ReadMutations(context.Background())
	if err != nil {
		t.Fatalf("ReadMutations() failed: %v", err)
	}
	if got == nil {
		t.Error("ReadMutations() returned nil, want empty slice")
	}
}

func TestSettleMutation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.WriteMutation(ctx, createTestMutation("m1", 1), nil); err != nil {
		t.Fatalf("WriteMutation() failed: %v", err)
	}
	if err := s.SettleMutation(ctx, "m1", MutationRolledBack, "server said no"); err != nil {
		t.Fatalf("SettleMutation() failed: %v", err)
	}

	got, err := s.ReadMutation(ctx, "m1")
	if err != nil {
		t.Fatalf("ReadMutation() failed: %v", err)
	}
	if got.Status != MutationRolledBack || got.Error != "server said no" {
		t.Errorf("settled mutation = %q/%q, want rolled_back/server said no", got.Status, got.Error)
	}

	if err := s.SettleMutation(ctx, "missing", MutationConfirmed, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("SettleMutation(missing) error = %v, want ErrNotFound", err)
	}
}

func TestTransactions_Lifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.WriteMutation(ctx, createTestMutation("m1", 1), nil); err != nil {
		t.Fatalf("WriteMutation() failed: %v", err)
	}
	for _, tx := range []Transaction{
		createTestTransaction("tx-2", "m1", 3),
		createTestTransaction("tx-1", "m1", 2),
	} {
		if err := s.WriteTransaction(ctx, tx); err != nil {
			t.Fatalf("WriteTransaction(%s) failed: %v", tx.ID, err)
		}
	}

	pending, err := s.ReadPendingTransactions(ctx)
	if err != nil {
		t.Fatalf("ReadPendingTransactions() failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "tx-1" {
		t.Fatalf("pending = %+v, want tx-1 then tx-2", pending)
	}

	server := map[string]any{"id": "temp_1", "title": "Chat", "createdAt": "2024-01-01T00:00:00.000Z"}
	if err := s.SettleTransaction(ctx, "tx-1", TxConfirmed, 4, server); err != nil {
		t.Fatalf("SettleTransaction(confirm) failed: %v", err)
	}
	if err := s.SettleTransaction(ctx, "tx-2", TxRolledBack, 5, nil); err != nil {
		t.Fatalf("SettleTransaction(rollback) failed: %v", err)
	}

	txs, err := s.ReadTransactions(ctx, "m1")
	if err != nil {
		t.Fatalf("ReadTransactions() failed: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("ReadTransactions() returned %d, want 2", len(txs))
	}
	if txs[0].Status != TxConfirmed || txs[0].SettledSeq != 4 || !ir.Equal(txs[0].ServerData, server) {
		t.Errorf("tx-1 = %+v, want confirmed at 4 with server data", txs[0])
	}
	if txs[1].Status != TxRolledBack || len(txs[1].ServerData) != 0 {
		t.Errorf("tx-2 = %+v, want rolled back without data", txs[1])
	}

	pending, err = s.ReadPendingTransactions(ctx)
	if err != nil {
		t.Fatalf("ReadPendingTransactions() failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after settle = %+v, want none", pending)
	}
}

func TestSettleTransaction_NotFound(t *testing.T) {
	s := createTestStore(t)

	err := s.SettleTransaction(context.Background(), "missing", TxConfirmed, 1, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("SettleTransaction() error = %v, want ErrNotFound", err)
	}
}

func TestUnmarshalObject_PreservesLargeIntegers(t *testing.T) {
	obj, err := unmarshalObject("input", `{"n":9007199254740993,"f":1.5}`)
	if err != nil {
		t.Fatalf("unmarshalObject() failed: %v", err)
	}
	if obj["n"] != int64(9007199254740993) {
		t.Errorf("n = %#v, want int64 9007199254740993", obj["n"])
	}
	if obj["f"] != 1.5 {
		t.Errorf("f = %#v, want 1.5", obj["f"])
	}
}
