package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/optisync/internal/ir"
)

// MutationStatus is the outcome of a journaled mutation.
type MutationStatus string

const (
	MutationPending    MutationStatus = "pending"
	MutationConfirmed  MutationStatus = "confirmed"
	MutationRolledBack MutationStatus = "rolled_back"
)

// TxStatus is the settlement state of an optimistic transaction.
type TxStatus string

const (
	TxApplied    TxStatus = "applied"
	TxConfirmed  TxStatus = "confirmed"
	TxRolledBack TxStatus = "rolled_back"
)

// Mutation is one journaled batch submission.
type Mutation struct {
	ID            string
	BatchHash     string
	Source        string
	Input         map[string]any
	Seq           int64
	Status        MutationStatus
	Error         string
	EngineVersion string
	IRVersion     string
}

// Operation is one evaluated operation of a mutation.
type Operation struct {
	MutationID string
	Position   int
	Name       string
	Entity     string
	Op         ir.OpKind
	Hash       string
	Payload    map[string]any
}

// Transaction is one optimistic cache transaction opened by a mutation.
type Transaction struct {
	ID         string
	MutationID string
	Operation  string
	Entity     string
	EntityID   string
	Status     TxStatus
	Seq        int64
	SettledSeq int64
	ServerData map[string]any
}

// WriteMutation records a mutation and its evaluated operations atomically.
// Operation positions follow the slice order. Idempotent: rewriting an
// existing mutation id is a no-op.
func (s *Store) WriteMutation(ctx context.Context, m Mutation, ops []ir.EvaluatedOperation) error {
	input, err := marshalObject("input", m.Input)
	if err != nil {
		return err
	}
	if m.Status == "" {
		m.Status = MutationPending
	}
	if m.EngineVersion == "" {
		m.EngineVersion = ir.EngineVersion
	}
	if m.IRVersion == "" {
		m.IRVersion = ir.IRVersion
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mutation write: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO mutations (id, batch_hash, source, input, seq, status, error, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, m.ID, m.BatchHash, m.Source, input, m.Seq, string(m.Status), m.Error, m.EngineVersion, m.IRVersion)
	if err != nil {
		return fmt.Errorf("write mutation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	for i, op := range ops {
		if err := writeOperation(ctx, tx, m.ID, i, op); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mutation write: %w", err)
	}
	return nil
}

func writeOperation(ctx context.Context, tx *sql.Tx, mutationID string, position int, op ir.EvaluatedOperation) error {
	hash, err := ir.OperationHash(op)
	if err != nil {
		return fmt.Errorf("hash operation %s: %w", op.Name, err)
	}
	payload, err := marshalObject("operation", ir.OperationObject(op))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO operations (mutation_id, position, name, entity, op, hash, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, mutationID, position, op.Name, op.Entity, string(op.Op), hash, payload)
	if err != nil {
		return fmt.Errorf("write operation %s: %w", op.Name, err)
	}
	return nil
}

// SettleMutation records the final status of a mutation.
func (s *Store) SettleMutation(ctx context.Context, id string, status MutationStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mutations SET status = ?, error = ? WHERE id = ?
	`, string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("settle mutation: %w", err)
	}
	return requireRow(res, "mutation", id)
}

// WriteTransaction records an applied optimistic transaction.
// Idempotent: rewriting an existing transaction id is a no-op.
func (s *Store) WriteTransaction(ctx context.Context, t Transaction) error {
	if t.Status == "" {
		t.Status = TxApplied
	}
	serverData, err := marshalObject("server data", t.ServerData)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, mutation_id, operation, entity, entity_id, status, seq, settled_seq, server_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, t.ID, t.MutationID, t.Operation, t.Entity, t.EntityID, string(t.Status), t.Seq, t.SettledSeq, serverData)
	if err != nil {
		return fmt.Errorf("write transaction: %w", err)
	}
	return nil
}

// SettleTransaction records how a transaction settled. serverData is the
// authoritative record for confirmations and nil for rollbacks.
func (s *Store) SettleTransaction(ctx context.Context, id string, status TxStatus, seq int64, serverData map[string]any) error {
	data, err := marshalObject("server data", serverData)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET status = ?, settled_seq = ?, server_data = ? WHERE id = ?
	`, string(status), seq, data, id)
	if err != nil {
		return fmt.Errorf("settle transaction: %w", err)
	}
	return requireRow(res, "transaction", id)
}

func requireRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
	}
	return nil
}
