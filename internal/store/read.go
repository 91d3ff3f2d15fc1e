package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/optisync/internal/ir"
)

// ErrNotFound is returned when a journal row does not exist. It is
// sql.ErrNoRows so callers may test for either.
var ErrNotFound = sql.ErrNoRows

// ReadMutation returns a single mutation by id.
// Returns ErrNotFound if not found.
func (s *Store) ReadMutation(ctx context.Context, id string) (Mutation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, batch_hash, source, input, seq, status, error, engine_version, ir_version
		FROM mutations
		WHERE id = ?
	`, id)
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Mutation{}, fmt.Errorf("mutation %q: %w", id, ErrNotFound)
	}
	return m, err
}

// ReadMutations returns every journaled mutation ordered by seq.
// Returns an empty slice (not nil) for an empty journal.
func (s *Store) ReadMutations(ctx context.Context) ([]Mutation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_hash, source, input, seq, status, error, engine_version, ir_version
		FROM mutations
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	defer rows.Close()

	mutations := []Mutation{}
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		mutations = append(mutations, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}
	return mutations, nil
}

// ReadOperations returns the evaluated operations of a mutation in
// evaluation order.
func (s *Store) ReadOperations(ctx context.Context, mutationID string) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mutation_id, position, name, entity, op, hash, payload
		FROM operations
		WHERE mutation_id = ?
		ORDER BY position ASC
	`, mutationID)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	ops := []Operation{}
	for rows.Next() {
		var (
			op      Operation
			kind    string
			payload string
		)
		if err := rows.Scan(&op.MutationID, &op.Position, &op.Name, &op.Entity, &kind, &op.Hash, &payload); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Op = ir.OpKind(kind)
		if op.Payload, err = unmarshalObject("operation", payload); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}

// ReadTransactions returns the transactions a mutation opened, ordered by
// seq.
func (s *Store) ReadTransactions(ctx context.Context, mutationID string) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mutation_id, operation, entity, entity_id, status, seq, settled_seq, server_data
		FROM transactions
		WHERE mutation_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, mutationID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txs := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

// ReadPendingTransactions returns every transaction still in the applied
// state across all mutations, ordered by seq. These are the optimistic
// writes a crashed process left unsettled.
func (s *Store) ReadPendingTransactions(ctx context.Context) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mutation_id, operation, entity, entity_id, status, seq, settled_seq, server_data
		FROM transactions
		WHERE status = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, string(TxApplied))
	if err != nil {
		return nil, fmt.Errorf("query pending transactions: %w", err)
	}
	defer rows.Close()

	txs := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending transactions: %w", err)
	}
	return txs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMutation(row scanner) (Mutation, error) {
	var (
		m      Mutation
		input  string
		status string
	)
	err := row.Scan(&m.ID, &m.BatchHash, &m.Source, &input, &m.Seq, &status, &m.Error, &m.EngineVersion, &m.IRVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return Mutation{}, err
	}
	if err != nil {
		return Mutation{}, fmt.Errorf("scan mutation: %w", err)
	}
	m.Status = MutationStatus(status)
	if m.Input, err = unmarshalObject("input", input); err != nil {
		return Mutation{}, err
	}
	return m, nil
}

func scanTransaction(row scanner) (Transaction, error) {
	var (
		t          Transaction
		status     string
		serverData string
	)
	err := row.Scan(&t.ID, &t.MutationID, &t.Operation, &t.Entity, &t.EntityID, &status, &t.Seq, &t.SettledSeq, &serverData)
	if err != nil {
		return Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	t.Status = TxStatus(status)
	if t.ServerData, err = unmarshalObject("server data", serverData); err != nil {
		return Transaction{}, err
	}
	return t, nil
}
