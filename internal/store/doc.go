// Package store provides the SQLite-backed mutation journal.
//
// The journal is append-mostly and records:
//   - Mutations: one row per submitted batch, with its input and outcome
//   - Operations: the evaluated operations of each mutation, in evaluation order
//   - Transactions: the optimistic cache transactions a mutation opened and
//     how each one settled
//
// # Ordering
//
// All ordering uses the seq INTEGER column (logical clock), never wall time.
// Every list query orders by seq ASC, id ASC COLLATE BINARY so reads are
// identical across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Payload columns hold canonical JSON produced by ir.MarshalCanonical, and
// operation hashes come from ir.OperationHash.
package store
