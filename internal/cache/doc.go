// Package cache is the reactive client-side store that optimistic mutations
// are applied to.
//
// The cache holds entity cells keyed by (entity, id) and list cells keyed by
// query key. Every write goes through a transaction (Batch): writes are
// accumulated, applied together, and subscribers receive exactly one Change
// per transaction.
//
// Optimistic protocol, per transaction id:
//
//	ApplyOptimistic -> ConfirmOptimistic | RollbackOptimistic
//
// Records live until the caller confirms or rolls back; nothing times out.
// Overlapping transactions on one cell keep independent snapshots, so an
// out-of-order rollback can overwrite a confirmed write (lost update).
//
// Cells are created lazily on first read and removed only by GC, which
// sweeps stale cells with no subscribers.
package cache
