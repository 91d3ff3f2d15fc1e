// Package engine runs mutations end to end.
//
// A mutation is one DSL batch submitted with its input. Engine.Mutate:
//
//  1. evaluates the batch into concrete operations (package eval)
//  2. journals the evaluated batch (package store), when a store is set
//  3. folds each single-entity operation over the entity's current cached
//     data (package apply) and writes the result optimistically
//     (Cache.ApplyOptimistic)
//  4. hands the operations to an Executor, the boundary to the server
//  5. confirms every transaction with the executor's per-operation data, or
//     rolls them all back in reverse order if the executor fails
//
// Bulk operations ($ids, $where) reach the executor but are not applied
// optimistically: there is no single cache cell to write.
//
// Journal rows are stamped with seq from the engine's logical Clock. Resume
// positions the clock after the journal's last seq and settles transactions
// a previous process left unsettled.
package engine
