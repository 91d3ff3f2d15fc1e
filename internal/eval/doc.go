// Package eval turns a DSL batch into an ordered sequence of evaluated
// operations.
//
// Evaluation runs in four steps:
//  1. BuildGraph scans each operation for sibling references
//  2. Sort orders operations so producers precede consumers
//  3. Resolve replaces references with concrete values
//  4. CompileOperator turns state-dependent operators into deferred
//     instructions for the apply package
//
// A Context holds the growing table of sibling results for one evaluation
// and never outlives it. Temp ids come from an IDGenerator owned by the
// Evaluator, so concurrent batches on different evaluators never share a
// counter.
package eval
