// Package lower translates an expression DAG into three ordered tables
// keyed by node identity: compile-time constants, run-time instruction
// lines, and node sizes. Table insertion order is a valid topological
// order of the DAG, and identity-based memoization guarantees each
// shared subtree is lowered exactly once.
package lower
