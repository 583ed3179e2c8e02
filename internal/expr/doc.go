// Package expr provides the expression DAG that the compiler lowers to
// Julia code.
//
// This package contains the node arena and value types only. All other
// internal packages import expr; expr imports nothing internal. This
// ensures the DAG remains the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - Nodes are immutable once built and addressed by integer NodeID
//   - Structurally identical subexpressions are interned to a single
//     NodeID, so sharing is detected by identity equality alone
//   - The node kind set is closed; renderers dispatch exhaustively
package expr
