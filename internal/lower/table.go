package lower

import "github.com/voltlab/exprjl/internal/expr"

// Table is an insertion-ordered map from node identity to a lowered
// entry. It doubles as the FIFO queue that emission drains: PopFront
// removes entries in topological order, while Set rewrites entries still
// queued (used for inlining).
type Table[V any] struct {
	ids  []expr.NodeID
	vals map[expr.NodeID]V
}

// NewTable creates an empty table.
func NewTable[V any]() *Table[V] {
	return &Table[V]{vals: make(map[expr.NodeID]V)}
}

// Len returns the number of entries remaining.
func (t *Table[V]) Len() int { return len(t.ids) }

// Has reports whether id has an entry.
func (t *Table[V]) Has(id expr.NodeID) bool {
	_, ok := t.vals[id]
	return ok
}

// Get returns the entry for id.
func (t *Table[V]) Get(id expr.NodeID) (V, bool) {
	v, ok := t.vals[id]
	return v, ok
}

// Put inserts an entry for id at the back of the order. Inserting an
// identity that already has an entry is a no-op: the first write wins,
// which keeps lowering idempotent under shared subtrees.
func (t *Table[V]) Put(id expr.NodeID, v V) {
	if _, ok := t.vals[id]; ok {
		return
	}
	t.ids = append(t.ids, id)
	t.vals[id] = v
}

// Set rewrites the entry for an id that is already present. It does not
// change the order.
func (t *Table[V]) Set(id expr.NodeID, v V) {
	if _, ok := t.vals[id]; !ok {
		return
	}
	t.vals[id] = v
}

// PopFront removes and returns the oldest entry.
func (t *Table[V]) PopFront() (expr.NodeID, V, bool) {
	var zero V
	if len(t.ids) == 0 {
		return 0, zero, false
	}
	id := t.ids[0]
	t.ids = t.ids[1:]
	v := t.vals[id]
	delete(t.vals, id)
	return id, v, true
}

// IDs returns the identities still present, in insertion order. The
// returned slice must not be mutated.
func (t *Table[V]) IDs() []expr.NodeID {
	return t.ids
}
