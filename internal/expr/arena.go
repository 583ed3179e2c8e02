package expr

import (
	"fmt"
	"strings"
)

// Arena owns every node of a DAG. Construction goes through the Arena so
// that structurally identical subexpressions are interned to a single
// NodeID. Arenas are not safe for concurrent construction; a fully built
// Arena is read-only and safe to share.
type Arena struct {
	nodes []Node
	index map[string]NodeID // structural key -> id
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{index: make(map[string]NodeID)}
}

// Len returns the number of distinct nodes in the arena.
func (a *Arena) Len() int { return len(a.nodes) }

// Node returns the node with the given identity.
func (a *Arena) Node(id NodeID) Node {
	return a.nodes[id]
}

// IsConstant reports whether the subtree rooted at id has no dependency
// on run-time state, time, or input parameters, i.e. it can be fully
// evaluated at compile time.
func (a *Arena) IsConstant(id NodeID) bool {
	return a.nodes[id].constant
}

// intern adds the node unless an identical one exists, returning the
// shared identity either way.
func (a *Arena) intern(key string, n Node) NodeID {
	if id, ok := a.index[key]; ok {
		return id
	}
	id := NodeID(len(a.nodes))
	a.nodes = append(a.nodes, n)
	a.index[key] = id
	return id
}

func childKey(children []NodeID) string {
	var b strings.Builder
	for _, c := range children {
		fmt.Fprintf(&b, "%d,", c)
	}
	return b.String()
}

// Constant creates a constant node holding an already-evaluated value.
func (a *Arena) Constant(v Value) NodeID {
	rows, cols := ValueShape(v)
	return a.intern("const|"+valueKey(v), Node{
		Kind:     KindConstant,
		Rows:     rows,
		Cols:     cols,
		Value:    v,
		constant: true,
	})
}

// Scalar creates a scalar constant node.
func (a *Arena) Scalar(v float64) NodeID {
	return a.Constant(Scalar(v))
}

// Binary creates a binary operator node. Shape follows broadcasting for
// elementwise operators and matrix rules for OpMatMul.
func (a *Arena) Binary(op string, lhs, rhs NodeID) NodeID {
	l, r := a.nodes[lhs], a.nodes[rhs]
	var rows, cols int
	if op == OpMatMul {
		rows, cols = l.Rows, r.Cols
	} else {
		rows, cols = broadcastShape(l, r)
	}
	return a.intern(fmt.Sprintf("bin|%s|%d|%d", op, lhs, rhs), Node{
		Kind:     KindBinaryOp,
		Op:       op,
		Children: []NodeID{lhs, rhs},
		Rows:     rows,
		Cols:     cols,
		constant: l.constant && r.constant,
	})
}

func broadcastShape(l, r Node) (int, int) {
	if l.IsScalar() {
		return r.Rows, r.Cols
	}
	return l.Rows, l.Cols
}

// Convenience constructors for the common binary operators.
func (a *Arena) Add(l, r NodeID) NodeID    { return a.Binary(OpAdd, l, r) }
func (a *Arena) Sub(l, r NodeID) NodeID    { return a.Binary(OpSub, l, r) }
func (a *Arena) Mul(l, r NodeID) NodeID    { return a.Binary(OpMul, l, r) }
func (a *Arena) Div(l, r NodeID) NodeID    { return a.Binary(OpDiv, l, r) }
func (a *Arena) MatMul(l, r NodeID) NodeID { return a.Binary(OpMatMul, l, r) }
func (a *Arena) Pow(l, r NodeID) NodeID    { return a.Binary(OpPow, l, r) }
func (a *Arena) Min(l, r NodeID) NodeID    { return a.Binary(OpMin, l, r) }
func (a *Arena) Max(l, r NodeID) NodeID    { return a.Binary(OpMax, l, r) }

// Neg creates an elementwise negation node.
func (a *Arena) Neg(x NodeID) NodeID {
	n := a.nodes[x]
	return a.intern(fmt.Sprintf("un|-|%d", x), Node{
		Kind:     KindUnaryOp,
		Op:       "-",
		Children: []NodeID{x},
		Rows:     n.Rows,
		Cols:     n.Cols,
		constant: n.constant,
	})
}

// Index creates a node selecting the half-open range [start, stop) of
// its child.
func (a *Arena) Index(x NodeID, start, stop int) NodeID {
	n := a.nodes[x]
	return a.intern(fmt.Sprintf("idx|%d|%d|%d", x, start, stop), Node{
		Kind:     KindIndex,
		Children: []NodeID{x},
		Rows:     stop - start,
		Cols:     n.Cols,
		Slice:    Slice{Start: start, Stop: stop},
		constant: n.constant,
	})
}

// Call creates a named external function call node. Functions named
// "minimum", "maximum", or "sum" reduce to a scalar; everything else is
// elementwise over its broadcast arguments.
func (a *Arena) Call(name string, args ...NodeID) NodeID {
	rows, cols := 0, 0
	constant := true
	for _, arg := range args {
		n := a.nodes[arg]
		constant = constant && n.constant
		if rows == 0 && cols == 0 {
			rows, cols = n.Rows, n.Cols
		}
	}
	if isReduction(name) {
		rows, cols = 0, 0
	}
	return a.intern(fmt.Sprintf("call|%s|%s", name, childKey(args)), Node{
		Kind:     KindFunctionCall,
		Op:       name,
		Children: append([]NodeID(nil), args...),
		Rows:     rows,
		Cols:     cols,
		constant: constant,
	})
}

func isReduction(name string) bool {
	return name == "minimum" || name == "maximum" || name == "sum"
}

// Concat creates a plain ordered concatenation of its children.
func (a *Arena) Concat(children ...NodeID) NodeID {
	rows := 0
	constant := true
	for _, c := range children {
		rows += a.nodes[c].Size()
		constant = constant && a.nodes[c].constant
	}
	return a.intern("cat|"+childKey(children), Node{
		Kind:     KindConcatenation,
		Children: append([]NodeID(nil), children...),
		Rows:     rows,
		Cols:     1,
		constant: constant,
	})
}

// DomainConcat creates a domain-ordered concatenation. childSlices gives,
// per child, the slices into that child for each subdomain and
// repetition; fullSlices gives the destination slices of the whole
// concatenation per subdomain and repetition; npts is the number of
// secondary-dimension repetitions.
func (a *Arena) DomainConcat(children []NodeID, npts int, childSlices [][]DomainSlices, fullSlices []DomainSlices) NodeID {
	rows := 0
	constant := true
	for _, c := range children {
		rows += a.nodes[c].Size()
		constant = constant && a.nodes[c].constant
	}
	var key strings.Builder
	fmt.Fprintf(&key, "dcat|%d|%s|", npts, childKey(children))
	for _, ds := range childSlices {
		writeDomainSlices(&key, ds)
	}
	key.WriteByte('|')
	writeDomainSlices(&key, fullSlices)
	return a.intern(key.String(), Node{
		Kind:        KindDomainConcatenation,
		Children:    append([]NodeID(nil), children...),
		Rows:        rows,
		Cols:        1,
		NPts:        npts,
		ChildSlices: childSlices,
		FullSlices:  fullSlices,
		constant:    constant,
	})
}

func writeDomainSlices(b *strings.Builder, ds []DomainSlices) {
	for _, d := range ds {
		b.WriteString(d.Domain)
		b.WriteByte(':')
		for _, s := range d.Slices {
			fmt.Fprintf(b, "%d-%d,", s.Start, s.Stop)
		}
		b.WriteByte(';')
	}
}

// StateVector creates a reference to the primary state vector reading
// the positions selected by mask.
func (a *Arena) StateVector(mask []bool) NodeID {
	return a.stateRef(KindStateVector, "y", mask)
}

// StateVectorDot creates a reference to the state time-derivative
// reading the positions selected by mask.
func (a *Arena) StateVectorDot(mask []bool) NodeID {
	return a.stateRef(KindStateVectorDot, "dy", mask)
}

// StateRange creates a primary-state reference selecting [start, stop).
func (a *Arena) StateRange(start, stop int) NodeID {
	return a.StateVector(rangeMask(start, stop))
}

// StateDotRange creates a derivative-state reference selecting
// [start, stop).
func (a *Arena) StateDotRange(start, stop int) NodeID {
	return a.StateVectorDot(rangeMask(start, stop))
}

func rangeMask(start, stop int) []bool {
	mask := make([]bool, stop)
	for i := start; i < stop; i++ {
		mask[i] = true
	}
	return mask
}

func (a *Arena) stateRef(kind Kind, tag string, mask []bool) NodeID {
	count := 0
	var key strings.Builder
	key.WriteString("state|")
	key.WriteString(tag)
	key.WriteByte('|')
	for _, m := range mask {
		if m {
			count++
			key.WriteByte('1')
		} else {
			key.WriteByte('0')
		}
	}
	rows := count
	cols := 1
	if count == 1 {
		rows, cols = 0, 0
	}
	return a.intern(key.String(), Node{
		Kind: kind,
		Rows: rows,
		Cols: cols,
		Mask: append([]bool(nil), mask...),
	})
}

// Time creates the scalar elapsed-time reference.
func (a *Arena) Time() NodeID {
	return a.intern("time", Node{Kind: KindTime})
}

// Input creates a named scalar input-parameter reference.
func (a *Arena) Input(name string) NodeID {
	return a.intern("input|"+name, Node{Kind: KindInputParameter, Op: name})
}

// MaskIndices returns the selected 0-based positions of a state-vector
// mask in ascending order.
func MaskIndices(mask []bool) []int {
	var idx []int
	for i, m := range mask {
		if m {
			idx = append(idx, i)
		}
	}
	return idx
}
