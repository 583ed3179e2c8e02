package lower

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/voltlab/exprjl/internal/expr"
)

// roundDecimals is the fixed decimal precision applied to constants when
// rounding is enabled. Rounding makes the generated text diff-stable
// across floating-point platforms.
const roundDecimals = 11

// Constant is a lowered compile-time constant, rendered as a Julia
// literal. Scalar constants are additionally inlined as bare number
// literals at their use sites.
type Constant struct {
	Literal string
	Scalar  bool
}

// Result holds the three ordered tables produced by one lowering call.
// Emission consumes Variables destructively; Constants and Sizes are
// read in insertion order.
type Result struct {
	Constants *Table[Constant]
	Variables *Table[string]
	Sizes     *Table[int]
}

// CacheName returns the buffer name for a run-time node, derived from
// its identity so that shared subtrees share one buffer.
func CacheName(id expr.NodeID) string {
	return fmt.Sprintf("cache_%05d", id)
}

// ConstName returns the preamble name for a constant node.
func ConstName(id expr.NodeID) string {
	return fmt.Sprintf("const_%05d", id)
}

// Lower translates the DAG rooted at root into ordered constant,
// variable, and size tables. roundConstants controls whether constant
// values are rounded to a fixed decimal precision before rendering.
func Lower(a *expr.Arena, root expr.NodeID, roundConstants bool) (*Result, error) {
	r := &Result{
		Constants: NewTable[Constant](),
		Variables: NewTable[string](),
		Sizes:     NewTable[int](),
	}
	if err := lowerNode(a, root, r, roundConstants); err != nil {
		return nil, err
	}
	return r, nil
}

func lowerNode(a *expr.Arena, id expr.NodeID, r *Result, round bool) error {
	// Memo check: an identity already lowered is never revisited, so a
	// shared subtree costs one table entry no matter how many parents
	// reference it.
	if r.Constants.Has(id) || r.Variables.Has(id) {
		return nil
	}

	n := a.Node(id)

	if a.IsConstant(id) {
		value, err := a.Evaluate(id)
		if err != nil {
			return fmt.Errorf("fold constant: %w", err)
		}
		c, size := renderConstant(value, round)
		r.Constants.Put(id, c)
		r.Sizes.Put(id, size)
		// Children of a constant node are folded into its value and are
		// never lowered independently.
		return nil
	}

	for _, child := range n.Children {
		if err := lowerNode(a, child, r, round); err != nil {
			return err
		}
	}

	refs := make([]string, len(n.Children))
	for i, child := range n.Children {
		refs[i] = childRef(a, child, r)
	}

	line, err := renderNode(a, n, refs, r)
	if err != nil {
		return err
	}

	r.Variables.Put(id, line)
	r.Sizes.Put(id, n.Size())
	return nil
}

// childRef returns the expression text a parent uses to reference a
// lowered child: a bare number literal for constant scalars, else a
// const- or cache-tagged buffer name derived from the child's identity.
func childRef(a *expr.Arena, child expr.NodeID, r *Result) string {
	if c, ok := r.Constants.Get(child); ok {
		if c.Scalar {
			return c.Literal
		}
		return ConstName(child)
	}
	return CacheName(child)
}

func renderNode(a *expr.Arena, n expr.Node, refs []string, r *Result) (string, error) {
	switch n.Kind {
	case expr.KindBinaryOp:
		return renderBinary(n.Op, refs), nil

	case expr.KindUnaryOp:
		return n.Op + refs[0], nil

	case expr.KindIndex:
		// The half-open [start, stop) source slice maps to Julia's
		// inclusive 1-based start+1:stop.
		return fmt.Sprintf("%s[%d:%d]", refs[0], n.Slice.Start+1, n.Slice.Stop), nil

	case expr.KindFunctionCall:
		return fmt.Sprintf("%s(%s)", n.Op, strings.Join(refs, ", ")), nil

	case expr.KindConcatenation:
		return renderSentinel(sentinelChildren(a, n.Children, refs, r)), nil

	case expr.KindDomainConcatenation:
		return renderDomainConcat(a, n, refs, r), nil

	case expr.KindStateVector:
		return renderStateRef("@view y", n.Mask)

	case expr.KindStateVectorDot:
		return renderStateRef("@view dy", n.Mask)

	case expr.KindTime:
		return "t", nil

	case expr.KindInputParameter:
		// Placeholder; emission substitutes the final parameter name.
		return fmt.Sprintf("inputs['%s']", n.Op), nil

	default:
		return "", NewUnsupportedNodeKindError(n.Kind.String())
	}
}

func renderBinary(op string, refs []string) string {
	switch op {
	case expr.OpMatMul:
		// Dialect-level matrix-multiply marker, rewritten by emission
		// into mul! or *; distinct from elementwise multiplication.
		return refs[0] + " @ " + refs[1]
	case expr.OpInner:
		return refs[0] + " * " + refs[1]
	case expr.OpMin:
		return fmt.Sprintf("min(%s,%s)", refs[0], refs[1])
	case expr.OpMax:
		return fmt.Sprintf("max(%s,%s)", refs[0], refs[1])
	case expr.OpPow:
		// Julia uses ^, dotted for elementwise application.
		return refs[0] + " .^ " + refs[1]
	default:
		return refs[0] + " " + op + " " + refs[1]
	}
}

// sentinelChild is one size::reference pair of a concatenation sentinel.
type sentinelChild struct {
	size int
	ref  string
}

func sentinelChildren(a *expr.Arena, children []expr.NodeID, refs []string, r *Result) []sentinelChild {
	out := make([]sentinelChild, len(children))
	for i, child := range children {
		size, _ := r.Sizes.Get(child)
		out[i] = sentinelChild{size: size, ref: refs[i]}
	}
	return out
}

// renderSentinel renders the bracketed size::reference list consumed
// specially by emission; it is a sentinel, not a value expression.
func renderSentinel(children []sentinelChild) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = fmt.Sprintf("%d::%s", c.size, c.ref)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func renderDomainConcat(a *expr.Arena, n expr.Node, refs []string, r *Result) string {
	if n.NPts == 1 {
		// One repetition: children are used as-is, no windowing.
		return renderSentinel(sentinelChildren(a, n.Children, refs, r))
	}

	full := make(map[string][]expr.Slice, len(n.FullSlices))
	for _, ds := range n.FullSlices {
		full[ds.Domain] = ds.Slices
	}

	var all []sentinelChild
	for i := 0; i < n.NPts; i++ {
		type window struct {
			start int
			child sentinelChild
		}
		var windows []window
		for ci, ref := range refs {
			for _, ds := range n.ChildSlices[ci] {
				sl := ds.Slices[i]
				windows = append(windows, window{
					start: full[ds.Domain][i].Start,
					child: sentinelChild{
						size: sl.Len(),
						ref:  fmt.Sprintf("@view %s[%d:%d]", ref, sl.Start+1, sl.Stop),
					},
				})
			}
		}
		// Destination order is spatial, not declaration order: sort the
		// repetition's windows by their slice start in the full vector.
		sort.SliceStable(windows, func(x, y int) bool {
			return windows[x].start < windows[y].start
		})
		for _, w := range windows {
			all = append(all, w.child)
		}
	}
	return renderSentinel(all)
}

func renderStateRef(name string, mask []bool) (string, error) {
	idx := expr.MaskIndices(mask)
	if len(idx) == 0 {
		return "", NewUnsupportedInputError("state vector selects no positions")
	}
	first, last := idx[0], idx[len(idx)-1]
	if last-first+1 != len(idx) {
		return "", NewUnsupportedInputError("state vector selection is not contiguous")
	}
	if len(idx) == 1 {
		return fmt.Sprintf("%s[%d]", name, first+1), nil
	}
	return fmt.Sprintf("%s[%d:%d]", name, first+1, last+1), nil
}

// renderConstant classifies an evaluated value and renders its Julia
// literal. Returns the constant entry and the node size.
func renderConstant(value expr.Value, round bool) (Constant, int) {
	switch v := value.(type) {
	case expr.Scalar:
		return scalarConstant(float64(v), round), 1

	case expr.Vector:
		if len(v) == 1 {
			return scalarConstant(v[0], round), 1
		}
		return Constant{Literal: vectorLiteral(v, round)}, len(v)

	case expr.Matrix:
		if v.NRows == 1 && v.NCols == 1 {
			return scalarConstant(v.Data[0], round), 1
		}
		if v.NCols == 1 {
			return Constant{Literal: vectorLiteral(v.Data, round)}, v.NRows
		}
		return Constant{Literal: matrixLiteral(v, round)}, v.NRows

	case expr.Sparse:
		return Constant{Literal: sparseLiteral(v, round)}, v.NRows

	default:
		panic(fmt.Sprintf("unknown value type %T", value))
	}
}

func scalarConstant(v float64, round bool) Constant {
	return Constant{Literal: formatFloat(roundConst(v, round)), Scalar: true}
}

// sparseLiteral renders sparse(rows, cols, values, nrows, ncols) with
// 1-based row and column indices.
func sparseLiteral(s expr.Sparse, round bool) string {
	var rows, cols, data strings.Builder
	rows.WriteByte('[')
	cols.WriteByte('[')
	data.WriteByte('[')
	for k := range s.Data {
		if k > 0 {
			rows.WriteByte(',')
			cols.WriteByte(',')
			data.WriteByte(',')
		}
		rows.WriteString(strconv.Itoa(s.Rows[k] + 1))
		cols.WriteString(strconv.Itoa(s.Cols[k] + 1))
		data.WriteString(formatFloat(roundConst(s.Data[k], round)))
	}
	rows.WriteByte(']')
	cols.WriteByte(']')
	data.WriteByte(']')
	return fmt.Sprintf("sparse(%s, %s, %s, %d, %d)",
		rows.String(), cols.String(), data.String(), s.NRows, s.NCols)
}

func vectorLiteral(v []float64, round bool) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(formatFloat(roundConst(x, round)))
	}
	b.WriteByte(']')
	return b.String()
}

func matrixLiteral(m expr.Matrix, round bool) string {
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < m.NRows; i++ {
		if i > 0 {
			b.WriteString("; ")
		}
		for j := 0; j < m.NCols; j++ {
			if j > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(formatFloat(roundConst(m.At(i, j), round)))
		}
	}
	b.WriteByte(']')
	return b.String()
}

// roundConst rounds to the fixed decimal precision, half to even.
func roundConst(v float64, round bool) float64 {
	if !round {
		return v
	}
	const scale = 1e11 // 10^roundDecimals
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	if math.Abs(v) > math.MaxFloat64/scale {
		return v
	}
	return math.RoundToEven(v*scale) / scale
}

// formatFloat renders a float with enough precision to round-trip.
// Integral values keep a trailing .0 so the literal stays a Julia
// Float64.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") && !math.IsInf(v, 0) && !math.IsNaN(v) {
		s += ".0"
	}
	return s
}
