package lower

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltlab/exprjl/internal/expr"
)

func TestLower_SharedSubtreeLoweredOnce(t *testing.T) {
	a := expr.NewArena()
	s := a.StateRange(0, 3)
	// s is referenced by two distinct parents.
	d := a.Mul(s, s)
	root := a.Add(d, s)

	res, err := Lower(a, root, true)
	require.NoError(t, err)

	assert.Equal(t, []expr.NodeID{s, d, root}, res.Variables.IDs(),
		"exactly one entry per identity, in topological order")

	line, _ := res.Variables.Get(d)
	assert.Equal(t, CacheName(s)+" * "+CacheName(s), line)
}

func TestLower_TopologicalOrder(t *testing.T) {
	a := expr.NewArena()
	s := a.StateRange(0, 2)
	u := a.Neg(s)
	v := a.Add(u, s)
	root := a.Mul(v, u)

	res, err := Lower(a, root, true)
	require.NoError(t, err)

	// Every cache name referenced by a line must belong to an entry
	// inserted earlier.
	seen := map[string]bool{}
	for _, id := range res.Variables.IDs() {
		line, _ := res.Variables.Get(id)
		for _, other := range res.Variables.IDs() {
			name := CacheName(other)
			if strings.Contains(line, name) {
				assert.True(t, seen[name], "line for %d references %s before its declaration", id, name)
			}
		}
		seen[CacheName(id)] = true
	}
}

func TestLower_ConstantClassification(t *testing.T) {
	t.Run("scalar", func(t *testing.T) {
		a := expr.NewArena()
		root := a.Concat(a.Scalar(5), a.StateRange(0, 1))
		res, err := Lower(a, root, true)
		require.NoError(t, err)

		c, ok := res.Constants.Get(a.Scalar(5))
		require.True(t, ok)
		assert.Equal(t, "5.0", c.Literal)
		assert.True(t, c.Scalar)
	})

	t.Run("vector", func(t *testing.T) {
		a := expr.NewArena()
		vec := a.Constant(expr.Vector{1, 2.5, 3})
		root := a.Add(vec, a.StateRange(0, 3))
		res, err := Lower(a, root, true)
		require.NoError(t, err)

		c, ok := res.Constants.Get(vec)
		require.True(t, ok)
		assert.Equal(t, "[1.0,2.5,3.0]", c.Literal)
		assert.False(t, c.Scalar)
		size, _ := res.Sizes.Get(vec)
		assert.Equal(t, 3, size)
	})

	t.Run("sparse uses 1-based indices", func(t *testing.T) {
		a := expr.NewArena()
		m := a.Constant(expr.Sparse{
			Rows: []int{0, 1}, Cols: []int{0, 2}, Data: []float64{0.5, 2},
			NRows: 2, NCols: 3,
		})
		root := a.MatMul(m, a.StateRange(0, 3))
		res, err := Lower(a, root, true)
		require.NoError(t, err)

		c, ok := res.Constants.Get(m)
		require.True(t, ok)
		assert.Equal(t, "sparse([1,2], [1,3], [0.5,2.0], 2, 3)", c.Literal)
	})

	t.Run("single-entry vector collapses to scalar", func(t *testing.T) {
		a := expr.NewArena()
		v := a.Constant(expr.Vector{4})
		root := a.Add(v, a.StateRange(0, 1))
		res, err := Lower(a, root, true)
		require.NoError(t, err)

		c, _ := res.Constants.Get(v)
		assert.True(t, c.Scalar)
		assert.Equal(t, "4.0", c.Literal)
	})
}

func TestLower_ConstantFoldingStopsAtConstantRoot(t *testing.T) {
	a := expr.NewArena()
	two := a.Scalar(2)
	three := a.Scalar(3)
	sum := a.Add(two, three)
	root := a.Mul(sum, a.StateRange(0, 1))

	res, err := Lower(a, root, true)
	require.NoError(t, err)

	// The folded sum is one constant; its children are never lowered.
	c, ok := res.Constants.Get(sum)
	require.True(t, ok)
	assert.Equal(t, "5.0", c.Literal)
	assert.False(t, res.Constants.Has(two))
	assert.False(t, res.Constants.Has(three))

	// The multiply references the folded literal directly.
	line, _ := res.Variables.Get(root)
	assert.Equal(t, "5.0 * "+CacheName(a.StateRange(0, 1)), line)
}

func TestLower_Rounding(t *testing.T) {
	a := expr.NewArena()
	third := a.Div(a.Scalar(1), a.Scalar(3))
	root := a.Add(third, a.StateRange(0, 1))

	res, err := Lower(a, root, true)
	require.NoError(t, err)
	c, _ := res.Constants.Get(third)
	assert.Equal(t, "0.33333333333", c.Literal)

	// Disabled rounding keeps full precision.
	res, err = Lower(a, root, false)
	require.NoError(t, err)
	c, _ = res.Constants.Get(third)
	assert.Equal(t, "0.3333333333333333", c.Literal)
}

func TestLower_RoundingIdempotence(t *testing.T) {
	// A value already at the configured precision is unchanged by the
	// rounding pass.
	a := expr.NewArena()
	c := a.Scalar(0.25)
	root := a.Add(c, a.StateRange(0, 1))

	rounded, err := Lower(a, root, true)
	require.NoError(t, err)
	raw, err := Lower(a, root, false)
	require.NoError(t, err)

	cr, _ := rounded.Constants.Get(c)
	cu, _ := raw.Constants.Get(c)
	assert.Equal(t, cu.Literal, cr.Literal)
}

func TestLower_IndexConversion(t *testing.T) {
	a := expr.NewArena()
	s := a.StateRange(0, 6)
	idx := a.Index(s, 2, 5)

	res, err := Lower(a, idx, true)
	require.NoError(t, err)

	// Half-open [2, 5) becomes 1-based inclusive [3:5].
	line, _ := res.Variables.Get(idx)
	assert.Equal(t, CacheName(s)+"[3:5]", line)
}

func TestLower_StateVectorRendering(t *testing.T) {
	t.Run("range", func(t *testing.T) {
		a := expr.NewArena()
		s := a.StateRange(1, 4)
		res, err := Lower(a, s, true)
		require.NoError(t, err)
		line, _ := res.Variables.Get(s)
		assert.Equal(t, "@view y[2:4]", line)
	})

	t.Run("single index renders as scalar index", func(t *testing.T) {
		a := expr.NewArena()
		s := a.StateVector([]bool{false, true})
		res, err := Lower(a, s, true)
		require.NoError(t, err)
		line, _ := res.Variables.Get(s)
		assert.Equal(t, "@view y[2]", line)
	})

	t.Run("derivative buffer", func(t *testing.T) {
		a := expr.NewArena()
		s := a.StateDotRange(0, 2)
		res, err := Lower(a, s, true)
		require.NoError(t, err)
		line, _ := res.Variables.Get(s)
		assert.Equal(t, "@view dy[1:2]", line)
	})

	t.Run("non-contiguous mask fails", func(t *testing.T) {
		a := expr.NewArena()
		s := a.StateVector([]bool{true, false, true})
		_, err := Lower(a, s, true)
		require.Error(t, err)
		assert.True(t, IsUnsupportedInput(err))
		assert.False(t, IsUnsupportedNodeKind(err))
	})
}

func TestLower_OperatorRendering(t *testing.T) {
	a := expr.NewArena()
	s := a.StateRange(0, 2)
	u := a.StateDotRange(0, 2)

	tests := []struct {
		name string
		id   expr.NodeID
		want string
	}{
		{"matmul marker", a.MatMul(s, u), CacheName(s) + " @ " + CacheName(u)},
		{"power is dotted", a.Pow(s, u), CacheName(s) + " .^ " + CacheName(u)},
		{"min is a call", a.Min(s, u), "min(" + CacheName(s) + "," + CacheName(u) + ")"},
		{"max is a call", a.Max(s, u), "max(" + CacheName(s) + "," + CacheName(u) + ")"},
		{"plain infix", a.Div(s, u), CacheName(s) + " / " + CacheName(u)},
		{"negate", a.Neg(s), "-" + CacheName(s)},
		{"function call", a.Call("exp", s), "exp(" + CacheName(s) + ")"},
		{"time", a.Time(), "t"},
		{"input placeholder", a.Input("temp"), "inputs['temp']"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Lower(a, tt.id, true)
			require.NoError(t, err)
			line, _ := res.Variables.Get(tt.id)
			assert.Equal(t, tt.want, line)
		})
	}
}

func TestLower_ConcatenationSentinel(t *testing.T) {
	a := expr.NewArena()
	s := a.StateRange(0, 3)
	u := a.StateVector([]bool{false, false, false, true})
	root := a.Concat(s, u)

	res, err := Lower(a, root, true)
	require.NoError(t, err)

	line, _ := res.Variables.Get(root)
	assert.Equal(t, "[3::"+CacheName(s)+", 1::"+CacheName(u)+"]", line)
}

func TestLower_DomainConcatenationOrdering(t *testing.T) {
	a := expr.NewArena()
	// Three children whose destination slices start at 5, 0, and 10;
	// with two repetitions the output must follow spatial order.
	childA := a.Call("fa", a.StateRange(0, 4))
	childB := a.Call("fb", a.StateRange(4, 8))
	childC := a.Call("fc", a.StateRange(8, 12))

	slices := func() []expr.Slice {
		return []expr.Slice{{Start: 0, Stop: 2}, {Start: 2, Stop: 4}}
	}
	root := a.DomainConcat(
		[]expr.NodeID{childA, childB, childC}, 2,
		[][]expr.DomainSlices{
			{{Domain: "a", Slices: slices()}},
			{{Domain: "b", Slices: slices()}},
			{{Domain: "c", Slices: slices()}},
		},
		[]expr.DomainSlices{
			{Domain: "a", Slices: []expr.Slice{{Start: 5, Stop: 7}, {Start: 17, Stop: 19}}},
			{Domain: "b", Slices: []expr.Slice{{Start: 0, Stop: 2}, {Start: 12, Stop: 14}}},
			{Domain: "c", Slices: []expr.Slice{{Start: 10, Stop: 12}, {Start: 22, Stop: 24}}},
		},
	)

	res, err := Lower(a, root, true)
	require.NoError(t, err)
	line, _ := res.Variables.Get(root)

	want := "[" + strings.Join([]string{
		"2::@view " + CacheName(childB) + "[1:2]",
		"2::@view " + CacheName(childA) + "[1:2]",
		"2::@view " + CacheName(childC) + "[1:2]",
		"2::@view " + CacheName(childB) + "[3:4]",
		"2::@view " + CacheName(childA) + "[3:4]",
		"2::@view " + CacheName(childC) + "[3:4]",
	}, ", ") + "]"
	assert.Equal(t, want, line)
}

func TestLower_DomainConcatenationSingleRepetition(t *testing.T) {
	a := expr.NewArena()
	childA := a.StateRange(0, 2)
	childB := a.StateRange(2, 4)

	// One repetition: children pass through in declaration order with
	// no windowing.
	root := a.DomainConcat(
		[]expr.NodeID{childA, childB}, 1,
		[][]expr.DomainSlices{
			{{Domain: "a", Slices: []expr.Slice{{Start: 0, Stop: 2}}}},
			{{Domain: "b", Slices: []expr.Slice{{Start: 0, Stop: 2}}}},
		},
		[]expr.DomainSlices{
			{Domain: "a", Slices: []expr.Slice{{Start: 2, Stop: 4}}},
			{Domain: "b", Slices: []expr.Slice{{Start: 0, Stop: 2}}},
		},
	)

	res, err := Lower(a, root, true)
	require.NoError(t, err)
	line, _ := res.Variables.Get(root)
	assert.Equal(t, "[2::"+CacheName(childA)+", 2::"+CacheName(childB)+"]", line)
}

func TestLower_SizesCoverEveryLoweredNode(t *testing.T) {
	a := expr.NewArena()
	vec := a.Constant(expr.Vector{1, 2})
	s := a.StateRange(0, 2)
	root := a.Add(vec, s)

	res, err := Lower(a, root, true)
	require.NoError(t, err)

	for _, id := range res.Constants.IDs() {
		assert.True(t, res.Sizes.Has(id), "constant %d missing from sizes", id)
	}
	for _, id := range res.Variables.IDs() {
		assert.True(t, res.Sizes.Has(id), "variable %d missing from sizes", id)
	}

	size, _ := res.Sizes.Get(root)
	assert.Equal(t, 2, size)
}

func TestLower_Determinism(t *testing.T) {
	build := func() (*expr.Arena, expr.NodeID) {
		a := expr.NewArena()
		s := a.StateRange(0, 4)
		return a, a.Concat(a.Mul(s, s), a.Neg(s))
	}

	a1, r1 := build()
	a2, r2 := build()
	res1, err := Lower(a1, r1, true)
	require.NoError(t, err)
	res2, err := Lower(a2, r2, true)
	require.NoError(t, err)

	require.Equal(t, res1.Variables.IDs(), res2.Variables.IDs())
	for _, id := range res1.Variables.IDs() {
		l1, _ := res1.Variables.Get(id)
		l2, _ := res2.Variables.Get(id)
		assert.Equal(t, l1, l2)
	}
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "5.0", formatFloat(5))
	assert.Equal(t, "0.5", formatFloat(0.5))
	assert.Equal(t, "-2.0", formatFloat(-2))
	assert.Equal(t, "1e+20", formatFloat(1e20))
	assert.Equal(t, "0.0", formatFloat(0))
}
