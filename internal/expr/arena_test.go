package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_InternsStructurallyIdenticalNodes(t *testing.T) {
	a := NewArena()

	x1 := a.Scalar(2.5)
	x2 := a.Scalar(2.5)
	assert.Equal(t, x1, x2, "identical scalar constants must share an identity")

	s1 := a.StateRange(0, 3)
	s2 := a.StateRange(0, 3)
	assert.Equal(t, s1, s2)

	// Same children, same op -> same node.
	add1 := a.Add(x1, s1)
	add2 := a.Add(x2, s2)
	assert.Equal(t, add1, add2)

	// Different op -> different node.
	sub := a.Sub(x1, s1)
	assert.NotEqual(t, add1, sub)

	// Rebuilding the same structure later still finds the shared id.
	assert.Equal(t, add1, a.Add(a.Scalar(2.5), a.StateRange(0, 3)))
}

func TestArena_DistinctMasksDistinctIdentity(t *testing.T) {
	a := NewArena()
	assert.NotEqual(t, a.StateRange(0, 2), a.StateRange(1, 3))
	assert.NotEqual(t, a.StateRange(0, 2), a.StateDotRange(0, 2))
}

func TestArena_IsConstant(t *testing.T) {
	a := NewArena()

	c := a.Scalar(1)
	v := a.Constant(Vector{1, 2, 3})
	s := a.StateRange(0, 3)

	assert.True(t, a.IsConstant(c))
	assert.True(t, a.IsConstant(a.Add(c, c)))
	assert.True(t, a.IsConstant(a.Neg(v)))
	assert.False(t, a.IsConstant(s))
	assert.False(t, a.IsConstant(a.Add(c, s)))
	assert.False(t, a.IsConstant(a.Time()))
	assert.False(t, a.IsConstant(a.Input("k")))
	assert.False(t, a.IsConstant(a.Concat(v, s)))
}

func TestArena_Shapes(t *testing.T) {
	a := NewArena()

	scalar := a.Scalar(3)
	vec := a.Constant(Vector{1, 2, 3})
	state := a.StateRange(0, 3)

	assert.Equal(t, 1, a.Node(scalar).Size())
	assert.Equal(t, 3, a.Node(vec).Size())
	assert.Equal(t, 3, a.Node(state).Size())

	// Broadcasting: scalar op vector keeps the vector shape.
	assert.Equal(t, 3, a.Node(a.Add(scalar, vec)).Size())
	assert.Equal(t, 3, a.Node(a.Mul(vec, scalar)).Size())

	// Matrix multiply takes rows from the left, cols from the right.
	m := a.Constant(Sparse{Rows: []int{0, 1}, Cols: []int{0, 2}, Data: []float64{1, 1}, NRows: 2, NCols: 3})
	mm := a.MatMul(m, vec)
	assert.Equal(t, 2, a.Node(mm).Size())

	// Index has the extent of its slice.
	assert.Equal(t, 2, a.Node(a.Index(state, 1, 3)).Size())

	// Concatenation sums child sizes.
	assert.Equal(t, 6, a.Node(a.Concat(vec, state)).Size())

	// Reductions collapse to scalar.
	red := a.Call("minimum", state)
	require.True(t, a.Node(red).IsScalar())
	assert.Equal(t, 1, a.Node(red).Size())
}

func TestMaskIndices(t *testing.T) {
	assert.Equal(t, []int{1, 2, 4}, MaskIndices([]bool{false, true, true, false, true}))
	assert.Nil(t, MaskIndices([]bool{false, false}))
}
