package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a sealed interface representing the result of evaluating a
// compile-time-constant subtree. Only Scalar, Vector, Matrix, and Sparse
// implement it.
type Value interface {
	value() // Sealed - only these types implement it
}

// Scalar represents a single floating-point value.
type Scalar float64

func (Scalar) value() {}

// Vector represents a dense column vector.
type Vector []float64

func (Vector) value() {}

// Matrix represents a dense matrix stored row-major.
type Matrix struct {
	NRows int
	NCols int
	Data  []float64 // len == NRows*NCols, row-major
}

func (Matrix) value() {}

// At returns the element at row i, column j.
func (m Matrix) At(i, j int) float64 {
	return m.Data[i*m.NCols+j]
}

// Sparse represents a sparse matrix as coordinate triples.
// Rows and Cols are 0-based here; the lowering pass converts to the
// target dialect's 1-based indexing when it renders the literal.
type Sparse struct {
	Rows  []int
	Cols  []int
	Data  []float64
	NRows int
	NCols int
}

func (Sparse) value() {}

// MulVec multiplies the sparse matrix by a dense column vector.
func (s Sparse) MulVec(v Vector) (Vector, error) {
	if len(v) != s.NCols {
		return nil, fmt.Errorf("sparse matmul: %dx%d matrix times vector of length %d", s.NRows, s.NCols, len(v))
	}
	out := make(Vector, s.NRows)
	for k := range s.Data {
		out[s.Rows[k]] += s.Data[k] * v[s.Cols[k]]
	}
	return out, nil
}

// ValueShape returns the (rows, cols) shape of a value. Scalars are (0, 0).
func ValueShape(v Value) (int, int) {
	switch val := v.(type) {
	case Scalar:
		return 0, 0
	case Vector:
		return len(val), 1
	case Matrix:
		return val.NRows, val.NCols
	case Sparse:
		return val.NRows, val.NCols
	default:
		panic(fmt.Sprintf("unknown value type %T", v))
	}
}

// valueKey returns a canonical string for interning constant nodes.
func valueKey(v Value) string {
	var b strings.Builder
	switch val := v.(type) {
	case Scalar:
		b.WriteString("s:")
		b.WriteString(strconv.FormatFloat(float64(val), 'g', -1, 64))
	case Vector:
		b.WriteString("v:")
		for _, x := range val {
			b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
			b.WriteByte(',')
		}
	case Matrix:
		fmt.Fprintf(&b, "m:%d:%d:", val.NRows, val.NCols)
		for _, x := range val.Data {
			b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
			b.WriteByte(',')
		}
	case Sparse:
		fmt.Fprintf(&b, "sp:%d:%d:", val.NRows, val.NCols)
		for k := range val.Data {
			fmt.Fprintf(&b, "%d;%d;%s,", val.Rows[k], val.Cols[k],
				strconv.FormatFloat(val.Data[k], 'g', -1, 64))
		}
	default:
		panic(fmt.Sprintf("unknown value type %T", v))
	}
	return b.String()
}
