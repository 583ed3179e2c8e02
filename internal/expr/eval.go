package expr

import (
	"fmt"
	"math"
)

// scalarFuncs are the named external functions the constant evaluator
// can fold. Codegen passes any function name through to the target
// dialect; this table only bounds what can be evaluated at compile time.
var scalarFuncs = map[string]func(float64) float64{
	"sin":  math.Sin,
	"cos":  math.Cos,
	"tan":  math.Tan,
	"exp":  math.Exp,
	"log":  math.Log,
	"sqrt": math.Sqrt,
	"tanh": math.Tanh,
	"sinh": math.Sinh,
	"cosh": math.Cosh,
	"abs":  math.Abs,
}

// Evaluate computes the concrete value of a compile-time-constant
// subtree. It is the constant-folding capability consumed by the
// lowering pass; calling it on a subtree that depends on state, time, or
// input parameters is an error.
func (a *Arena) Evaluate(id NodeID) (Value, error) {
	n := a.nodes[id]
	if !n.constant {
		return nil, fmt.Errorf("evaluate %s: subtree depends on runtime state", n.Kind)
	}
	switch n.Kind {
	case KindConstant:
		return n.Value, nil
	case KindBinaryOp:
		lhs, err := a.Evaluate(n.Children[0])
		if err != nil {
			return nil, err
		}
		rhs, err := a.Evaluate(n.Children[1])
		if err != nil {
			return nil, err
		}
		return evalBinary(n.Op, lhs, rhs)
	case KindUnaryOp:
		v, err := a.Evaluate(n.Children[0])
		if err != nil {
			return nil, err
		}
		return evalNeg(v)
	case KindIndex:
		v, err := a.Evaluate(n.Children[0])
		if err != nil {
			return nil, err
		}
		vec, ok := v.(Vector)
		if !ok {
			return nil, fmt.Errorf("evaluate Index: child is %T, want vector", v)
		}
		if n.Slice.Start < 0 || n.Slice.Stop > len(vec) {
			return nil, fmt.Errorf("evaluate Index: slice [%d, %d) out of range for length %d",
				n.Slice.Start, n.Slice.Stop, len(vec))
		}
		out := make(Vector, n.Slice.Len())
		copy(out, vec[n.Slice.Start:n.Slice.Stop])
		return out, nil
	case KindFunctionCall:
		return a.evalCall(n)
	case KindConcatenation:
		return a.evalConcat(n.Children)
	case KindDomainConcatenation:
		// A constant domain concatenation with one repetition reduces to
		// a plain concatenation. Multiple repetitions never fold in
		// practice because subdomain layouts come from runtime state.
		if n.NPts == 1 {
			return a.evalConcat(n.Children)
		}
		return nil, fmt.Errorf("evaluate DomainConcatenation: cannot fold %d repetitions", n.NPts)
	default:
		return nil, fmt.Errorf("evaluate %s: not a constant-evaluable kind", n.Kind)
	}
}

func (a *Arena) evalConcat(children []NodeID) (Value, error) {
	var out Vector
	for _, c := range children {
		v, err := a.Evaluate(c)
		if err != nil {
			return nil, err
		}
		switch val := v.(type) {
		case Scalar:
			out = append(out, float64(val))
		case Vector:
			out = append(out, val...)
		case Matrix:
			if val.NCols != 1 {
				return nil, fmt.Errorf("evaluate Concatenation: child is %dx%d, want column", val.NRows, val.NCols)
			}
			out = append(out, val.Data...)
		default:
			return nil, fmt.Errorf("evaluate Concatenation: cannot concatenate %T", v)
		}
	}
	return out, nil
}

func (a *Arena) evalCall(n Node) (Value, error) {
	args := make([]Value, len(n.Children))
	for i, c := range n.Children {
		v, err := a.Evaluate(c)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	if isReduction(n.Op) {
		if len(args) != 1 {
			return nil, fmt.Errorf("evaluate %s: want 1 argument, got %d", n.Op, len(args))
		}
		vec, ok := args[0].(Vector)
		if !ok {
			if s, ok := args[0].(Scalar); ok {
				return s, nil
			}
			return nil, fmt.Errorf("evaluate %s: argument is %T, want vector", n.Op, args[0])
		}
		if len(vec) == 0 {
			return nil, fmt.Errorf("evaluate %s: empty vector", n.Op)
		}
		acc := vec[0]
		for _, x := range vec[1:] {
			switch n.Op {
			case "minimum":
				acc = math.Min(acc, x)
			case "maximum":
				acc = math.Max(acc, x)
			case "sum":
				acc += x
			}
		}
		return Scalar(acc), nil
	}
	fn, ok := scalarFuncs[n.Op]
	if !ok {
		return nil, fmt.Errorf("evaluate FunctionCall: no folding rule for %q", n.Op)
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("evaluate %s: want 1 argument, got %d", n.Op, len(args))
	}
	switch v := args[0].(type) {
	case Scalar:
		return Scalar(fn(float64(v))), nil
	case Vector:
		out := make(Vector, len(v))
		for i, x := range v {
			out[i] = fn(x)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("evaluate %s: argument is %T", n.Op, args[0])
	}
}

func evalNeg(v Value) (Value, error) {
	switch val := v.(type) {
	case Scalar:
		return -val, nil
	case Vector:
		out := make(Vector, len(val))
		for i, x := range val {
			out[i] = -x
		}
		return out, nil
	case Matrix:
		out := Matrix{NRows: val.NRows, NCols: val.NCols, Data: make([]float64, len(val.Data))}
		for i, x := range val.Data {
			out.Data[i] = -x
		}
		return out, nil
	case Sparse:
		out := Sparse{
			Rows:  append([]int(nil), val.Rows...),
			Cols:  append([]int(nil), val.Cols...),
			Data:  make([]float64, len(val.Data)),
			NRows: val.NRows,
			NCols: val.NCols,
		}
		for i, x := range val.Data {
			out.Data[i] = -x
		}
		return out, nil
	default:
		return nil, fmt.Errorf("evaluate negate: unknown value %T", v)
	}
}

func evalBinary(op string, lhs, rhs Value) (Value, error) {
	if op == OpMatMul {
		return evalMatMul(lhs, rhs)
	}
	ls, lok := lhs.(Scalar)
	rs, rok := rhs.(Scalar)
	switch {
	case lok && rok:
		return evalScalarOp(op, float64(ls), float64(rs))
	case lok:
		rv, ok := rhs.(Vector)
		if !ok {
			return nil, fmt.Errorf("evaluate %q: rhs is %T", op, rhs)
		}
		out := make(Vector, len(rv))
		for i, x := range rv {
			s, err := evalScalarOp(op, float64(ls), x)
			if err != nil {
				return nil, err
			}
			out[i] = float64(s)
		}
		return out, nil
	case rok:
		lv, ok := lhs.(Vector)
		if !ok {
			return nil, fmt.Errorf("evaluate %q: lhs is %T", op, lhs)
		}
		out := make(Vector, len(lv))
		for i, x := range lv {
			s, err := evalScalarOp(op, x, float64(rs))
			if err != nil {
				return nil, err
			}
			out[i] = float64(s)
		}
		return out, nil
	default:
		lv, lok := lhs.(Vector)
		rv, rok := rhs.(Vector)
		if !lok || !rok {
			return nil, fmt.Errorf("evaluate %q: cannot combine %T and %T", op, lhs, rhs)
		}
		if len(lv) != len(rv) {
			return nil, fmt.Errorf("evaluate %q: length mismatch %d vs %d", op, len(lv), len(rv))
		}
		out := make(Vector, len(lv))
		for i := range lv {
			s, err := evalScalarOp(op, lv[i], rv[i])
			if err != nil {
				return nil, err
			}
			out[i] = float64(s)
		}
		return out, nil
	}
}

func evalScalarOp(op string, l, r float64) (Scalar, error) {
	switch op {
	case OpAdd:
		return Scalar(l + r), nil
	case OpSub:
		return Scalar(l - r), nil
	case OpMul, OpInner:
		return Scalar(l * r), nil
	case OpDiv:
		return Scalar(l / r), nil
	case OpPow:
		return Scalar(math.Pow(l, r)), nil
	case OpMin:
		return Scalar(math.Min(l, r)), nil
	case OpMax:
		return Scalar(math.Max(l, r)), nil
	default:
		return 0, fmt.Errorf("evaluate BinaryOp: no folding rule for %q", op)
	}
}

func evalMatMul(lhs, rhs Value) (Value, error) {
	switch l := lhs.(type) {
	case Sparse:
		switch r := rhs.(type) {
		case Vector:
			return l.MulVec(r)
		case Matrix:
			if r.NCols == 1 {
				return l.MulVec(Vector(r.Data))
			}
		}
	case Matrix:
		switch r := rhs.(type) {
		case Vector:
			if l.NCols != len(r) {
				return nil, fmt.Errorf("matmul: %dx%d times vector of length %d", l.NRows, l.NCols, len(r))
			}
			out := make(Vector, l.NRows)
			for i := 0; i < l.NRows; i++ {
				for j := 0; j < l.NCols; j++ {
					out[i] += l.At(i, j) * r[j]
				}
			}
			return out, nil
		case Matrix:
			if l.NCols != r.NRows {
				return nil, fmt.Errorf("matmul: %dx%d times %dx%d", l.NRows, l.NCols, r.NRows, r.NCols)
			}
			out := Matrix{NRows: l.NRows, NCols: r.NCols, Data: make([]float64, l.NRows*r.NCols)}
			for i := 0; i < l.NRows; i++ {
				for j := 0; j < r.NCols; j++ {
					var sum float64
					for k := 0; k < l.NCols; k++ {
						sum += l.At(i, k) * r.At(k, j)
					}
					out.Data[i*r.NCols+j] = sum
				}
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("matmul: cannot multiply %T by %T", lhs, rhs)
}
