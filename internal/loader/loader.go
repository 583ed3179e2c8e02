// Package loader builds expression DAGs from CUE model files and YAML
// build manifests. It is the only package that knows the on-disk model
// syntax; everything downstream works on the expr arena.
package loader

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/voltlab/exprjl/internal/expr"
)

// Model is a parsed model file: a DAG plus the metadata needed to
// generate and call the compiled procedure.
type Model struct {
	Name     string
	StateLen int
	Params   []string
	Arena    *expr.Arena
	Root     expr.NodeID
}

// LoadError reports a malformed model file with CUE position info.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile parses a CUE model file.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return load(data, path)
}

// LoadString parses CUE model source. Used by tests.
func LoadString(src string) (*Model, error) {
	return load([]byte(src), "model.cue")
}

func load(data []byte, filename string) (*Model, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	mv := v.LookupPath(cue.ParsePath("model"))
	if !mv.Exists() {
		return nil, &LoadError{Field: "model", Message: "model is required", Pos: v.Pos()}
	}

	m := &Model{Arena: expr.NewArena()}

	if nameVal := mv.LookupPath(cue.ParsePath("name")); nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		m.Name = name
	}

	lenVal := mv.LookupPath(cue.ParsePath("state.len"))
	if !lenVal.Exists() {
		return nil, &LoadError{Field: "state.len", Message: "state.len is required", Pos: mv.Pos()}
	}
	stateLen, err := lenVal.Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	m.StateLen = int(stateLen)

	if paramsVal := mv.LookupPath(cue.ParsePath("params")); paramsVal.Exists() {
		params, err := stringList(paramsVal)
		if err != nil {
			return nil, err
		}
		m.Params = params
	}

	exprVal := mv.LookupPath(cue.ParsePath("expr"))
	if !exprVal.Exists() {
		return nil, &LoadError{Field: "expr", Message: "expr is required", Pos: mv.Pos()}
	}
	root, err := parseNode(m.Arena, exprVal)
	if err != nil {
		return nil, err
	}
	m.Root = root

	return m, nil
}

// parseNode translates one CUE expression node into an arena node. The
// file syntax mirrors the node kind set: exactly one of const, sparse,
// state, statedot, time, input, op, call, index, or concat per struct.
func parseNode(a *expr.Arena, v cue.Value) (expr.NodeID, error) {
	switch {
	case v.LookupPath(cue.ParsePath("const")).Exists():
		return parseConst(a, v.LookupPath(cue.ParsePath("const")))

	case v.LookupPath(cue.ParsePath("sparse")).Exists():
		return parseSparse(a, v.LookupPath(cue.ParsePath("sparse")))

	case v.LookupPath(cue.ParsePath("state")).Exists():
		start, stop, err := parseRange(v.LookupPath(cue.ParsePath("state")))
		if err != nil {
			return 0, err
		}
		return a.StateRange(start, stop), nil

	case v.LookupPath(cue.ParsePath("statedot")).Exists():
		start, stop, err := parseRange(v.LookupPath(cue.ParsePath("statedot")))
		if err != nil {
			return 0, err
		}
		return a.StateDotRange(start, stop), nil

	case v.LookupPath(cue.ParsePath("time")).Exists():
		return a.Time(), nil

	case v.LookupPath(cue.ParsePath("input")).Exists():
		name, err := v.LookupPath(cue.ParsePath("input")).String()
		if err != nil {
			return 0, formatCUEError(err)
		}
		return a.Input(name), nil

	case v.LookupPath(cue.ParsePath("op")).Exists():
		return parseOp(a, v)

	case v.LookupPath(cue.ParsePath("call")).Exists():
		return parseCall(a, v)

	case v.LookupPath(cue.ParsePath("index")).Exists():
		return parseIndex(a, v.LookupPath(cue.ParsePath("index")))

	case v.LookupPath(cue.ParsePath("concat")).Exists():
		children, err := parseNodeList(a, v.LookupPath(cue.ParsePath("concat")))
		if err != nil {
			return 0, err
		}
		return a.Concat(children...), nil

	default:
		return 0, &LoadError{Field: "expr", Message: "unrecognized expression node", Pos: v.Pos()}
	}
}

func parseConst(a *expr.Arena, v cue.Value) (expr.NodeID, error) {
	if list, err := floatList(v); err == nil {
		return a.Constant(expr.Vector(list)), nil
	}
	f, err := v.Float64()
	if err != nil {
		return 0, &LoadError{Field: "const", Message: "want a number or list of numbers", Pos: v.Pos()}
	}
	return a.Scalar(f), nil
}

func parseSparse(a *expr.Arena, v cue.Value) (expr.NodeID, error) {
	rows, err := intList(v.LookupPath(cue.ParsePath("rows")))
	if err != nil {
		return 0, err
	}
	cols, err := intList(v.LookupPath(cue.ParsePath("cols")))
	if err != nil {
		return 0, err
	}
	vals, err := floatList(v.LookupPath(cue.ParsePath("vals")))
	if err != nil {
		return 0, err
	}
	if len(rows) != len(cols) || len(rows) != len(vals) {
		return 0, &LoadError{Field: "sparse", Message: "rows, cols, and vals must have equal length", Pos: v.Pos()}
	}
	nrows, err := v.LookupPath(cue.ParsePath("nrows")).Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	ncols, err := v.LookupPath(cue.ParsePath("ncols")).Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return a.Constant(expr.Sparse{
		Rows:  rows,
		Cols:  cols,
		Data:  vals,
		NRows: int(nrows),
		NCols: int(ncols),
	}), nil
}

// binaryOps maps manifest operator spellings to arena operators.
var binaryOps = map[string]string{
	"+":      expr.OpAdd,
	"-":      expr.OpSub,
	"*":      expr.OpMul,
	"/":      expr.OpDiv,
	"matmul": expr.OpMatMul,
	"pow":    expr.OpPow,
	"^":      expr.OpPow,
	"min":    expr.OpMin,
	"max":    expr.OpMax,
}

func parseOp(a *expr.Arena, v cue.Value) (expr.NodeID, error) {
	opVal := v.LookupPath(cue.ParsePath("op"))
	op, err := opVal.String()
	if err != nil {
		return 0, formatCUEError(err)
	}
	args, err := parseNodeList(a, v.LookupPath(cue.ParsePath("args")))
	if err != nil {
		return 0, err
	}
	switch len(args) {
	case 1:
		if op != "-" {
			return 0, &LoadError{Field: "op", Message: fmt.Sprintf("unary %q is not supported", op), Pos: opVal.Pos()}
		}
		return a.Neg(args[0]), nil
	case 2:
		mapped, ok := binaryOps[op]
		if !ok {
			return 0, &LoadError{Field: "op", Message: fmt.Sprintf("unknown operator %q", op), Pos: opVal.Pos()}
		}
		return a.Binary(mapped, args[0], args[1]), nil
	default:
		return 0, &LoadError{Field: "op", Message: fmt.Sprintf("want 1 or 2 args, got %d", len(args)), Pos: opVal.Pos()}
	}
}

func parseCall(a *expr.Arena, v cue.Value) (expr.NodeID, error) {
	name, err := v.LookupPath(cue.ParsePath("call")).String()
	if err != nil {
		return 0, formatCUEError(err)
	}
	args, err := parseNodeList(a, v.LookupPath(cue.ParsePath("args")))
	if err != nil {
		return 0, err
	}
	if len(args) == 0 {
		return 0, &LoadError{Field: "call", Message: "want at least one arg", Pos: v.Pos()}
	}
	return a.Call(name, args...), nil
}

func parseIndex(a *expr.Arena, v cue.Value) (expr.NodeID, error) {
	arg, err := parseNode(a, v.LookupPath(cue.ParsePath("arg")))
	if err != nil {
		return 0, err
	}
	start, stop, err := parseRange(v)
	if err != nil {
		return 0, err
	}
	return a.Index(arg, start, stop), nil
}

func parseRange(v cue.Value) (int, int, error) {
	start, err := v.LookupPath(cue.ParsePath("start")).Int64()
	if err != nil {
		return 0, 0, formatCUEError(err)
	}
	stop, err := v.LookupPath(cue.ParsePath("stop")).Int64()
	if err != nil {
		return 0, 0, formatCUEError(err)
	}
	if stop <= start {
		return 0, 0, &LoadError{Field: "range", Message: fmt.Sprintf("stop %d must exceed start %d", stop, start), Pos: v.Pos()}
	}
	return int(start), int(stop), nil
}

func parseNodeList(a *expr.Arena, v cue.Value) ([]expr.NodeID, error) {
	if !v.Exists() {
		return nil, &LoadError{Field: "args", Message: "args is required", Pos: v.Pos()}
	}
	it, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []expr.NodeID
	for it.Next() {
		id, err := parseNode(a, it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func stringList(v cue.Value) ([]string, error) {
	it, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for it.Next() {
		s, err := it.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func floatList(v cue.Value) ([]float64, error) {
	it, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []float64
	for it.Next() {
		f, err := it.Value().Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, f)
	}
	return out, nil
}

func intList(v cue.Value) ([]int, error) {
	it, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []int
	for it.Next() {
		n, err := it.Value().Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, int(n))
	}
	return out, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	return &LoadError{
		Field:   "cue",
		Message: first.Error(),
		Pos:     first.Position(),
	}
}
