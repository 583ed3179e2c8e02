package expr

// NodeID is the stable identity of a node within an Arena. Structurally
// identical subexpressions share one NodeID, so common subexpressions are
// detected by comparing IDs, never by deep structural comparison.
type NodeID int

// Kind identifies the variant of a node. The set is closed: every
// renderer switches exhaustively over it and treats anything else as an
// unsupported-node-kind failure.
type Kind uint8

const (
	KindConstant Kind = iota
	KindBinaryOp
	KindUnaryOp
	KindIndex
	KindFunctionCall
	KindConcatenation
	KindDomainConcatenation
	KindStateVector
	KindStateVectorDot
	KindTime
	KindInputParameter
)

// String returns the kind name for diagnostics.
func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "Constant"
	case KindBinaryOp:
		return "BinaryOp"
	case KindUnaryOp:
		return "UnaryOp"
	case KindIndex:
		return "Index"
	case KindFunctionCall:
		return "FunctionCall"
	case KindConcatenation:
		return "Concatenation"
	case KindDomainConcatenation:
		return "DomainConcatenation"
	case KindStateVector:
		return "StateVectorRef"
	case KindStateVectorDot:
		return "StateVectorDotRef"
	case KindTime:
		return "TimeRef"
	case KindInputParameter:
		return "InputParameterRef"
	default:
		return "Unknown"
	}
}

// Binary operator names. Ops not listed here render with their name as an
// elementwise infix operator.
const (
	OpAdd    = "+"
	OpSub    = "-"
	OpMul    = "*"
	OpDiv    = "/"
	OpMatMul = "@"
	OpPow    = "^"
	OpMin    = "min"
	OpMax    = "max"
	OpInner  = "inner"
)

// Slice is a half-open [Start, Stop) index range.
type Slice struct {
	Start int
	Stop  int
}

// Len returns the number of indices covered by the slice.
func (s Slice) Len() int { return s.Stop - s.Start }

// DomainSlices carries one slice per secondary-dimension repetition for
// a named subdomain.
type DomainSlices struct {
	Domain string
	Slices []Slice // one per repetition
}

// Node is an immutable DAG node. Which fields are meaningful depends on
// Kind; unused fields hold zero values.
type Node struct {
	Kind     Kind
	Op       string // operator symbol, function name, or parameter name
	Children []NodeID

	// Shape. Scalars are (0, 0); array-valued nodes are (Rows, Cols).
	Rows int
	Cols int

	// KindConstant payload.
	Value Value

	// KindIndex payload: half-open slice into the child.
	Slice Slice

	// KindStateVector / KindStateVectorDot payload: which positions of
	// the state vector this node reads.
	Mask []bool

	// KindDomainConcatenation payload.
	NPts        int              // secondary-dimension repetitions
	ChildSlices [][]DomainSlices // per child, per subdomain
	FullSlices  []DomainSlices   // slices into the whole concatenation

	constant bool
}

// Size returns the node's first-dimension extent, the unit used for
// buffer allocation and slicing. Scalars have size 1.
func (n Node) Size() int {
	if n.Rows == 0 {
		return 1
	}
	return n.Rows
}

// IsScalar reports whether the node has scalar shape.
func (n Node) IsScalar() bool { return n.Rows == 0 && n.Cols == 0 }
