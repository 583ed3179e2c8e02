package emit

// Options control code generation for one procedure.
type Options struct {
	// FuncName is the base procedure name; the emitted name gains a !
	// suffix and, when constants or preallocated caches exist, a
	// _with_consts marker.
	FuncName string

	// InputParameterOrder lists input parameter names in the order they
	// are unpacked from the flat parameter vector p.
	InputParameterOrder []string

	// DifferentialCount is the number of differential states when
	// generating a DAE residual. Negative means the expression is an
	// explicit ODE right-hand side.
	DifferentialCount int

	// Preallocate reuses fixed buffers across calls instead of
	// allocating per call.
	Preallocate bool

	// RoundConstants rounds constant values to a fixed decimal
	// precision for diff-stable output.
	RoundConstants bool
}

// DefaultOptions returns the standard generation options: ODE mode,
// preallocated buffers, rounded constants.
func DefaultOptions() Options {
	return Options{
		FuncName:          "f",
		DifferentialCount: -1,
		Preallocate:       true,
		RoundConstants:    true,
	}
}

// DAE reports whether the options select implicit-residual mode.
func (o Options) DAE() bool { return o.DifferentialCount >= 0 }
