package emit

import "github.com/voltlab/exprjl/internal/expr"

// rewriteResidual converts an explicit right-hand side into an implicit
// DAE residual. The root's top-level children are split by cumulative
// size against the differential count: children fully inside the prefix
// get the matching derivative-state slice subtracted, children beyond it
// are pure algebraic constraints and pass through unchanged.
func rewriteResidual(a *expr.Arena, root expr.NodeID, differentialCount int) expr.NodeID {
	n := a.Node(root)
	children := []expr.NodeID{root}
	if n.Kind == expr.KindConcatenation || n.Kind == expr.KindDomainConcatenation {
		children = n.Children
	}

	out := make([]expr.NodeID, 0, len(children))
	end := 0
	for _, child := range children {
		start := end
		end += a.Node(child).Size()
		if end <= differentialCount {
			out = append(out, a.Sub(child, a.StateDotRange(start, end)))
		} else {
			out = append(out, child)
		}
	}
	return a.Concat(out...)
}
