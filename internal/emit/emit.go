package emit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/voltlab/exprjl/internal/expr"
	"github.com/voltlab/exprjl/internal/lower"
)

// inlineableForms are the line fragments cheap enough to substitute
// textually into every later consumer instead of materializing a buffer.
var inlineableForms = []string{"@view", "+", "-", "*", "/"}

// nonInlineableMarkers flag consumer lines that must read from a real
// buffer: in-place matrix multiplies and reduction calls cannot take an
// arbitrary inlined expression as an operand.
var nonInlineableMarkers = []string{" @ ", "mul!", "minimum", "maximum"}

// Generate compiles the DAG rooted at root into the complete text of a
// Julia procedure. In DAE mode the root is first rewritten so that
// differential children become implicit residuals (expression minus the
// matching derivative-state slice) while algebraic children pass through
// unchanged.
func Generate(a *expr.Arena, root expr.NodeID, opts Options) (string, error) {
	if opts.FuncName == "" {
		opts.FuncName = "f"
	}
	if opts.DAE() {
		root = rewriteResidual(a, root, opts.DifferentialCount)
	}

	res, err := lower.Lower(a, root, opts.RoundConstants)
	if err != nil {
		return "", err
	}

	// Constant preamble with short position-stable names. Scalar
	// constants are always inlined as bare literals, so only array and
	// sparse constants get preamble entries.
	constStr := "cs = (\n"
	type rename struct{ long, short string }
	var constRenames []rename
	for _, id := range res.Constants.IDs() {
		c, _ := res.Constants.Get(id)
		if c.Scalar {
			continue
		}
		short := fmt.Sprintf("const_%d", len(constRenames))
		constStr += fmt.Sprintf("   %s = %s,\n", short, c.Literal)
		constRenames = append(constRenames, rename{long: lower.ConstName(id), short: short})
	}

	// Drain the variable table front to back, exactly once per entry.
	var varStr string
	var inputParams []rename // cache name -> parameter name, deferred
	for res.Variables.Len() > 0 {
		id, line, _ := res.Variables.PopFront()
		cacheVar := lower.CacheName(id)

		switch {
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
			s, err := emitConcat(cacheVar, line, opts.Preallocate || id == root)
			if err != nil {
				return "", err
			}
			varStr += s

		case strings.Contains(line, " @ "):
			if opts.Preallocate {
				// Multiply into the existing buffer rather than
				// allocating a fresh result.
				varStr += fmt.Sprintf("mul!(%s, %s)\n", cacheVar, strings.ReplaceAll(line, " @ ", ", "))
			} else {
				varStr += fmt.Sprintf("%s = %s\n", cacheVar, strings.ReplaceAll(line, " @ ", " * "))
			}

		case strings.HasPrefix(line, "inputs"):
			name := strings.TrimSuffix(strings.TrimPrefix(line, "inputs['"), "']")
			inputParams = append(inputParams, rename{long: cacheVar, short: name})

		case strings.Contains(line, "minimum") || strings.Contains(line, "maximum"):
			// Reductions cannot broadcast; assign the call directly.
			varStr += fmt.Sprintf("%s .= %s\n", cacheVar, line)

		default:
			varStr += emitDefault(res.Variables, cacheVar, line)
		}
	}

	// Substitute deferred input-parameter placeholders.
	for _, ip := range inputParams {
		varStr = strings.ReplaceAll(varStr, ip.long, ip.short)
	}

	varStr = "   " + strings.ReplaceAll(varStr, "\n", "\n   ")

	// Rename surviving cache buffers to short position-stable names.
	// Buffers eliminated by inlining are dropped; the root's buffer is
	// handled separately below.
	iCache := 0
	for _, id := range res.Sizes.IDs() {
		size, _ := res.Sizes.Get(id)
		cacheVar := lower.CacheName(id)
		if id == root || !strings.Contains(varStr, cacheVar) {
			continue
		}
		short := fmt.Sprintf("cache_%d", iCache)
		varStr = strings.ReplaceAll(varStr, cacheVar, short)
		iCache++
		if opts.Preallocate {
			constStr += fmt.Sprintf("   %s = zeros(%d),\n", short, size)
		} else {
			// Not preallocated: declare at first use instead.
			varStr = strings.ReplaceAll(varStr, "@. "+short+" = ", short+" = @. ")
		}
	}

	for _, cr := range constRenames {
		varStr = strings.ReplaceAll(varStr, cr.long, "cs."+cr.short)
	}

	constStr += ")\n"
	if constStr == "cs = (\n)\n" {
		constStr = ""
	}

	// Route the root's result into the caller-supplied output buffer.
	out := "dy"
	if opts.DAE() {
		out = "out"
	}
	if a.IsConstant(root) {
		c, _ := res.Constants.Get(root)
		if c.Scalar {
			varStr += "\n   dy .= " + c.Literal + "\n"
		} else {
			short := lower.ConstName(root)
			for _, cr := range constRenames {
				if cr.long == short {
					short = cr.short
					break
				}
			}
			varStr += "\n   dy .= cs." + short + "\n"
		}
	} else {
		resultVar := lower.CacheName(root)
		varStr = strings.ReplaceAll(varStr, "   "+resultVar+" =", "   "+out+" .=")
		varStr = strings.ReplaceAll(varStr, resultVar, out)
	}

	if opts.Preallocate {
		varStr = strings.ReplaceAll(varStr, "cache", "cs.cache")
	}

	// Unpack input parameters from p in the caller-specified order.
	var extraction string
	switch len(opts.InputParameterOrder) {
	case 0:
		extraction = ""
	case 1:
		extraction = "   " + opts.InputParameterOrder[0] + " = p[1]\n"
	default:
		extraction = "   " + strings.Join(opts.InputParameterOrder, ", ") + " = p\n"
	}

	funcDef := opts.FuncName + "!"
	if opts.Preallocate && constStr != "" {
		funcDef = opts.FuncName + "_with_consts!"
	}

	var functionDef string
	if opts.DAE() {
		functionDef = fmt.Sprintf("\nfunction %s(out, dy, y, p, t)\n", funcDef)
	} else {
		functionDef = fmt.Sprintf("\nfunction %s(dy, y, p, t)\n", funcDef)
	}

	juliaStr := "begin\n" + constStr + functionDef + extraction + varStr

	// End on a bare nothing so the call discards its return value
	// without allocating.
	juliaStr += "nothing\nend\n\n"
	juliaStr = strings.ReplaceAll(juliaStr, "\n   \n", "\n")

	if opts.Preallocate && constStr != "" {
		// Capture the constants and caches once in a let block so calls
		// reuse the same buffers.
		juliaStr = strings.Replace(juliaStr, "cs = (", opts.FuncName+"! = let cs = (", 1)
		juliaStr += "end\n"
	}
	juliaStr += "end"

	return juliaStr, nil
}

// emitConcat expands a concatenation sentinel. With a destination buffer
// available (preallocating, or writing the root) each child is assigned
// into its contiguous 1-based range; otherwise per-child temporaries
// feed a single vcat.
func emitConcat(cacheVar, line string, intoBuffer bool) (string, error) {
	parts := strings.Split(line[1:len(line)-1], ", ")
	var b strings.Builder
	if intoBuffer {
		start := 0
		for _, part := range parts {
			size, name, err := splitSentinel(part)
			if err != nil {
				return "", err
			}
			end := start + size
			fmt.Fprintf(&b, "@. %s[%d:%d] = %s\n", cacheVar, start+1, end, name)
			start = end
		}
		return b.String(), nil
	}
	concat := cacheVar + " = vcat("
	for i, part := range parts {
		_, name, err := splitSentinel(part)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "x%d = @. %s\n", i+1, name)
		concat += fmt.Sprintf("x%d, ", i+1)
	}
	b.WriteString(strings.TrimSuffix(concat, ", ") + ")\n")
	return b.String(), nil
}

func splitSentinel(part string) (int, string, error) {
	size, name, ok := strings.Cut(part, "::")
	if !ok {
		return 0, "", fmt.Errorf("malformed concatenation sentinel %q", part)
	}
	n, err := strconv.Atoi(size)
	if err != nil {
		return 0, "", fmt.Errorf("malformed concatenation sentinel %q: %w", part, err)
	}
	return n, name, nil
}

// emitDefault decides between inlining a line into its later consumers
// and materializing it into a cache buffer.
func emitDefault(vars *lower.Table[string], cacheVar, line string) string {
	// A consumer that is a matrix multiply or a reduction must read a
	// real buffer, so the line is pinned unless it is itself a pure
	// view. The scan covers every not-yet-consumed line; markers are
	// never removed from the table before being consumed, so a
	// conflicting consumer cannot be missed.
	blocked := false
	for _, nid := range vars.IDs() {
		next, _ := vars.Get(nid)
		if strings.Contains(next, cacheVar) &&
			containsAny(next, nonInlineableMarkers) &&
			!strings.HasPrefix(line, "@view") {
			blocked = true
			break
		}
	}

	if (containsAny(line, inlineableForms) || line == "t") && !blocked {
		replaced := false
		for _, nid := range vars.IDs() {
			next, _ := vars.Get(nid)
			if !strings.Contains(next, cacheVar) {
				continue
			}
			if line == "t" {
				// A bare time reference needs no parentheses.
				vars.Set(nid, strings.ReplaceAll(next, cacheVar, line))
			} else {
				vars.Set(nid, strings.ReplaceAll(next, cacheVar, "("+line+")"))
			}
			replaced = true
		}
		if replaced {
			return ""
		}
	}

	return fmt.Sprintf("@. %s = %s\n", cacheVar, line)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
