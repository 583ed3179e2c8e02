package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/voltlab/exprjl/internal/emit"
	"github.com/voltlab/exprjl/internal/expr"
)

// DomainCompilation is the domain prefix for compile-cache keys.
// Version suffix enables future encoding migration.
const DomainCompilation = "exprjl/compilation/v1"

// Key computes the content-addressed cache key for compiling the DAG
// rooted at root with the given options. The same DAG structure and
// options always produce the same key, regardless of the order nodes
// were added to the arena.
func Key(a *expr.Arena, root expr.NodeID, opts emit.Options) string {
	var b strings.Builder
	enc := &encoder{arena: a, visited: make(map[expr.NodeID]int), out: &b}
	enc.encode(root)
	encodeOptions(&b, opts)

	// SHA-256 with domain separation; the null byte prevents
	// domain/data boundary ambiguity.
	h := sha256.New()
	h.Write([]byte(DomainCompilation))
	h.Write([]byte{0x00})
	h.Write([]byte(b.String()))
	return hex.EncodeToString(h.Sum(nil))
}

// encoder writes a canonical post-order byte encoding of a DAG. Node
// identities are remapped to dense visit order so two arenas holding the
// same structure encode identically.
type encoder struct {
	arena   *expr.Arena
	visited map[expr.NodeID]int
	out     *strings.Builder
}

func (e *encoder) encode(id expr.NodeID) int {
	if idx, ok := e.visited[id]; ok {
		return idx
	}
	n := e.arena.Node(id)
	childIdx := make([]int, len(n.Children))
	for i, c := range n.Children {
		childIdx[i] = e.encode(c)
	}

	idx := len(e.visited)
	e.visited[id] = idx

	fmt.Fprintf(e.out, "n%d|k%d|op:%s|", idx, n.Kind, norm.NFC.String(n.Op))
	for _, ci := range childIdx {
		fmt.Fprintf(e.out, "c%d,", ci)
	}
	switch n.Kind {
	case expr.KindConstant:
		e.out.WriteString(encodeValue(n.Value))
	case expr.KindIndex:
		fmt.Fprintf(e.out, "sl%d-%d", n.Slice.Start, n.Slice.Stop)
	case expr.KindStateVector, expr.KindStateVectorDot:
		for _, m := range n.Mask {
			if m {
				e.out.WriteByte('1')
			} else {
				e.out.WriteByte('0')
			}
		}
	case expr.KindDomainConcatenation:
		fmt.Fprintf(e.out, "np%d|", n.NPts)
		for _, ds := range n.ChildSlices {
			encodeDomainSlices(e.out, ds)
		}
		e.out.WriteByte('|')
		encodeDomainSlices(e.out, n.FullSlices)
	}
	e.out.WriteByte('\n')
	return idx
}

func encodeDomainSlices(b *strings.Builder, ds []expr.DomainSlices) {
	for _, d := range ds {
		b.WriteString(norm.NFC.String(d.Domain))
		b.WriteByte(':')
		for _, s := range d.Slices {
			fmt.Fprintf(b, "%d-%d,", s.Start, s.Stop)
		}
		b.WriteByte(';')
	}
}

func encodeValue(v expr.Value) string {
	var b strings.Builder
	switch val := v.(type) {
	case expr.Scalar:
		b.WriteString("s:")
		b.WriteString(strconv.FormatFloat(float64(val), 'g', -1, 64))
	case expr.Vector:
		b.WriteString("v:")
		for _, x := range val {
			b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
			b.WriteByte(',')
		}
	case expr.Matrix:
		fmt.Fprintf(&b, "m:%d:%d:", val.NRows, val.NCols)
		for _, x := range val.Data {
			b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
			b.WriteByte(',')
		}
	case expr.Sparse:
		fmt.Fprintf(&b, "sp:%d:%d:", val.NRows, val.NCols)
		for k := range val.Data {
			fmt.Fprintf(&b, "%d;%d;%s,", val.Rows[k], val.Cols[k],
				strconv.FormatFloat(val.Data[k], 'g', -1, 64))
		}
	}
	return b.String()
}

func encodeOptions(b *strings.Builder, opts emit.Options) {
	fmt.Fprintf(b, "opts|fn:%s|dc:%d|pre:%t|round:%t|params:",
		norm.NFC.String(opts.FuncName), opts.DifferentialCount,
		opts.Preallocate, opts.RoundConstants)
	for _, p := range opts.InputParameterOrder {
		b.WriteString(norm.NFC.String(p))
		b.WriteByte(',')
	}
}
