// Package emit assembles lowered expression tables into the text of a
// self-contained Julia procedure suitable for repeated, allocation-free
// evaluation inside an ODE or DAE solver.
//
// Emission drains the variable table exactly once in topological order,
// expanding concatenation sentinels, rewriting matrix-multiply markers
// to in-place mul! calls, inlining cheap subexpressions into their
// consumers, and renaming surviving buffers to short position-stable
// names. With preallocation enabled the procedure closes over a tuple of
// persistent cache buffers so that calls after the first allocate
// nothing.
package emit
