// Package query parses and evaluates compound search expressions.
//
// An expression is a whitespace separated sequence of clauses joined by set
// operators:
//
//	expr     := clause { [op] clause }
//	clause   := [mode] operand
//	mode     := SUBSTR | PREFIX | SUFFIX | FULL | TOKEN | TOKPRE | TOKSUF | #<n>
//	op       := AND | && | OR | || | NOT | ANDNOT | !!
//	operand  := word | "quoted string"
//
// Keywords are case-insensitive; quoted operands are never keywords. A clause
// without a mode is a TOKEN search and a missing operator means AND.
// Evaluation is strictly left to right: each operator combines the running
// result with the next clause.
//
// In the default lenient policy malformed clauses are skipped and reported as
// [Diagnostic] values. The strict policy rejects the whole expression with
// [ErrSyntax] instead.
package query
