// Package sampletable defines the row-oriented tagged-attribute sample
// metadata collaborator (§6.4): rows addressable by sample name and by row
// index, and a boolean expression evaluator over those rows. It is treated
// as an external collaborator by spec.md's own scope line, so only one
// concrete backend is provided here, in-memory and expr-lang-backed, to
// give bgt.SingleFileReader's expression-selector path something real to
// run against.
package sampletable
