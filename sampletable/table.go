package sampletable

import "github.com/pkg/errors"

// ErrUnknownSample is returned by RowByName for a name not in the table.
var ErrUnknownSample = errors.New("sampletable: unknown sample")

// Table is the sample-metadata collaborator's row-access contract: rows
// addressable by sample name and by row index, attribute access by column
// name.
type Table interface {
	// RowByName returns the row index of a sample, or ErrUnknownSample.
	RowByName(name string) (int, error)
	// NumRows returns the row count.
	NumRows() int
	// SampleName returns the sample name at row.
	SampleName(row int) string
	// Attributes returns all attribute values for row, keyed by column name.
	Attributes(row int) map[string]any
}

// Expr is an opaque compiled boolean expression, produced by Compile and
// consumed by Eval.
type Expr interface {
	isExpr()
}
