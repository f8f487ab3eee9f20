package sampletable

import "github.com/pkg/errors"

// MemTable is an in-memory Table: one row per sample, with a fixed set of
// named attribute columns shared across all rows.
type MemTable struct {
	samples []string
	index   map[string]int
	rows    []map[string]any
}

// NewMemTable builds a MemTable from sample names in row order; attribute
// columns are populated with SetAttr.
func NewMemTable(samples []string) *MemTable {
	t := &MemTable{
		samples: append([]string(nil), samples...),
		index:   make(map[string]int, len(samples)),
		rows:    make([]map[string]any, len(samples)),
	}
	for i, s := range samples {
		t.index[s] = i
		t.rows[i] = make(map[string]any)
	}
	return t
}

// SetAttr sets column col of sample's row to value.
func (t *MemTable) SetAttr(sample, col string, value any) {
	row, ok := t.index[sample]
	if !ok {
		return
	}
	t.rows[row][col] = value
}

func (t *MemTable) RowByName(name string) (int, error) {
	row, ok := t.index[name]
	if !ok {
		return -1, errors.Wrapf(ErrUnknownSample, "%q", name)
	}
	return row, nil
}

func (t *MemTable) NumRows() int { return len(t.samples) }

func (t *MemTable) SampleName(row int) string { return t.samples[row] }

func (t *MemTable) Attributes(row int) map[string]any { return t.rows[row] }
