package sampletable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTable() *MemTable {
	t := NewMemTable([]string{"S1", "S2", "S3"})
	t.SetAttr("S1", "cohort", "case")
	t.SetAttr("S1", "depth", 30.0)
	t.SetAttr("S2", "cohort", "control")
	t.SetAttr("S2", "depth", 5.0)
	t.SetAttr("S3", "cohort", "case")
	t.SetAttr("S3", "depth", 8.0)
	return t
}

func TestRowLookup(t *testing.T) {
	tbl := buildTable()
	row, err := tbl.RowByName("S2")
	require.NoError(t, err)
	require.Equal(t, 1, row)
	require.Equal(t, "S2", tbl.SampleName(row))

	_, err = tbl.RowByName("nope")
	require.ErrorIs(t, err, ErrUnknownSample)
}

func TestCompileEvalExpression(t *testing.T) {
	tbl := buildTable()
	e, err := Compile(`cohort == "case" && depth > 10`)
	require.NoError(t, err)

	for _, tc := range []struct {
		sample string
		want   bool
	}{
		{"S1", true},  // case, depth 30
		{"S2", false}, // control
		{"S3", false}, // case but depth 8
	} {
		row, err := tbl.RowByName(tc.sample)
		require.NoError(t, err)
		got, err := Eval(tbl, row, e)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, tc.sample)
	}
}

func TestEvalReferencesSampleName(t *testing.T) {
	tbl := buildTable()
	e, err := Compile(`sample == "S1"`)
	require.NoError(t, err)

	row, _ := tbl.RowByName("S1")
	got, err := Eval(tbl, row, e)
	require.NoError(t, err)
	require.True(t, got)

	row, _ = tbl.RowByName("S2")
	got, err = Eval(tbl, row, e)
	require.NoError(t, err)
	require.False(t, got)
}

func TestCompileInvalidExpression(t *testing.T) {
	_, err := Compile("cohort ==")
	require.Error(t, err)
}
