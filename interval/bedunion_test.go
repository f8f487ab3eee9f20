package interval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBEDUnionOverlap(t *testing.T) {
	bed := "chr1\t100\t200\nchr1\t150\t250\nchr1\t400\t500\nchr2\t10\t20\n"
	u, err := NewBEDUnion(strings.NewReader(bed), NewBEDOpts{})
	require.NoError(t, err)

	cases := []struct {
		chr      string
		beg, end int
		want     bool
	}{
		{"chr1", 0, 100, false},
		{"chr1", 99, 101, true},
		{"chr1", 180, 220, true},
		{"chr1", 250, 399, false},
		{"chr1", 450, 460, true},
		{"chr2", 0, 10, false},
		{"chr2", 15, 16, true},
		{"chr3", 0, 1000, false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, u.Overlap(c.chr, c.beg, c.end), "%s:%d-%d", c.chr, c.beg, c.end)
	}
}

func TestBEDUnionMergesOverlapping(t *testing.T) {
	bed := "chr1\t100\t200\nchr1\t150\t250\n"
	u, err := NewBEDUnion(strings.NewReader(bed), NewBEDOpts{})
	require.NoError(t, err)
	require.Equal(t, []PosType{100, 250}, u.nameMap["chr1"])
}

func TestBEDUnionRejectsUnsortedInput(t *testing.T) {
	bed := "chr1\t100\t200\nchr1\t50\t60\n"
	_, err := NewBEDUnion(strings.NewReader(bed), NewBEDOpts{})
	require.Error(t, err)
}

func TestBEDUnionSequentialContains(t *testing.T) {
	bed := "chr1\t100\t200\nchr1\t400\t500\n"
	u, err := NewBEDUnion(strings.NewReader(bed), NewBEDOpts{})
	require.NoError(t, err)
	require.False(t, u.Contains("chr1", 50))
	require.True(t, u.Contains("chr1", 150))
	require.False(t, u.Contains("chr1", 300))
	require.True(t, u.Contains("chr1", 450))
}

func TestParseRegionString(t *testing.T) {
	e, err := ParseRegionString("chr1:101-200")
	require.NoError(t, err)
	require.Equal(t, Entry{Chr: "chr1", Start0: 100, End: 200}, e)

	e, err = ParseRegionString("chr1:101")
	require.NoError(t, err)
	require.Equal(t, Entry{Chr: "chr1", Start0: 100, End: 101}, e)

	e, err = ParseRegionString("chr1")
	require.NoError(t, err)
	require.Equal(t, "chr1", e.Chr)

	_, err = ParseRegionString("")
	require.Error(t, err)

	_, err = ParseRegionString(":100-200")
	require.Error(t, err)
}

func TestNewBEDUnionFromEntries(t *testing.T) {
	entries := []Entry{
		{Chr: "chr1", Start0: 100, End: 200},
		{Chr: "chr1", Start0: 150, End: 250},
		{Chr: "chr2", Start0: 0, End: 10},
	}
	u, err := NewBEDUnionFromEntries(entries)
	require.NoError(t, err)
	require.True(t, u.Overlap("chr1", 180, 220))
	require.True(t, u.Overlap("chr2", 5, 6))
	require.False(t, u.Overlap("chr3", 0, 1))
}
