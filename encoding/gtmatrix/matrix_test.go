package gtmatrix

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeGenotypeTable(t *testing.T) {
	cases := []struct {
		bit0, bit1 bool
		want       Genotype
	}{
		{false, false, GTRef},
		{true, false, GTAlt1},
		{false, true, GTMissing},
		{true, true, GTAlt2},
	}
	for _, c := range cases {
		got := DecodeGenotype(c.bit0, c.bit1)
		require.Equal(t, c.want, got)
		b0, b1 := got.Planes()
		require.Equal(t, c.bit0, b0)
		require.Equal(t, c.bit1, b1)
	}
}

func TestEncodeDecodeRowRoundtrip(t *testing.T) {
	genotypes := []Genotype{GTRef, GTAlt1, GTMissing, GTAlt2, GTRef, GTAlt1, GTAlt2, GTRef, GTMissing}
	plane0, plane1 := EncodeRow(genotypes)

	for hap, want := range genotypes {
		b0 := plane0[hap/8]&(1<<uint(hap%8)) != 0
		b1 := plane1[hap/8]&(1<<uint(hap%8)) != 0
		require.Equal(t, want, DecodeGenotype(b0, b1))
	}
}

func TestWriterReaderRoundtrip(t *testing.T) {
	rows := [][]Genotype{
		{GTRef, GTAlt1, GTMissing, GTAlt2},
		{GTAlt2, GTAlt2, GTRef, GTRef},
		{GTMissing, GTRef, GTAlt1, GTMissing},
	}

	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, w.WriteRow(row))
	}
	require.NoError(t, w.Close())

	m, err := NewMatrix(bytes.NewReader(buf.Bytes()), &w.Index, 4)
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, len(rows), m.NumRows())
	require.Equal(t, 4, m.NumHaplotypes())

	for i, want := range rows {
		require.NoError(t, m.Seek(i))
		got, err := m.Read()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestMatrixSeekOutOfRange(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteRow([]Genotype{GTRef, GTAlt1}))
	require.NoError(t, w.Close())

	m, err := NewMatrix(bytes.NewReader(buf.Bytes()), &w.Index, 2)
	require.NoError(t, err)
	defer m.Close()

	require.ErrorIs(t, m.Seek(-1), ErrOutOfRange)
	require.ErrorIs(t, m.Seek(1), ErrOutOfRange)
}

func TestMatrixSubsetNarrowsColumns(t *testing.T) {
	row := []Genotype{GTRef, GTAlt1, GTMissing, GTAlt2, GTRef, GTAlt1}

	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteRow(row))
	require.NoError(t, w.Close())

	m, err := NewMatrix(bytes.NewReader(buf.Bytes()), &w.Index, len(row))
	require.NoError(t, err)
	defer m.Close()

	m.Subset([]int{5, 1, 0})
	require.NoError(t, m.Seek(0))
	got, err := m.Read()
	require.NoError(t, err)
	require.Equal(t, []Genotype{row[5], row[1], row[0]}, got)
}

func TestMatrixReadBeforeSeek(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteRow([]Genotype{GTRef, GTAlt1}))
	require.NoError(t, w.Close())

	m, err := NewMatrix(bytes.NewReader(buf.Bytes()), &w.Index, 2)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Read()
	require.Error(t, err)
}
