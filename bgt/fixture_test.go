package bgt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/biogo/hts/bgzf"
	"github.com/druvus/bgt/encoding/bcf"
	"github.com/druvus/bgt/encoding/gtmatrix"
	"github.com/stretchr/testify/require"
)

// fixtureRow is one record-plus-genotypes row for writeFixtureDataset.
type fixtureRow struct {
	rid, pos int32
	alleles  []string
	gt       []gtmatrix.Genotype // one per haplotype, 2 * len(samples)
}

// fixtureContig is one contig declaration for writeFixtureDataset.
type fixtureContig struct {
	name   string
	length int
}

// writeFixtureDataset writes prefix.bcf and prefix.pbf (and, if splLines is
// non-nil, prefix.spl) under dir, returning the dataset prefix path. Each
// row's _row INFO field is set to its position in rows, matching the
// convention SingleFileReader.Next relies on to address the genotype matrix.
func writeFixtureDataset(t *testing.T, dir, name string, samples []string, contigs []fixtureContig, rows []fixtureRow, splLines []string) string {
	t.Helper()
	prefix := filepath.Join(dir, name)

	h := bcf.NewHeader()
	for _, c := range contigs {
		h.AddContig(c.name, c.length)
	}
	h.DefineInfo("_row", bcf.ValueInt, bcf.NumberFixed, 1)
	h.DefineFormat("GT", bcf.ValueInt, bcf.NumberFixed, 1)
	h.Samples = samples

	bcfFile, err := os.Create(prefix + ".bcf")
	require.NoError(t, err)
	bw := bgzf.NewWriter(bcfFile, 1)
	require.NoError(t, bcf.WriteHeader(bw, h.String()))
	require.NoError(t, bw.Flush())

	pbfFile, err := os.Create(prefix + ".pbf")
	require.NoError(t, err)
	gw, err := gtmatrix.NewWriter(pbfFile)
	require.NoError(t, err)

	for i, row := range rows {
		rec := bcf.NewRecord(h)
		rec.RID, rec.Pos, rec.Rlen, rec.Qual = row.rid, row.pos, int32(len(row.alleles[0])), 0
		rec.ID = "."
		rec.Alleles = row.alleles
		rec.Info = []bcf.InfoValue{{Key: "_row", Ints: []int32{int32(i)}}}
		require.NoError(t, bcf.WriteRecordFrame(bw, rec, h))
		require.NoError(t, bw.Flush())

		require.NoError(t, gw.WriteRow(row.gt))
	}
	require.NoError(t, bw.Close())
	require.NoError(t, bcfFile.Close())
	require.NoError(t, gw.Close())
	require.NoError(t, pbfFile.Close())

	if splLines != nil {
		var content string
		for _, l := range splLines {
			content += l + "\n"
		}
		require.NoError(t, os.WriteFile(prefix+".spl", []byte(content), 0o644))
	}

	return prefix
}
