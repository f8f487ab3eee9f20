package bgt

import (
	"context"
	"io"
	"testing"

	"github.com/druvus/bgt/encoding/bcf"
	"github.com/druvus/bgt/encoding/gtmatrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func siteRecord(pos int32, alleles ...string) *bcf.Record {
	r := bcf.NewRecord(nil)
	r.Pos = pos
	r.Rlen = int32(len(alleles[0]))
	r.Alleles = alleles
	return r
}

// buildGenotypes deterministically cycles through all four Genotype codes,
// giving every mask-bucket in the strategy comparison a mix of values.
func buildGenotypes(n int) []gtmatrix.Genotype {
	out := make([]gtmatrix.Genotype, n)
	codes := []gtmatrix.Genotype{gtmatrix.GTRef, gtmatrix.GTAlt1, gtmatrix.GTMissing, gtmatrix.GTAlt2}
	for i := range out {
		out[i] = codes[i%len(codes)]
	}
	return out
}

func buildMasks(numSamples, numGroups int) []uint8 {
	masks := make([]uint8, numSamples)
	for i := range masks {
		// Every sample belongs to at least one group, with overlap between
		// adjacent groups so the bucketed strategy sees mixed masks.
		masks[i] = uint8(1<<uint(i%numGroups)) | uint8(1<<uint((i+1)%numGroups))
	}
	return masks
}

func TestAccumulateGroupsStrategiesAgreeSmall(t *testing.T) {
	numSamples := 20
	numGroups := 3
	genotypes := buildGenotypes(2 * numSamples)
	masks := buildMasks(numSamples, numGroups)

	direct := accumulateGroupsDirect(genotypes, masks, numGroups)
	bucketed := accumulateGroupsBucketed(genotypes, masks, numGroups)
	assert.Equal(t, direct, bucketed)
}

func TestAccumulateGroupsStrategiesAgreeLarge(t *testing.T) {
	numSamples := 600
	numGroups := 8
	genotypes := buildGenotypes(2 * numSamples)
	masks := buildMasks(numSamples, numGroups)

	direct := accumulateGroupsDirect(genotypes, masks, numGroups)
	bucketed := accumulateGroupsBucketed(genotypes, masks, numGroups)
	assert.Equal(t, direct, bucketed)
}

func TestAccumulateGroupsDispatchMatchesDirectBelowThreshold(t *testing.T) {
	genotypes := buildGenotypes(100)
	masks := buildMasks(50, 2)
	assert.Equal(t, accumulateGroupsDirect(genotypes, masks, 2), accumulateGroups(genotypes, masks, 2))
}

func TestAccumulateGroupsDispatchMatchesBucketedAboveThreshold(t *testing.T) {
	genotypes := buildGenotypes(2000)
	masks := buildMasks(1000, 2)
	assert.Equal(t, accumulateGroupsBucketed(genotypes, masks, 2), accumulateGroups(genotypes, masks, 2))
}

func TestAccumulateGroupsZeroMaskExcluded(t *testing.T) {
	genotypes := []gtmatrix.Genotype{gtmatrix.GTAlt1, gtmatrix.GTAlt1}
	masks := []uint8{0}
	gcnt := accumulateGroupsDirect(genotypes, masks, 1)
	assert.Equal(t, [4]int32{0, 0, 0, 0}, gcnt[0])
}

func TestSiteEqualLooseIgnoresAlt(t *testing.T) {
	a := siteRecord(100, "A", "C")
	b := siteRecord(100, "A", "G")
	assert.True(t, siteEqualLoose(a, b))
	assert.False(t, siteEqualStrict(a, b))
}

func TestSiteLessOrdersByPosition(t *testing.T) {
	a := siteRecord(50, "A", "C")
	b := siteRecord(100, "A", "C")
	assert.True(t, siteLess(a, b))
	assert.False(t, siteLess(b, a))
}

// TestMergedReaderFillsMissingAcrossChildren exercises the full k-way merge
// over a site both datasets share but with disagreeing ALTs, and a site only
// one dataset has. A child's buffered record only contributes real genotypes
// to a round where it strictly matches the winning site (same REF and ALT);
// otherwise it is missing-filled for that round and stays buffered, so two
// children disagreeing on ALT at the same position surface as two separate
// output rows rather than one collapsed into an <M> allele (that placeholder
// is only added when a buffered record at the winning site's position and
// REF has more than two alleles).
func TestMergedReaderFillsMissingAcrossChildren(t *testing.T) {
	dir := t.TempDir()
	contigs := []fixtureContig{{"chr1", 1000}}

	prefixA := writeFixtureDataset(t, dir, "a", []string{"SA1"}, contigs, []fixtureRow{
		{rid: 0, pos: 10, alleles: []string{"A", "C"}, gt: []gtmatrix.Genotype{gtmatrix.GTAlt1, gtmatrix.GTRef}},
		{rid: 0, pos: 20, alleles: []string{"A", "G"}, gt: []gtmatrix.Genotype{gtmatrix.GTRef, gtmatrix.GTRef}},
	}, nil)
	prefixB := writeFixtureDataset(t, dir, "b", []string{"SB1"}, contigs, []fixtureRow{
		{rid: 0, pos: 10, alleles: []string{"A", "T"}, gt: []gtmatrix.Genotype{gtmatrix.GTAlt1, gtmatrix.GTAlt1}},
	}, nil)

	ctx := context.Background()
	fa, err := Open(ctx, prefixA)
	require.NoError(t, err)
	fb, err := Open(ctx, prefixB)
	require.NoError(t, err)
	ra, err := fa.NewReader(ctx)
	require.NoError(t, err)
	rb, err := fb.NewReader(ctx)
	require.NoError(t, err)

	m, err := NewMergedReader(ra, rb)
	require.NoError(t, err)
	defer m.Close()

	// Round 1: both children buffer a pos-10 record; A's ("A","C") sorts
	// before B's ("A","T"), so A wins this round and B's record stays
	// buffered, missing-filled here.
	rec, gen, err := m.Next()
	require.NoError(t, err)
	require.Equal(t, int32(10), rec.Pos)
	require.Equal(t, []string{"A", "C"}, rec.Alleles)
	require.Equal(t, []gtmatrix.Genotype{gtmatrix.GTAlt1, gtmatrix.GTRef, gtmatrix.GTMissing, gtmatrix.GTMissing}, gen)
	an, ok := rec.InfoInt("AN")
	require.True(t, ok)
	require.EqualValues(t, 2, an)
	ac, ok := rec.InfoInt("AC")
	require.True(t, ok)
	require.EqualValues(t, 1, ac)

	// Round 2: A now buffers its pos-20 record; B's leftover pos-10 record
	// is still earlier, so it wins this round and finally gets consumed,
	// with A missing-filled (its buffered record is for a later position).
	rec, gen, err = m.Next()
	require.NoError(t, err)
	require.Equal(t, int32(10), rec.Pos)
	require.Equal(t, []string{"A", "T"}, rec.Alleles)
	require.Equal(t, []gtmatrix.Genotype{gtmatrix.GTMissing, gtmatrix.GTMissing, gtmatrix.GTAlt1, gtmatrix.GTAlt1}, gen)

	// Round 3: only A's pos-20 record remains; B is exhausted.
	rec, gen, err = m.Next()
	require.NoError(t, err)
	require.Equal(t, int32(20), rec.Pos)
	require.Equal(t, []string{"A", "G"}, rec.Alleles)
	require.Equal(t, []gtmatrix.Genotype{gtmatrix.GTRef, gtmatrix.GTRef, gtmatrix.GTMissing, gtmatrix.GTMissing}, gen)

	_, _, err = m.Next()
	require.Equal(t, io.EOF, err)
}

func TestMergedReaderRequiresMatchingHeaders(t *testing.T) {
	dir := t.TempDir()
	prefixA := writeFixtureDataset(t, dir, "a", []string{"SA1"}, []fixtureContig{{"chr1", 1000}}, nil, nil)
	prefixB := writeFixtureDataset(t, dir, "b", []string{"SB1"}, []fixtureContig{{"chr1", 2000}}, nil, nil)

	ctx := context.Background()
	fa, err := Open(ctx, prefixA)
	require.NoError(t, err)
	fb, err := Open(ctx, prefixB)
	require.NoError(t, err)
	ra, err := fa.NewReader(ctx)
	require.NoError(t, err)
	rb, err := fb.NewReader(ctx)
	require.NoError(t, err)

	_, err = NewMergedReader(ra, rb)
	require.ErrorIs(t, err, bcf.ErrHeaderMismatch)
}
