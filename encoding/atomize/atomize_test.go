package atomize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/druvus/bgt/encoding/bcf"
)

// buildRecord constructs a two-allele-or-more record with a diploid GT
// FORMAT field, ready for Atomize; genotypes are given as per-haplotype
// allele indices (0 = ref, 1..n = ALT, -1 = missing).
func buildRecord(h *bcf.Header, pos int32, alleles []string, cigar string, haplotypes [][2]int) *bcf.Record {
	h.DefineFormat("GT", bcf.ValueInt, bcf.NumberFixed, 2)
	if cigar != "" {
		h.DefineInfo("CIGAR", bcf.ValueString, bcf.NumberFixed, 1)
	}

	shared := bcf.NewBuffer()
	bcf.EncodeString(shared, "")
	for _, a := range alleles {
		bcf.EncodeString(shared, a)
	}
	bcf.EncodeInts(shared, nil) // FILTER
	if cigar != "" {
		id, _ := h.IDByName("CIGAR")
		bcf.EncodeInt1(shared, int32(id))
		bcf.EncodeString(shared, cigar)
	}

	indiv := bcf.NewBuffer()
	gtID, _ := h.IDByName("GT")
	bcf.EncodeInt1(indiv, int32(gtID))
	bcf.EncodeSize(indiv, 2, bcf.TypeInt8) // ploidy 2
	for _, hap := range haplotypes {
		for _, allele := range hap {
			indiv.PutByte(byte(int8((allele+1)<<1 | 0)))
		}
	}

	nInfo := 0
	if cigar != "" {
		nInfo = 1
	}
	r := bcf.NewRecord(h)
	rlen := int32(len(alleles[0]))
	r.Decode(0, pos, rlen, 0, len(alleles), nInfo, 1, len(haplotypes), shared.Bytes(), indiv.Bytes())
	return r
}

func TestAtomizeSNV(t *testing.T) {
	h := bcf.NewHeader()
	h.AddContig("chr1", 1000)
	r := buildRecord(h, 100, []string{"ACG", "ATG"}, "", [][2]int{{0, 1}})

	atoms, err := Atomize(h, r)
	require.NoError(t, err)
	require.Len(t, atoms, 1)
	require.EqualValues(t, 101, atoms[0].Pos)
	require.Equal(t, "C", atoms[0].Ref)
	require.Equal(t, "T", atoms[0].Alt)
	require.EqualValues(t, 1, atoms[0].Rlen)
}

func TestAtomizeAnchoredInsertion(t *testing.T) {
	h := bcf.NewHeader()
	h.AddContig("chr1", 1000)
	r := buildRecord(h, 50, []string{"A", "ACGT"}, "", [][2]int{{0, 1}})

	atoms, err := Atomize(h, r)
	require.NoError(t, err)
	require.Len(t, atoms, 1)
	require.EqualValues(t, 50, atoms[0].Pos)
	require.Equal(t, "A", atoms[0].Ref)
	require.Equal(t, "ACGT", atoms[0].Alt)
	require.EqualValues(t, 1, atoms[0].Rlen)
}

func TestAtomizeAnchoredDeletion(t *testing.T) {
	h := bcf.NewHeader()
	h.AddContig("chr1", 1000)
	r := buildRecord(h, 10, []string{"ACGT", "A"}, "", [][2]int{{0, 1}})

	atoms, err := Atomize(h, r)
	require.NoError(t, err)
	require.Len(t, atoms, 1)
	require.EqualValues(t, 10, atoms[0].Pos)
	require.Equal(t, "ACGT", atoms[0].Ref)
	require.Equal(t, "A", atoms[0].Alt)
	require.EqualValues(t, 4, atoms[0].Rlen)
}

func TestAtomizeMultiAltDedup(t *testing.T) {
	h := bcf.NewHeader()
	h.AddContig("chr1", 1000)
	// ALT "C,C": haplotype pair (1,2) means one copy of each ALT index.
	r := buildRecord(h, 7, []string{"A", "C", "C"}, "", [][2]int{{1, 2}})

	atoms, err := Atomize(h, r)
	require.NoError(t, err)
	require.Len(t, atoms, 1)
	require.Equal(t, "A", atoms[0].Ref)
	require.Equal(t, "C", atoms[0].Alt)
	require.Equal(t, []byte{byte(CodeAlt), byte(CodeAlt)}, atoms[0].GT)
}

func TestAtomizeSymbolicAllelePassthrough(t *testing.T) {
	h := bcf.NewHeader()
	h.AddContig("chr1", 1000)
	r := buildRecord(h, 5, []string{"A", "<DEL>"}, "", [][2]int{{0, 1}})
	r.Rlen = 10 // rlen != len(REF) forces the symbolic path even without <>

	atoms, err := Atomize(h, r)
	require.NoError(t, err)
	require.Len(t, atoms, 1)
	require.Equal(t, "A", atoms[0].Ref)
	require.Equal(t, "<DEL>", atoms[0].Alt)
	require.EqualValues(t, 10, atoms[0].Rlen)
}

func TestAtomizeMissingHaplotype(t *testing.T) {
	h := bcf.NewHeader()
	h.AddContig("chr1", 1000)
	r := buildRecord(h, 100, []string{"A", "T"}, "", [][2]int{{-1, 1}})

	atoms, err := Atomize(h, r)
	require.NoError(t, err)
	require.Len(t, atoms, 1)
	require.Equal(t, []byte{byte(CodeMissing), byte(CodeAlt)}, atoms[0].GT)
}

func TestAtomizeOverlapCode(t *testing.T) {
	h := bcf.NewHeader()
	h.AddContig("chr1", 1000)
	// REF=ACG, ALT1=TCG (SNV at pos+0), ALT2=AGG (SNV at pos+1): the two
	// resulting atoms occupy disjoint reference positions, so neither
	// should observe the other as an overlap; confirm the translation
	// table still marks the correct ALT index alt and leaves the other 0.
	r := buildRecord(h, 0, []string{"ACG", "TCG", "AGG"}, "", [][2]int{{1, 2}})

	atoms, err := Atomize(h, r)
	require.NoError(t, err)
	require.Len(t, atoms, 2)
	// atoms[0] is the ALT1 difference (pos 0): haplotype 0 (ALT1 carrier)
	// reads alt, haplotype 1 (ALT2 carrier) reads ref since the two atoms
	// don't overlap on the reference.
	require.EqualValues(t, 0, atoms[0].Pos)
	require.Equal(t, []byte{byte(CodeAlt), byte(CodeRef)}, atoms[0].GT)
	require.EqualValues(t, 1, atoms[1].Pos)
	require.Equal(t, []byte{byte(CodeRef), byte(CodeAlt)}, atoms[1].GT)
}

func TestAtomizeInvalidCigarOperator(t *testing.T) {
	h := bcf.NewHeader()
	h.AddContig("chr1", 1000)
	r := buildRecord(h, 100, []string{"AC", "TG"}, "2Z", [][2]int{{0, 1}})

	_, err := Atomize(h, r)
	require.ErrorIs(t, err, ErrInvalidCigar)
}

func TestAtomizeCigarTooFewSegments(t *testing.T) {
	h := bcf.NewHeader()
	h.AddContig("chr1", 1000)
	r := buildRecord(h, 100, []string{"AC", "TG", "AT"}, "2M", [][2]int{{0, 1}})

	_, err := Atomize(h, r)
	require.ErrorIs(t, err, ErrInvalidCigar)
}
