package gtmatrix

import (
	"encoding/binary"
	"io"
	"math/bits"

	"github.com/pkg/errors"
	"golang.org/x/sys/cpu"
)

// hasFastPopcount reports whether the host CPU exposes a hardware popcount
// path, gating countSetBits between a word-at-a-time loop (cheap on a
// machine with a real POPCNT/VCNT instruction backing bits.OnesCount64) and
// a byte-at-a-time fallback, the same arch-gated-fast-path-vs-portable-loop
// shape as the original bgt_al_parse/bgtm_read_core callers used for SIMD
// popcount when folding bit-plane bytes into an allele tally.
var hasFastPopcount = cpu.X86.HasPOPCNT || cpu.ARM64.HasASIMD

// countSetBits returns the number of set bits across data.
func countSetBits(data []byte) int {
	if hasFastPopcount {
		return countSetBitsWords(data)
	}
	return countSetBitsBytes(data)
}

func countSetBitsWords(data []byte) int {
	n := 0
	i := 0
	for ; i+8 <= len(data); i += 8 {
		n += bits.OnesCount64(binary.LittleEndian.Uint64(data[i : i+8]))
	}
	for ; i < len(data); i++ {
		n += bits.OnesCount8(data[i])
	}
	return n
}

func countSetBitsBytes(data []byte) int {
	n := 0
	for _, b := range data {
		n += bits.OnesCount8(b)
	}
	return n
}

// PlaneAlleleCounts reads the current row's raw bit-planes and folds them
// directly into an alt allele count and a missing count, without decoding
// each haplotype into a Genotype first: plane0's bit is set exactly for
// GTAlt1 and GTAlt2 (both have the low bit of their code set), so its
// popcount is the row's total alt count; the missing count is the popcount
// of plane1 with plane0's bits cleared (GTMissing is the only code with
// bit1 set and bit0 clear). It always covers every haplotype the row has,
// ignoring any Subset narrowing in effect — callers wanting a group- or
// sample-subset count should use Read and tally the decoded Genotypes
// instead. Like Read, it advances to the next row.
func (m *Matrix) PlaneAlleleCounts() (altCount, missingCount int, err error) {
	if m.row < 0 {
		return 0, 0, errors.New("gtmatrix: PlaneAlleleCounts called before Seek")
	}
	n := rowByteLen(m.numHaplotypes)
	plane0 := make([]byte, n)
	plane1 := make([]byte, n)
	if _, err := io.ReadFull(m.r, plane0); err != nil {
		return 0, 0, errors.Wrap(ErrTruncated, err.Error())
	}
	if _, err := io.ReadFull(m.r, plane1); err != nil {
		return 0, 0, errors.Wrap(ErrTruncated, err.Error())
	}
	m.row++

	altCount = countSetBits(plane0)
	missing := make([]byte, n)
	for i := range missing {
		missing[i] = plane1[i] &^ plane0[i]
	}
	missingCount = countSetBits(missing)
	return altCount, missingCount, nil
}
