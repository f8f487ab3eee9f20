package bgt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlleleSymbolic(t *testing.T) {
	a, err := ParseAllele("chr1:100:5:<DEL>")
	require.NoError(t, err)
	assert.Equal(t, AlleleSpec{Chr: "chr1", Pos: 99, Rlen: 5, Alt: "<DEL>"}, a)
}

func TestParseAlleleDigitRefpartNoTrim(t *testing.T) {
	// A digit refpart carries no literal REF, so there is nothing to trim
	// against: pos and rlen pass through unchanged.
	a, err := ParseAllele("chr2:50:1:G")
	require.NoError(t, err)
	assert.Equal(t, AlleleSpec{Chr: "chr2", Pos: 49, Rlen: 1, Alt: "G"}, a)
}

func TestParseAlleleLeftTrim(t *testing.T) {
	// ref="AT", alt="ATG": alt's first two bases match ref entirely, so both
	// are trimmed, advancing pos by 2 and leaving alt "G", rlen 0.
	a, err := ParseAllele("chr1:10:AT:ATG")
	require.NoError(t, err)
	assert.Equal(t, AlleleSpec{Chr: "chr1", Pos: 11, Rlen: 0, Alt: "G"}, a)
}

func TestParseAlleleLeftAndRightTrim(t *testing.T) {
	// ref="CAT", alt="CGT": left trim matches "C" (1 char, then A != G
	// breaks), leaving ref="AT" rlen=2, alt="GT". Right trim then matches the
	// trailing "T", leaving alt="G", rlen=1.
	a, err := ParseAllele("chr1:5:CAT:CGT")
	require.NoError(t, err)
	assert.Equal(t, AlleleSpec{Chr: "chr1", Pos: 5, Rlen: 1, Alt: "G"}, a)
}

func TestParseAlleleCaseInsensitiveTrim(t *testing.T) {
	a, err := ParseAllele("chr1:1:at:atg")
	require.NoError(t, err)
	assert.Equal(t, AlleleSpec{Chr: "chr1", Pos: 2, Rlen: 0, Alt: "g"}, a)
}

func TestParseAlleleNoCommonPrefix(t *testing.T) {
	a, err := ParseAllele("chr1:1:A:G")
	require.NoError(t, err)
	assert.Equal(t, AlleleSpec{Chr: "chr1", Pos: 0, Rlen: 1, Alt: "G"}, a)
}

func TestParseAlleleSyntaxErrors(t *testing.T) {
	cases := []string{
		"",
		"chr1",
		"chr1:10",
		"chr1:10:A",
		"chr1:0:A:G",
		"chr1:-1:A:G",
		":10:A:G",
		"chr1:x:A:G",
		"chr1:10:3x:G",
	}
	for _, s := range cases {
		_, err := ParseAllele(s)
		assert.Error(t, err, "expected error for %q", s)
	}
}
