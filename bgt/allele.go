package bgt

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrBadAlleleSyntax is returned by ParseAllele for input not matching the
// chr:pos:refpart:alt grammar.
var ErrBadAlleleSyntax = errors.New("bgt: bad allele spec syntax")

// AlleleSpec is the atomic-allele shorthand `chr:pos:refpart:alt`, where
// refpart is either a REF literal or a bare REF length. Pos is 0-based;
// Rlen is REF's length after any trimming. Directly ported from
// original_source/bgt.c's bgt_al_parse.
type AlleleSpec struct {
	Chr  string
	Pos  int32
	Rlen int32
	Alt  string
}

// ParseAllele parses s as `chr:pos:refpart:alt`. pos is 1-based in the input
// and converted to 0-based. refpart is a decimal REF length when it's all
// digits, or a literal REF string when it's all letters; anything else is a
// syntax error. A symbolic ALT (starting with "<") passes through
// untouched. Otherwise, any prefix of alt that matches ref (case-
// insensitively) is trimmed from the front (advancing pos, shrinking rlen
// to match), and any further common suffix is trimmed from the back.
func ParseAllele(s string) (AlleleSpec, error) {
	chrEnd := strings.IndexByte(s, ':')
	if chrEnd <= 0 {
		return AlleleSpec{}, ErrBadAlleleSyntax
	}
	chr := s[:chrEnd]
	rest := s[chrEnd+1:]

	posEnd := strings.IndexByte(rest, ':')
	if posEnd < 0 {
		return AlleleSpec{}, ErrBadAlleleSyntax
	}
	pos1, err := strconv.ParseInt(rest[:posEnd], 10, 32)
	if err != nil || pos1 <= 0 {
		return AlleleSpec{}, ErrBadAlleleSyntax
	}
	pos := int32(pos1 - 1)
	rest = rest[posEnd+1:]

	refEnd := strings.IndexByte(rest, ':')
	if refEnd < 0 {
		return AlleleSpec{}, ErrBadAlleleSyntax
	}
	refPart := rest[:refEnd]
	alt := rest[refEnd+1:]

	var ref string
	var rlen int32
	switch {
	case refPart != "" && isAllDigits(refPart):
		n, err := strconv.ParseInt(refPart, 10, 32)
		if err != nil {
			return AlleleSpec{}, ErrBadAlleleSyntax
		}
		rlen = int32(n)
	case refPart != "" && isAllAlpha(refPart):
		ref = refPart
		rlen = int32(len(ref))
	default:
		return AlleleSpec{}, ErrBadAlleleSyntax
	}

	if strings.HasPrefix(alt, "<") {
		return AlleleSpec{Chr: chr, Pos: pos, Rlen: rlen, Alt: alt}, nil
	}

	off := 0
	if ref != "" {
		for off < len(alt) && off < len(ref) && isAlphaByte(alt[off]) && toUpperByte(alt[off]) == toUpperByte(ref[off]) {
			off++
		}
	}
	pos += int32(off)
	rlen -= int32(off)
	alt = alt[off:]
	ref = ref[off:]

	if ref != "" {
		lAlt := len(alt)
		minL := lAlt
		if int(rlen) < minL {
			minL = int(rlen)
		}
		roff := 0
		for roff < minL {
			ri := int(rlen) - 1 - roff
			ai := lAlt - 1 - roff
			if !isAlphaByte(ref[ri]) || toUpperByte(ref[ri]) != toUpperByte(alt[ai]) {
				break
			}
			roff++
		}
		rlen -= int32(roff)
		alt = alt[:lAlt-roff]
	}

	return AlleleSpec{Chr: chr, Pos: pos, Rlen: rlen, Alt: alt}, nil
}

func isAllDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isAllAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isAlphaByte(s[i]) {
			return false
		}
	}
	return true
}

func isAlphaByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func toUpperByte(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 32
	}
	return b
}
