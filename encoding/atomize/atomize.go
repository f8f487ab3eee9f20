package atomize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	farm "github.com/dgryski/go-farm"
	"github.com/pkg/errors"

	"github.com/druvus/bgt/encoding/bcf"
)

// ErrInvalidCigar is returned for any CIGAR that cannot be walked: an
// operator outside {M,=,X,I,D}, an I/D anchored at x=0 or y=0, or an INFO
// CIGAR with fewer segments than non-symbolic ALTs.
var ErrInvalidCigar = errors.New("atomize: invalid cigar")

// ErrNoGenotype is returned when the record carries no GT FORMAT field;
// atomization has nothing to rewrite without one.
var ErrNoGenotype = errors.New("atomize: record has no GT format field")

// Code is the rewritten per-haplotype genotype relative to one atom.
type Code uint8

const (
	CodeRef     Code = 0
	CodeAlt     Code = 1
	CodeMissing Code = 2
	CodeOverlap Code = 3
)

// Atom is one canonical single-difference site, after dedup and genotype
// rewrite against its representative run.
type Atom struct {
	RID  int32
	Pos  int32
	Rlen int32
	Ref  string
	Alt  string
	ANum int // the source record's ALT index this atom was first observed on

	// GT holds one Code per sample haplotype, NSample*ploidy long, in the
	// same (sample, haplotype) order as the source record's GT field.
	GT []byte
}

type rawAtom struct {
	rid  int32
	pos  int32
	rlen int32
	ref  string
	alt  string
	anum int
}

func (a rawAtom) key() string {
	return fmt.Sprintf("%d:%d:%d:%s:%s", a.rid, a.pos, a.rlen, a.ref, a.alt)
}

func (a rawAtom) hash() uint64 {
	return farm.Hash64([]byte(a.key()))
}

// Atomize decomposes r (already carrying n_allele >= 2) into a sorted,
// deduplicated run of atoms with rewritten per-sample genotypes. r must be
// unpacked at least to UnpackALL; Atomize unpacks it itself if needed.
func Atomize(h *bcf.Header, r *bcf.Record) ([]Atom, error) {
	if err := r.Unpack(bcf.UnpackALL); err != nil {
		return nil, errors.Wrap(err, "atomize: unpack record")
	}
	gt, ok := findFormat(r, "GT")
	if !ok {
		return nil, ErrNoGenotype
	}
	raw, err := decompose(r)
	if err != nil {
		return nil, err
	}
	return genAt(r, gt, raw)
}

func findFormat(r *bcf.Record, key string) (bcf.FormatValue, bool) {
	for _, f := range r.Format {
		if f.Key == key {
			return f, true
		}
	}
	return bcf.FormatValue{}, false
}

// decompose walks every non-REF allele's CIGAR (from INFO CIGAR if present,
// else synthesized) into per-position atoms, per §4.4 steps 1-3.
func decompose(r *bcf.Record) ([]rawAtom, error) {
	ref := r.Alleles[0]

	var cigarSegs []string
	hasCigar := false
	if cigarText, ok := r.InfoString("CIGAR"); ok {
		cigarSegs = strings.Split(cigarText, ",")
		hasCigar = true
	}

	var atoms []rawAtom
	segIdx := 0
	for i := 1; i < len(r.Alleles); i++ {
		alt := r.Alleles[i]
		symbolic := int(r.Rlen) != len(ref) || isSymbolicAllele(alt)
		if symbolic {
			atoms = append(atoms, rawAtom{rid: r.RID, pos: r.Pos, rlen: r.Rlen, ref: ref, alt: alt, anum: i})
			continue
		}

		var cigar string
		switch {
		case hasCigar:
			if segIdx >= len(cigarSegs) {
				return nil, errors.Wrap(ErrInvalidCigar, "fewer CIGAR segments than non-symbolic ALTs")
			}
			cigar = cigarSegs[segIdx]
			segIdx++
		case len(alt) == len(ref):
			cigar = fmt.Sprintf("%dM", len(ref))
		default:
			cigar = syntheticIndelCigar(ref, alt)
		}

		var err error
		atoms, err = walkCigar(atoms, cigar, r.RID, r.Pos, ref, alt, i)
		if err != nil {
			return nil, err
		}
	}
	return atoms, nil
}

func isSymbolicAllele(alt string) bool {
	return len(alt) >= 2 && strings.HasPrefix(alt, "<") && strings.HasSuffix(alt, ">")
}

// syntheticIndelCigar builds the canonical anchored CIGAR for a size-changing
// non-symbolic allele: one anchor match base, the indel itself, and whatever
// matched bases remain.
func syntheticIndelCigar(ref, alt string) string {
	delta := len(alt) - len(ref)
	var sb strings.Builder
	sb.WriteString("1M")
	var rest int
	if delta > 0 {
		fmt.Fprintf(&sb, "%dI", delta)
		rest = len(ref) - 1
	} else {
		fmt.Fprintf(&sb, "%dD", -delta)
		rest = len(alt) - 1
	}
	if rest > 0 {
		fmt.Fprintf(&sb, "%dM", rest)
	}
	return sb.String()
}

type cigarOp struct {
	length int
	op     byte
}

func parseCigar(s string) ([]cigarOp, error) {
	var ops []cigarOp
	i := 0
	for i < len(s) {
		j := i
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		if j == i {
			return nil, errors.Wrapf(ErrInvalidCigar, "missing length in %q", s)
		}
		length, err := strconv.Atoi(s[i:j])
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidCigar, "bad length in %q", s)
		}
		if j >= len(s) {
			return nil, errors.Wrapf(ErrInvalidCigar, "missing operator in %q", s)
		}
		op := s[j]
		switch op {
		case 'M', '=', 'X', 'I', 'D':
		default:
			return nil, errors.Wrapf(ErrInvalidCigar, "operator %q outside {M,=,X,I,D}", string(op))
		}
		ops = append(ops, cigarOp{length: length, op: op})
		i = j + 1
	}
	return ops, nil
}

// walkCigar advances the two REF/ALT cursors per op, emitting an atom for
// every observed difference, per §4.4 step 3.
func walkCigar(atoms []rawAtom, cigar string, rid int32, pos int32, ref, alt string, anum int) ([]rawAtom, error) {
	ops, err := parseCigar(cigar)
	if err != nil {
		return nil, err
	}
	x, y := 0, 0
	for _, op := range ops {
		l := op.length
		switch op.op {
		case 'M', '=', 'X':
			for j := 0; j < l; j++ {
				if ref[x+j] != alt[y+j] {
					atoms = append(atoms, rawAtom{
						rid: rid, pos: pos + int32(x+j), rlen: 1,
						ref: string(ref[x+j]), alt: string(alt[y+j]), anum: anum,
					})
				}
			}
			x += l
			y += l
		case 'I':
			if x == 0 || y == 0 {
				return nil, errors.Wrap(ErrInvalidCigar, "insertion anchored at x=0 or y=0")
			}
			atoms = append(atoms, rawAtom{
				rid: rid, pos: pos + int32(x-1), rlen: 1,
				ref: string(ref[x-1]), alt: alt[y-1 : y-1+l+1], anum: anum,
			})
			y += l
		case 'D':
			if x == 0 || y == 0 {
				return nil, errors.Wrap(ErrInvalidCigar, "deletion anchored at x=0 or y=0")
			}
			atoms = append(atoms, rawAtom{
				rid: rid, pos: pos + int32(x-1), rlen: int32(l + 1),
				ref: ref[x-1 : x-1+l+1], alt: string(ref[x-1]), anum: anum,
			})
			x += l
		}
	}
	return atoms, nil
}

// genAt sorts, dedups, and rewrites genotypes against the raw atom run from
// a single record, mirroring bcf_atom_gen_at.
func genAt(r *bcf.Record, gt bcf.FormatValue, raw []rawAtom) ([]Atom, error) {
	n := len(raw)
	if n == 0 {
		return nil, nil
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	hashes := make([]uint64, n)
	for i, a := range raw {
		hashes[i] = a.hash()
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return atomLess(raw[idx[i]], raw[idx[j]])
	})

	// eq[k] is the index (into idx) of k's run representative; two entries
	// share a run iff their hash and fields both match their neighbor, the
	// hash compare short-circuiting the common non-duplicate case before
	// falling back to the authoritative field comparison.
	eq := make([]int, n)
	eq[0] = 0
	for k := 1; k < n; k++ {
		a, b := raw[idx[k-1]], raw[idx[k]]
		if hashes[idx[k-1]] == hashes[idx[k]] && atomEqual(a, b) {
			eq[k] = eq[k-1]
		} else {
			eq[k] = k
		}
	}

	ploidy := gt.Size
	nHap := r.NSample * ploidy
	out := make([]Atom, 0, n)
	tr := make([]byte, len(r.Alleles))
	for k := 0; k < n; k++ {
		if eq[k] != k {
			continue // duplicate; folded into its representative
		}
		ak := raw[idx[k]]
		for i := range tr {
			tr[i] = 0
		}
		for i := 0; i < n; i++ {
			ai := raw[idx[i]]
			if eq[i] == eq[k] {
				tr[ai.anum] = byte(CodeAlt)
			} else if ai.pos < ak.pos+ak.rlen && ak.pos < ai.pos+ai.rlen {
				tr[ai.anum] = byte(CodeOverlap)
			}
		}

		codes := make([]byte, nHap)
		for h := 0; h < nHap; h++ {
			c := gtAlleleCode(gt, h)
			if c < 0 {
				codes[h] = byte(CodeMissing)
			} else {
				codes[h] = tr[c]
			}
		}
		out = append(out, Atom{
			RID: ak.rid, Pos: ak.pos, Rlen: ak.rlen, Ref: ak.ref, Alt: ak.alt, ANum: ak.anum,
			GT: codes,
		})
	}
	return out, nil
}

// gtAlleleCode decodes haplotype h's allele index from a GT FORMAT field's
// raw bytes, per the standard (allele+1)<<1|phased encoding; a negative
// result means the haplotype is missing.
func gtAlleleCode(gt bcf.FormatValue, h int) int {
	var raw int32
	switch gt.Width {
	case 1:
		raw = int32(int8(gt.Data[h]))
	case 2:
		lo, hi := gt.Data[2*h], gt.Data[2*h+1]
		raw = int32(int16(uint16(lo) | uint16(hi)<<8))
	default:
		b := gt.Data[4*h : 4*h+4]
		raw = int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
	}
	return int(raw>>1) - 1
}

func atomLess(a, b rawAtom) bool {
	if a.rid != b.rid {
		return a.rid < b.rid
	}
	if a.pos != b.pos {
		return a.pos < b.pos
	}
	if a.rlen != b.rlen {
		return a.rlen < b.rlen
	}
	if a.ref != b.ref {
		return a.ref < b.ref
	}
	return a.alt < b.alt
}

func atomEqual(a, b rawAtom) bool {
	return a.rid == b.rid && a.pos == b.pos && a.rlen == b.rlen && a.ref == b.ref && a.alt == b.alt
}
