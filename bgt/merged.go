package bgt

import (
	"fmt"
	"io"
	"strings"

	"github.com/druvus/bgt/encoding/bcf"
	"github.com/druvus/bgt/encoding/gtmatrix"
	"github.com/pkg/errors"
)

// groupInfoKey returns the "AC"/"AN" INFO key for group g (1-based), or the
// unsuffixed key for g == 0 (the whole-cohort total).
func groupInfoKey(base string, g int) string {
	if g == 0 {
		return base
	}
	return base + string(rune('0'+g))
}

// buildMergedHeader assembles the merged dataset's header: per-group AC/AN,
// END, GT, the symbolic ALT ids the merge path can emit, every contig from
// the first child (already checked equal across all children), and the
// concatenated sample list. AC/AN/END are declared Integer, not the
// Number=A,Type=String the original bgtm_prepare literally emits — a
// deliberate correction, since the values are written as integers.
func buildMergedHeader(first *bcf.Header, samples []string, numGroups int) *bcf.Header {
	h := bcf.NewHeader()
	h.DefineInfo("AC", bcf.ValueInt, bcf.NumberPerAlt, 0)
	h.DefineInfo("AN", bcf.ValueInt, bcf.NumberFixed, 1)
	for g := 1; g <= maxGroups; g++ {
		h.DefineInfo(groupInfoKey("AC", g), bcf.ValueInt, bcf.NumberPerAlt, 0)
		h.DefineInfo(groupInfoKey("AN", g), bcf.ValueInt, bcf.NumberFixed, 1)
	}
	h.DefineInfo("END", bcf.ValueInt, bcf.NumberFixed, 1)
	h.DefineFormat("GT", bcf.ValueInt, bcf.NumberFixed, 1)
	for rid := 0; ; rid++ {
		name, ok := first.ContigName(rid)
		if !ok {
			break
		}
		length, _ := first.ContigLength(rid)
		h.AddContig(name, length)
	}
	h.Samples = append([]string(nil), samples...)
	var alts strings.Builder
	for _, id := range []string{"M", "DEL", "DUP", "INS", "INV", "DUP:TANDEM", "DEL:ME", "INS:ME"} {
		fmt.Fprintf(&alts, "##ALT=<ID=%s>\n", id)
	}
	text := h.String()
	chromLine := strings.Index(text, "#CHROM")
	h.Text = text[:chromLine] + alts.String() + text[chromLine:]
	return h
}

// mergeSlot buffers one child's next not-yet-consumed record.
type mergeSlot struct {
	rec *bcf.Record
	gen []gtmatrix.Genotype
	eof bool
}

// MergedReader performs a synchronized k-way merge over several
// SingleFileReaders opened on datasets sharing the same contig dictionary,
// aggregating per-site allele counts (overall and per sample group) and
// re-encoding genotypes into a single concatenated FORMAT/GT column.
// Directly ported from original_source/bgt.c's bgtm_t reader.
type MergedReader struct {
	children  []*SingleFileReader
	numGroups int
	noGT      bool
	filter    func(*bcf.Record) bool

	header        *bcf.Header
	outSamples    []string
	outGroupMasks []uint8
	slots         []mergeSlot
	prepared      bool
}

// NewMergedReader builds a merger over children, which must already be open
// on datasets declaring identical contigs (checked pairwise via
// bcf.Header.Equal).
func NewMergedReader(children ...*SingleFileReader) (*MergedReader, error) {
	if len(children) == 0 {
		return nil, errors.New("bgt: MergedReader requires at least one child reader")
	}
	first := children[0].file.Header
	for _, c := range children[1:] {
		if err := first.Equal(c.file.Header); err != nil {
			return nil, err
		}
	}
	return &MergedReader{children: children, slots: make([]mergeSlot, len(children))}, nil
}

// AddGroup adds a sample group, identically, to every child reader.
func (m *MergedReader) AddGroup(selector string) error {
	for _, c := range m.children {
		if err := c.AddGroup(selector); err != nil {
			return err
		}
	}
	m.numGroups++
	m.prepared = false
	return nil
}

// SetNoGT controls whether Next attaches a merged GT FORMAT field (true
// skips it, for allele-count-only queries).
func (m *MergedReader) SetNoGT(noGT bool) { m.noGT = noGT }

// SetFilter installs a predicate over the fully built merged record
// (AC/AN/group AC/AN already attached as INFO); Next discards and retries
// any record the filter returns true for.
func (m *MergedReader) SetFilter(filter func(*bcf.Record) bool) { m.filter = filter }

// Header returns the merged output header. Valid after Prepare.
func (m *MergedReader) Header() *bcf.Header { return m.header }

// Prepare finalizes every child's output sample set and builds the merged
// header. Idempotent; Next calls it automatically if needed.
func (m *MergedReader) Prepare() error {
	var samples []string
	var masks []uint8
	for _, c := range m.children {
		if err := c.Prepare(); err != nil {
			return err
		}
		samples = append(samples, c.OutSamples()...)
		masks = append(masks, c.OutGroupMasks()...)
	}
	m.outSamples = samples
	m.outGroupMasks = masks
	m.header = buildMergedHeader(m.children[0].file.Header, samples, m.numGroups)
	m.prepared = true
	return nil
}

func siteLess(a, b *bcf.Record) bool {
	if a.RID != b.RID {
		return a.RID < b.RID
	}
	if a.Pos != b.Pos {
		return a.Pos < b.Pos
	}
	if a.Rlen != b.Rlen {
		return a.Rlen < b.Rlen
	}
	if a.Alleles[0] != b.Alleles[0] {
		return a.Alleles[0] < b.Alleles[0]
	}
	return alleleAt(a, 1) < alleleAt(b, 1)
}

func siteEqualStrict(a, b *bcf.Record) bool {
	return a.RID == b.RID && a.Pos == b.Pos && a.Rlen == b.Rlen &&
		a.Alleles[0] == b.Alleles[0] && alleleAt(a, 1) == alleleAt(b, 1)
}

// siteEqualLoose groups by position and REF only, the looser equality the
// max-allele scan uses: ALTs may differ within a group.
func siteEqualLoose(a, b *bcf.Record) bool {
	return a.RID == b.RID && a.Pos == b.Pos && a.Alleles[0] == b.Alleles[0]
}

func alleleAt(r *bcf.Record, i int) string {
	if i < len(r.Alleles) {
		return r.Alleles[i]
	}
	return ""
}

// Next advances every child that needs it, merges the smallest buffered
// site across all of them, aggregates allele counts, and returns the merged
// record and its genotypes. Returns io.EOF once every child is exhausted.
func (m *MergedReader) Next() (*bcf.Record, []gtmatrix.Genotype, error) {
	if !m.prepared {
		if err := m.Prepare(); err != nil {
			return nil, nil, err
		}
	}
	for {
		rec, gen, err := m.next()
		if err != nil {
			return nil, nil, err
		}
		if m.filter != nil && m.filter(rec) {
			continue
		}
		return rec, gen, nil
	}
}

func (m *MergedReader) next() (*bcf.Record, []gtmatrix.Genotype, error) {
	anyBuffered := false
	for i := range m.slots {
		slot := &m.slots[i]
		if slot.rec != nil {
			anyBuffered = true
			continue
		}
		if slot.eof {
			continue
		}
		rec, gen, err := m.children[i].Next()
		if err == io.EOF {
			slot.eof = true
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		slot.rec, slot.gen = rec, gen
		anyBuffered = true
	}
	if !anyBuffered {
		return nil, nil, io.EOF
	}

	var b0 *bcf.Record
	for i := range m.slots {
		if rec := m.slots[i].rec; rec != nil && (b0 == nil || siteLess(rec, b0)) {
			b0 = rec
		}
	}
	maxAllele := 0
	for i := range m.slots {
		if rec := m.slots[i].rec; rec != nil && siteEqualLoose(rec, b0) && len(rec.Alleles) > maxAllele {
			maxAllele = len(rec.Alleles)
		}
	}

	ref := b0.Alleles[0]
	alleles := []string{ref, alleleAt(b0, 1)}
	if maxAllele > 2 {
		alleles = append(alleles, "<M>")
	}
	out := bcf.NewRecord(m.header)
	out.RID, out.Pos, out.Rlen, out.Qual = b0.RID, b0.Pos, b0.Rlen, b0.Qual
	out.ID = "."
	out.Alleles = alleles
	if int(out.Rlen) != len(ref) {
		out.SetInfoInts("END", []int32{out.Pos + out.Rlen})
	}

	var allGenotypes []gtmatrix.Genotype
	for i, child := range m.children {
		slot := &m.slots[i]
		nHap := 2 * len(child.outSamples)
		if slot.rec != nil && siteEqualStrict(slot.rec, b0) {
			allGenotypes = append(allGenotypes, slot.gen...)
			slot.rec, slot.gen = nil, nil
		} else {
			for k := 0; k < nHap; k++ {
				allGenotypes = append(allGenotypes, gtmatrix.GTMissing)
			}
		}
	}

	var cnt [4]int32
	for _, g := range allGenotypes {
		cnt[g]++
	}
	an := cnt[0] + cnt[1] + cnt[3]
	ac := []int32{cnt[1]}
	if len(alleles)-1 >= 2 {
		ac = append(ac, cnt[3])
	}
	out.SetInfoInts("AN", []int32{an})
	out.SetInfoInts("AC", ac)

	if m.numGroups > 1 {
		gcnt := accumulateGroups(allGenotypes, m.outGroupMasks, m.numGroups)
		for g := 1; g <= m.numGroups; g++ {
			c := gcnt[g-1]
			gan := c[0] + c[1] + c[3]
			gac := []int32{c[1]}
			if len(alleles)-1 >= 2 {
				gac = append(gac, c[3])
			}
			out.SetInfoInts(groupInfoKey("AN", g), []int32{gan})
			out.SetInfoInts(groupInfoKey("AC", g), gac)
		}
	}

	if !m.noGT {
		data := make([]byte, len(allGenotypes))
		for i, g := range allGenotypes {
			data[i] = byte(g) << 1
		}
		out.Format = []bcf.FormatValue{{Key: "GT", Type: bcf.ValueInt, Width: 1, Size: 1, Data: data}}
	}

	return out, allGenotypes, nil
}

// accumulateGroups tallies, per group g and genotype code k, the haplotype
// count across samples with group g's bit set in groupMasks (indexed per
// sample, so haplotype i belongs to sample i/2). Dispatches between two
// strategies that must agree (see merged_test.go): a direct per-haplotype
// scan, cheaper for small haplotype counts, and a 256-bucket table keyed by
// group mask, cheaper when there are many.
func accumulateGroups(genotypes []gtmatrix.Genotype, groupMasks []uint8, numGroups int) [][4]int32 {
	if len(genotypes) < 1024 {
		return accumulateGroupsDirect(genotypes, groupMasks, numGroups)
	}
	return accumulateGroupsBucketed(genotypes, groupMasks, numGroups)
}

func accumulateGroupsDirect(genotypes []gtmatrix.Genotype, groupMasks []uint8, numGroups int) [][4]int32 {
	gcnt := make([][4]int32, numGroups)
	for i, g := range genotypes {
		mask := groupMasks[i/2]
		if mask == 0 {
			continue
		}
		for j := 0; j < numGroups; j++ {
			if mask&(1<<uint(j)) != 0 {
				gcnt[j][g]++
			}
		}
	}
	return gcnt
}

func accumulateGroupsBucketed(genotypes []gtmatrix.Genotype, groupMasks []uint8, numGroups int) [][4]int32 {
	var buckets [256][4]int32
	for i, g := range genotypes {
		mask := groupMasks[i/2]
		buckets[mask][g]++
	}
	gcnt := make([][4]int32, numGroups)
	for mask := 0; mask < 256; mask++ {
		for j := 0; j < numGroups; j++ {
			if mask&(1<<uint(j)) != 0 {
				for k := 0; k < 4; k++ {
					gcnt[j][k] += buckets[mask][k]
				}
			}
		}
	}
	return gcnt
}

// Close closes every child reader.
func (m *MergedReader) Close() error {
	var firstErr error
	for _, c := range m.children {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
