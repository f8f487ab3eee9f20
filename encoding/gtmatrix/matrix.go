// Package gtmatrix implements the bit-packed two-plane diploid genotype
// matrix: one row per site, two bits per haplotype split across two
// parallel bit-vectors ("planes"), addressed by row via a seekable,
// bgzf-backed column store.
package gtmatrix

import (
	"io"

	"github.com/biogo/hts/bgzf"
	"github.com/pkg/errors"
)

// ErrOutOfRange is returned by Seek for a row index outside [0, NumRows).
var ErrOutOfRange = errors.New("gtmatrix: row out of range")

// ErrTruncated is returned when a row's bit-planes cannot be fully read.
var ErrTruncated = errors.New("gtmatrix: truncated row")

// Genotype is the four-way decode of one haplotype's two-bit code, per the
// fixed plane-bit table: {00: ref, 01: alt1, 10: missing, 11: alt2}.
type Genotype uint8

const (
	GTRef     Genotype = 0
	GTAlt1    Genotype = 1
	GTMissing Genotype = 2
	GTAlt2    Genotype = 3
)

// DecodeGenotype combines one bit from each plane into a Genotype, matching
// the fixed decode table.
func DecodeGenotype(bit0, bit1 bool) Genotype {
	var g Genotype
	if bit0 {
		g |= 1
	}
	if bit1 {
		g |= 2
	}
	return g
}

// Planes returns the two bits that encode g.
func (g Genotype) Planes() (bit0, bit1 bool) {
	return g&1 != 0, g&2 != 0
}

// RowOffset is a row's virtual file offset into the bgzf stream, the
// column-store analog of a BAM index Chunk start.
type RowOffset = bgzf.Offset

// Index maps row number to the bgzf virtual offset of that row's bit-planes,
// giving O(1) seeks.
type Index struct {
	Offsets []RowOffset
}

// Matrix is a seekable reader over the two-bitplane-per-row column file.
// NumHaplotypes is fixed for the lifetime of a Matrix (2 * sample count);
// Subset narrows which haplotype columns Read returns without altering the
// underlying row layout.
type Matrix struct {
	r             *bgzf.Reader
	index         *Index
	numHaplotypes int
	row           int
	selected      []int // haplotype indices Read() returns; nil means all
}

// NewMatrix opens a genotype matrix for reading. numHaplotypes is twice the
// sample count (from the sample list of the dataset's .bcf header in
// bgt.File; tests construct this directly).
func NewMatrix(r io.Reader, index *Index, numHaplotypes int) (*Matrix, error) {
	br, err := bgzf.NewReader(r, 0)
	if err != nil {
		return nil, errors.Wrap(err, "gtmatrix: open bgzf stream")
	}
	return &Matrix{r: br, index: index, numHaplotypes: numHaplotypes, row: -1}, nil
}

// NumRows returns the row count, derived from the index.
func (m *Matrix) NumRows() int { return len(m.index.Offsets) }

// NumHaplotypes returns 2 * sample count (before any Subset).
func (m *Matrix) NumHaplotypes() int { return m.numHaplotypes }

func rowByteLen(numHaplotypes int) int {
	return (numHaplotypes + 7) / 8
}

// Seek positions the reader at row so the next Read returns that row's
// genotypes.
func (m *Matrix) Seek(row int) error {
	if row < 0 || row >= len(m.index.Offsets) {
		return ErrOutOfRange
	}
	if err := m.r.Seek(m.index.Offsets[row]); err != nil {
		return errors.Wrap(err, "gtmatrix: seek")
	}
	m.row = row
	return nil
}

// Subset restricts subsequent Read calls to the given haplotype indices, in
// the given order. Pass nil to reset to all haplotypes.
func (m *Matrix) Subset(haplotypeIndices []int) {
	m.selected = haplotypeIndices
}

// Read decodes the current row's genotypes (honoring any active Subset) and
// advances to the next row. The returned slice is only valid until the next
// call, matching the single-borrow contract of the rest of this module.
func (m *Matrix) Read() ([]Genotype, error) {
	if m.row < 0 {
		return nil, errors.New("gtmatrix: Read called before Seek")
	}
	n := rowByteLen(m.numHaplotypes)
	plane0 := make([]byte, n)
	plane1 := make([]byte, n)
	if _, err := io.ReadFull(m.r, plane0); err != nil {
		return nil, errors.Wrap(ErrTruncated, err.Error())
	}
	if _, err := io.ReadFull(m.r, plane1); err != nil {
		return nil, errors.Wrap(ErrTruncated, err.Error())
	}
	m.row++

	indices := m.selected
	if indices == nil {
		indices = identityIndices(m.numHaplotypes)
	}
	out := make([]Genotype, len(indices))
	for i, hap := range indices {
		b0 := plane0[hap/8]&(1<<uint(hap%8)) != 0
		b1 := plane1[hap/8]&(1<<uint(hap%8)) != 0
		out[i] = DecodeGenotype(b0, b1)
	}
	return out, nil
}

func identityIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Close releases the underlying bgzf stream.
func (m *Matrix) Close() error {
	return m.r.Close()
}

// EncodeRow packs a full row of genotypes (length must be numHaplotypes,
// unsubsetted) into two bit-planes, the inverse of Read's decode.
func EncodeRow(genotypes []Genotype) (plane0, plane1 []byte) {
	n := rowByteLen(len(genotypes))
	plane0 = make([]byte, n)
	plane1 = make([]byte, n)
	for hap, g := range genotypes {
		bit0, bit1 := g.Planes()
		if bit0 {
			plane0[hap/8] |= 1 << uint(hap%8)
		}
		if bit1 {
			plane1[hap/8] |= 1 << uint(hap%8)
		}
	}
	return plane0, plane1
}

// countingWriter tracks the number of bytes written so far, giving us the
// compressed-file offset a freshly flushed bgzf block starts at without
// needing the bgzf.Writer itself to expose one.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Writer appends rows to a bgzf-compressed column stream, recording each
// row's starting virtual offset into an Index as it goes. Every row is
// flushed as its own bgzf block, so a row's offset is always {File: n,
// Block: 0} for the byte count n observed immediately before writing it.
type Writer struct {
	w       *bgzf.Writer
	counted *countingWriter
	Index   Index
}

// NewWriter wraps w for row-at-a-time genotype matrix writing.
func NewWriter(w io.Writer) (*Writer, error) {
	counted := &countingWriter{w: w}
	bw := bgzf.NewWriter(counted, 1)
	return &Writer{w: bw, counted: counted}, nil
}

// WriteRow appends one row's genotypes.
func (wr *Writer) WriteRow(genotypes []Genotype) error {
	wr.Index.Offsets = append(wr.Index.Offsets, bgzf.Offset{File: wr.counted.n, Block: 0})
	plane0, plane1 := EncodeRow(genotypes)
	if _, err := wr.w.Write(plane0); err != nil {
		return err
	}
	if _, err := wr.w.Write(plane1); err != nil {
		return err
	}
	return wr.w.Flush()
}

// Close flushes and closes the underlying bgzf stream.
func (wr *Writer) Close() error {
	return wr.w.Close()
}
