package bgt

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/biogo/hts/bgzf"
	"github.com/druvus/bgt/encoding/bcf"
	"github.com/druvus/bgt/encoding/gtmatrix"
	"github.com/druvus/bgt/interval"
	"github.com/druvus/bgt/sampletable"
	grailfile "github.com/grailbio/base/file"
	"github.com/pkg/errors"
)

// ErrTooManyGroups is returned by AddGroup once eight groups are already
// registered: group membership is a bitmap of uint8, the same cap the
// original C merge code enforces via its group[] array width.
var ErrTooManyGroups = errors.New("bgt: too many groups (max 8)")

const maxGroups = 8

// readerMode controls how Next advances.
type readerMode int

const (
	modeFull readerMode = iota
	modeRegion
	modeEmpty
)

// SingleFileReader streams records from one dataset, narrowed to a subset of
// samples ("groups") and/or a genomic region. It owns its own .bcf and .pbf
// handles; a File's Header and Index are shared read-only with every reader
// opened on it.
type SingleFileReader struct {
	file *File
	ctx  context.Context

	bcfReader *bgzf.Reader
	bcfHandle grailfile.File
	pbfHandle grailfile.File
	matrix    *gtmatrix.Matrix

	groupMask []uint8
	numGroups int
	prepared  bool

	outSamples       []int
	haplotypeIndices []int
	outHeader        *bcf.Header

	mode      readerMode
	regionRID int32
	regionEnd int32

	filter        interval.Filter
	excludeFilter bool
}

func newSingleFileReader(f *File, bcfReader *bgzf.Reader, bcfHandle, pbfHandle grailfile.File, matrix *gtmatrix.Matrix) *SingleFileReader {
	return &SingleFileReader{
		file:      f,
		ctx:       context.Background(),
		bcfReader: bcfReader,
		bcfHandle: bcfHandle,
		pbfHandle: pbfHandle,
		matrix:    matrix,
		groupMask: make([]uint8, len(f.Header.Samples)),
		mode:      modeFull,
	}
}

// AddGroup registers a new sample group from a selector, one of:
//   - "?", meaning every sample in the file;
//   - a ":"-prefixed comma- or newline-separated inline sample list;
//   - a path to a file listing one sample name per line;
//   - a boolean sample-metadata expression evaluated against the dataset's
//     sample table (e.g. `cohort == "case"`).
//
// Each matching sample has this group's bit set in its membership mask.
// AddGroup must be called before Prepare.
func (r *SingleFileReader) AddGroup(selector string) error {
	if r.numGroups >= maxGroups {
		return ErrTooManyGroups
	}
	names, err := r.resolveSelector(selector)
	if err != nil {
		return err
	}
	bit := uint8(1) << uint(r.numGroups)
	for _, name := range names {
		idx, ok := r.file.Header.SampleIndex(name)
		if !ok {
			continue
		}
		r.groupMask[idx] |= bit
	}
	r.numGroups++
	r.prepared = false
	return nil
}

func (r *SingleFileReader) resolveSelector(selector string) ([]string, error) {
	switch {
	case selector == "?":
		return append([]string(nil), r.file.Header.Samples...), nil
	case strings.HasPrefix(selector, ":"):
		return splitSampleList(selector[1:]), nil
	default:
		if info, err := os.Stat(selector); err == nil && !info.IsDir() {
			return r.readSampleListFile(selector)
		}
		return r.evalSampleExpression(selector)
	}
}

func splitSampleList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' })
	var out []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (r *SingleFileReader) readSampleListFile(path string) ([]string, error) {
	in, err := grailfile.Open(r.ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "bgt: open sample list %s", path)
	}
	defer in.Close(r.ctx) // nolint: errcheck

	var names []string
	scanner := bufio.NewScanner(in.Reader(r.ctx))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			names = append(names, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "bgt: read sample list %s", path)
	}
	return names, nil
}

func (r *SingleFileReader) evalSampleExpression(src string) ([]string, error) {
	if r.file.SampleTable == nil {
		return nil, errors.Errorf("bgt: selector %q requires a sample table, none loaded", src)
	}
	expr, err := sampletable.Compile(src)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, sample := range r.file.Header.Samples {
		row, err := r.file.SampleTable.RowByName(sample)
		if err != nil {
			continue
		}
		ok, err := sampletable.Eval(r.file.SampleTable, row, expr)
		if err != nil {
			return nil, err
		}
		if ok {
			names = append(names, sample)
		}
	}
	return names, nil
}

// Prepare finalizes the set of output samples from the groups added so far
// (adding an implicit all-samples group if none were added), and narrows the
// genotype matrix to their haplotype columns. Idempotent; safe to call again
// after further AddGroup calls.
func (r *SingleFileReader) Prepare() error {
	if r.numGroups == 0 {
		if err := r.AddGroup("?"); err != nil {
			return err
		}
	}

	var outSamples []int
	for i, mask := range r.groupMask {
		if mask != 0 {
			outSamples = append(outSamples, i)
		}
	}
	r.outSamples = outSamples

	haplotypes := make([]int, 0, 2*len(outSamples))
	names := make([]string, len(outSamples))
	for i, idx := range outSamples {
		haplotypes = append(haplotypes, 2*idx, 2*idx+1)
		names[i] = r.file.Header.Samples[idx]
	}
	r.haplotypeIndices = haplotypes
	r.matrix.Subset(haplotypes)

	r.outHeader = &bcf.Header{ID: r.file.Header.ID, Contig: r.file.Header.Contig, Samples: names}
	r.prepared = true
	return nil
}

// OutSamples returns the output sample names, in output column order. Valid
// after Prepare.
func (r *SingleFileReader) OutSamples() []string {
	names := make([]string, len(r.outSamples))
	for i, idx := range r.outSamples {
		names[i] = r.file.Header.Samples[idx]
	}
	return names
}

// OutGroupMasks returns the group-membership bitmap for each output sample,
// in output column order. Valid after Prepare.
func (r *SingleFileReader) OutGroupMasks() []uint8 {
	masks := make([]uint8, len(r.outSamples))
	for i, idx := range r.outSamples {
		masks[i] = r.groupMask[idx]
	}
	return masks
}

// Header returns the dataset header narrowed to the output sample list.
// Valid after Prepare.
func (r *SingleFileReader) Header() *bcf.Header { return r.outHeader }

// SetRegion restricts iteration to a "chr", "chr:pos" or "chr:start-end"
// region. A contig absent from the header yields an empty iterator rather
// than an error, per the no-match-is-not-an-error rule for region queries.
func (r *SingleFileReader) SetRegion(region string) error {
	entry, err := interval.ParseRegionString(region)
	if err != nil {
		return err
	}
	rid, ok := r.file.Header.ContigByName(entry.Chr)
	if !ok {
		r.mode = modeEmpty
		return nil
	}
	row, ok, err := r.file.Index.QueryRegion(int32(rid), int32(entry.Start0))
	if err != nil {
		return err
	}
	if !ok {
		r.mode = modeEmpty
		return nil
	}
	return r.seekRow(row, int32(rid), int32(entry.End))
}

// SetStart restricts iteration to rows starting at the given row index, with
// no upper bound. Intended for resuming a parallel scan at a precomputed
// split point.
func (r *SingleFileReader) SetStart(row int) error {
	return r.seekRow(row, -1, 0)
}

func (r *SingleFileReader) seekRow(row int, rid, end int32) error {
	off, err := r.file.Index.RowOffset(row)
	if err != nil {
		return err
	}
	if err := r.bcfReader.Seek(off); err != nil {
		return errors.Wrap(err, "bgt: seek bcf stream")
	}
	if err := r.matrix.Seek(row); err != nil {
		return errors.Wrap(err, "bgt: seek genotype matrix")
	}
	if rid >= 0 {
		r.mode = modeRegion
		r.regionRID = rid
		r.regionEnd = end
	} else {
		r.mode = modeFull
	}
	return nil
}

// SetIntervalFilter restricts (or, with exclude, excludes) records to those
// overlapping filter's interval set, on top of any region already set.
func (r *SingleFileReader) SetIntervalFilter(filter interval.Filter, exclude bool) {
	r.filter = filter
	r.excludeFilter = exclude
}

// SetBed loads a BED file as an interval filter and installs it via
// SetIntervalFilter.
func (r *SingleFileReader) SetBed(path string, exclude bool) error {
	u, err := interval.NewBEDUnionFromPath(path)
	if err != nil {
		return err
	}
	r.SetIntervalFilter(&u, exclude)
	return nil
}

// nextSite advances past region and interval filters to the next record
// that should be yielded, seeks the genotype matrix to its row, and returns
// the record with that row number. Shared by Next and NextSummary, which
// differ only in how they read the matrix row once positioned.
func (r *SingleFileReader) nextSite() (*bcf.Record, int, error) {
	if !r.prepared {
		if err := r.Prepare(); err != nil {
			return nil, 0, err
		}
	}
	if r.mode == modeEmpty {
		return nil, 0, io.EOF
	}
	for {
		rec, err := bcf.ReadFrame(r.bcfReader, r.file.Header)
		if err != nil {
			return nil, 0, err
		}
		if err := rec.Unpack(bcf.UnpackALL); err != nil {
			return nil, 0, err
		}
		if r.mode == modeRegion {
			if rec.RID != r.regionRID || rec.Pos >= r.regionEnd {
				return nil, 0, io.EOF
			}
		}
		if r.filter != nil {
			chr, _ := r.file.Header.ContigName(int(rec.RID))
			end := rec.Pos + rec.Rlen
			overlap := r.filter.Overlap(chr, int(rec.Pos), int(end))
			if overlap == r.excludeFilter {
				continue
			}
		}

		rowVal, ok := rec.InfoInt("_row")
		if !ok {
			return nil, 0, errors.New("bgt: record missing _row INFO field")
		}
		if err := r.matrix.Seek(int(rowVal)); err != nil {
			return nil, 0, err
		}
		return rec, int(rowVal), nil
	}
}

// Next returns the next record passing the active region and interval
// filters, along with its genotypes (one per output haplotype, honoring
// Prepare's sample subset). Returns io.EOF when the stream is exhausted.
// Next implicitly calls Prepare if it has not been called yet.
func (r *SingleFileReader) Next() (*bcf.Record, []gtmatrix.Genotype, error) {
	rec, _, err := r.nextSite()
	if err != nil {
		return nil, nil, err
	}
	genotypes, err := r.matrix.Read()
	if err != nil {
		return nil, nil, err
	}
	return rec, genotypes, nil
}

// NextSummary returns the next record passing the active filters along with
// its whole-dataset alt allele count and missing count, computed directly
// from the genotype matrix's raw bit-planes (gtmatrix.Matrix.PlaneAlleleCounts)
// rather than decoding every haplotype into a Genotype. It ignores any
// group subset Prepare narrowed the sample list to: the counts always cover
// every sample in the file, matching a quick whole-cohort allele-frequency
// scan rather than a per-group breakdown.
func (r *SingleFileReader) NextSummary() (rec *bcf.Record, altCount, missingCount int, err error) {
	rec, _, err = r.nextSite()
	if err != nil {
		return nil, 0, 0, err
	}
	altCount, missingCount, err = r.matrix.PlaneAlleleCounts()
	if err != nil {
		return nil, 0, 0, err
	}
	return rec, altCount, missingCount, nil
}

// Close releases this reader's file handles.
func (r *SingleFileReader) Close() error {
	var firstErr error
	if err := r.matrix.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.bcfHandle.Close(r.ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.pbfHandle.Close(r.ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
