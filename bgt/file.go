package bgt

import (
	"bufio"
	"context"
	"strconv"
	"strings"

	"github.com/biogo/hts/bgzf"
	"github.com/druvus/bgt/encoding/bcf"
	"github.com/druvus/bgt/encoding/gtmatrix"
	"github.com/druvus/bgt/sampletable"
	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
)

// File is one dataset: a record stream (prefix.bcf), a genotype matrix
// (prefix.pbf) and an optional sample-metadata table (prefix.spl). Header
// and Index are built once at Open and shared read-only across every
// SingleFileReader opened on this File; each reader owns its own file
// handles and seek state.
type File struct {
	bcfPath, pbfPath string

	Header        *bcf.Header
	Index         Index
	SampleTable   sampletable.Table
	numHaplotypes int
}

// Open opens the dataset rooted at prefix (prefix.bcf, prefix.pbf, and,
// if present, prefix.spl), parses the shared header, and builds an Index by
// scanning the .bcf record stream once. The .pbf row index is built per
// reader, in NewReader.
func Open(ctx context.Context, prefix string) (*File, error) {
	f := &File{bcfPath: prefix + ".bcf", pbfPath: prefix + ".pbf"}

	bcfIn, err := file.Open(ctx, f.bcfPath)
	if err != nil {
		return nil, errors.Wrapf(err, "bgt: open %s", f.bcfPath)
	}
	defer bcfIn.Close(ctx) // nolint: errcheck

	br, err := bgzf.NewReader(bcfIn.Reader(ctx), 0)
	if err != nil {
		return nil, errors.Wrap(err, "bgt: open bcf bgzf stream")
	}
	header, err := bcf.ReadHeader(br)
	if err != nil {
		return nil, errors.Wrap(err, "bgt: read header")
	}
	headerEnd := br.LastChunk().End
	f.Header = header
	f.numHaplotypes = 2 * len(header.Samples)

	numContigs := 0
	for i := 0; ; i++ {
		if _, ok := header.ContigName(i); !ok {
			numContigs = i
			break
		}
	}
	idx, err := BuildLinearIndex(br, header, numContigs, headerEnd)
	if err != nil {
		return nil, err
	}
	f.Index = idx

	tbl, err := f.loadSampleTable(ctx, prefix+".spl")
	if err != nil {
		return nil, err
	}
	f.SampleTable = tbl

	return f, nil
}

// Close releases any resources File itself holds open. Readers own their own
// handles and must be closed independently.
func (f *File) Close() error { return nil }

// loadSampleTable reads an optional TSV sample-metadata file: a header line
// of column names, then one line per sample (name, then one value per
// column). Absence of the file is not an error; callers see a nil Table.
func (f *File) loadSampleTable(ctx context.Context, path string) (sampletable.Table, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil // nolint: nilerr
	}
	defer in.Close(ctx) // nolint: errcheck

	scanner := bufio.NewScanner(in.Reader(ctx))
	if !scanner.Scan() {
		return nil, errors.Wrap(scanner.Err(), "bgt: read .spl header")
	}
	cols := strings.Split(scanner.Text(), "\t")
	if len(cols) < 2 || cols[0] != "sample" {
		return nil, errors.Errorf("bgt: %s: first column must be \"sample\"", path)
	}
	cols = cols[1:]

	var samples []string
	var rows [][]string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != len(cols)+1 {
			return nil, errors.Errorf("bgt: %s: expected %d columns, got %d", path, len(cols)+1, len(fields))
		}
		samples = append(samples, fields[0])
		rows = append(rows, fields[1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "bgt: scan .spl")
	}

	tbl := sampletable.NewMemTable(samples)
	for i, sample := range samples {
		for j, col := range cols {
			tbl.SetAttr(sample, col, parseSplValue(rows[i][j]))
		}
	}
	return tbl, nil
}

// parseSplValue interprets a .spl cell as a float if possible, else leaves it
// as a string, so expressions like "depth > 10" compare numerically.
func parseSplValue(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// NewReader opens a fresh, independent SingleFileReader over this dataset:
// its own .bcf and .pbf handles, positioned at the start of the record
// stream.
func (f *File) NewReader(ctx context.Context) (*SingleFileReader, error) {
	bcfIn, err := file.Open(ctx, f.bcfPath)
	if err != nil {
		return nil, errors.Wrapf(err, "bgt: open %s", f.bcfPath)
	}
	br, err := bgzf.NewReader(bcfIn.Reader(ctx), 0)
	if err != nil {
		bcfIn.Close(ctx) // nolint: errcheck
		return nil, errors.Wrap(err, "bgt: open bcf bgzf stream")
	}
	// Discard the header block, leaving the stream at the first record
	// frame, which is where the Index's row 0 offset points.
	if _, err := bcf.ReadHeader(br); err != nil {
		bcfIn.Close(ctx) // nolint: errcheck
		return nil, errors.Wrap(err, "bgt: re-read header")
	}

	pbfIn, err := file.Open(ctx, f.pbfPath)
	if err != nil {
		bcfIn.Close(ctx) // nolint: errcheck
		return nil, errors.Wrapf(err, "bgt: open %s", f.pbfPath)
	}
	pbfBr, err := bgzf.NewReader(pbfIn.Reader(ctx), 0)
	if err != nil {
		bcfIn.Close(ctx) // nolint: errcheck
		pbfIn.Close(ctx) // nolint: errcheck
		return nil, errors.Wrap(err, "bgt: open pbf bgzf stream")
	}
	pbfIdx, err := scanPBFIndex(pbfBr, f.numHaplotypes)
	if err != nil {
		bcfIn.Close(ctx) // nolint: errcheck
		pbfIn.Close(ctx) // nolint: errcheck
		return nil, err
	}
	// scanPBFIndex consumed the stream; reopen a fresh handle for actual
	// row access.
	pbfIn2, err := file.Open(ctx, f.pbfPath)
	if err != nil {
		bcfIn.Close(ctx) // nolint: errcheck
		pbfIn.Close(ctx) // nolint: errcheck
		return nil, errors.Wrapf(err, "bgt: reopen %s", f.pbfPath)
	}
	pbfIn.Close(ctx) // nolint: errcheck

	matrix, err := gtmatrix.NewMatrix(pbfIn2.Reader(ctx), pbfIdx, f.numHaplotypes)
	if err != nil {
		bcfIn.Close(ctx)  // nolint: errcheck
		pbfIn2.Close(ctx) // nolint: errcheck
		return nil, err
	}

	return newSingleFileReader(f, br, bcfIn, pbfIn2, matrix), nil
}
