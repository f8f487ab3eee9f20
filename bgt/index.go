package bgt

import (
	"io"

	"github.com/biogo/hts/bgzf"
	"github.com/druvus/bgt/encoding/bcf"
	"github.com/druvus/bgt/encoding/gtmatrix"
	"github.com/pkg/errors"
)

// Index is the §6.3 external collaborator: region query plus direct
// row-addressed seek over the record stream. A row is the record's position
// in file order, the same value a prepared record recovers from its _row
// INFO field.
type Index interface {
	// QueryRegion returns the row at which a scan of contig rid starting at
	// or after start0 should begin. ok is false when rid is not present in
	// the index at all; per §7 that is a yields-nothing iterator, not an
	// error.
	QueryRegion(rid int32, start0 int32) (row int, ok bool, err error)
	// RowOffset returns the bgzf virtual offset of the record at row.
	RowOffset(row int) (bgzf.Offset, error)
	// NumRows returns the total record count the index covers.
	NumRows() int
}

// LinearIndex is the concrete Index built by a one-time forward scan of a
// dataset's .bcf stream at open time. §6.6 describes the index as "loaded
// from a sibling index file," but leaves that file's on-disk format
// unspecified (it belongs to the "on-disk build tools," out of scope per
// §1); LinearIndex satisfies the same contract without inventing one. Rows
// within a contig are assumed non-decreasing by position, the same
// assumption a real coordinate-sorted index would rely on.
type LinearIndex struct {
	rid    []int32
	pos    []int32
	offset []bgzf.Offset
	// start[r] is the first row index whose rid == r, or -1 if contig r
	// never appears.
	start []int
}

var _ Index = (*LinearIndex)(nil)

// BuildLinearIndex scans every record frame from r (positioned immediately
// after the dataset header), recording each row's (rid, pos) and the bgzf
// offset its frame began at. headerEnd is the offset the header's own reads
// left the stream at (r.LastChunk().End immediately after bcf.ReadHeader),
// i.e. where the first frame starts. numContigs bounds the per-contig
// start-row table.
//
// Offsets are tracked via LastChunk().End rather than .Begin: End is the
// cumulative stream position after a read completes and stays correct even
// when a frame's io.ReadFull needed several underlying Read calls to fill
// its buffer, whereas Begin only describes the single most recent such call.
func BuildLinearIndex(r *bgzf.Reader, h *bcf.Header, numContigs int, headerEnd bgzf.Offset) (*LinearIndex, error) {
	idx := &LinearIndex{start: make([]int, numContigs)}
	for i := range idx.start {
		idx.start[i] = -1
	}
	cur := headerEnd
	for {
		begin := cur
		rec, err := bcf.ReadFrame(r, h)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "bgt: scan index")
		}
		cur = r.LastChunk().End
		row := len(idx.rid)
		idx.rid = append(idx.rid, rec.RID)
		idx.pos = append(idx.pos, rec.Pos)
		idx.offset = append(idx.offset, begin)
		if int(rec.RID) >= 0 && int(rec.RID) < len(idx.start) && idx.start[rec.RID] == -1 {
			idx.start[rec.RID] = row
		}
	}
	return idx, nil
}

// QueryRegion binary searches within contig rid's row range for the first
// row at or after start0.
func (idx *LinearIndex) QueryRegion(rid int32, start0 int32) (int, bool, error) {
	if rid < 0 || int(rid) >= len(idx.start) || idx.start[rid] == -1 {
		return 0, false, nil
	}
	lo := idx.start[rid]
	hi := len(idx.rid)
	for i, r := range idx.rid[lo:] {
		if r != rid {
			hi = lo + i
			break
		}
	}
	row := lo + sortSearch(idx.pos[lo:hi], start0)
	if row >= hi {
		return 0, false, nil
	}
	return row, true, nil
}

func sortSearch(pos []int32, target int32) int {
	i, j := 0, len(pos)
	for i < j {
		mid := int(uint(i+j) >> 1)
		if pos[mid] < target {
			i = mid + 1
		} else {
			j = mid
		}
	}
	return i
}

// RowOffset returns the bgzf offset recorded for row.
func (idx *LinearIndex) RowOffset(row int) (bgzf.Offset, error) {
	if row < 0 || row >= len(idx.offset) {
		return bgzf.Offset{}, errors.New("bgt: row out of range")
	}
	return idx.offset[row], nil
}

// NumRows returns the number of records the index covers.
func (idx *LinearIndex) NumRows() int { return len(idx.offset) }

// scanPBFIndex scans a genotype matrix's bgzf stream once, building a
// gtmatrix.Index from each row's starting offset. Mirrors BuildLinearIndex's
// cumulative-End tracking but over two-bitplane rows instead of record
// frames; the .pbf stream has no header, so row 0 starts at the zero offset.
func scanPBFIndex(r *bgzf.Reader, numHaplotypes int) (*gtmatrix.Index, error) {
	n := (numHaplotypes + 7) / 8
	plane := make([]byte, n)
	idx := &gtmatrix.Index{}
	var cur bgzf.Offset
	for {
		begin := cur
		if _, err := io.ReadFull(r, plane); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(err, "bgt: scan pbf index: plane0")
		}
		if _, err := io.ReadFull(r, plane); err != nil {
			return nil, errors.Wrap(err, "bgt: scan pbf index: plane1")
		}
		cur = r.LastChunk().End
		idx.Offsets = append(idx.Offsets, begin)
	}
	return idx, nil
}
