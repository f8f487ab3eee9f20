package interval

import (
	"bufio"
	"compress/gzip"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/pkg/errors"
)

// Filter is the region-membership collaborator a reader consults before
// decoding a record: Overlap reports whether [beg, end) on chr intersects
// the filter's interval set.
type Filter interface {
	Overlap(chr string, beg, end int) bool
}

// PosType is BEDUnion's coordinate type.
type PosType int32

const posTypeMax = math.MaxInt32

// searchPosType returns the index of x in a, or the insertion point.
func searchPosType(a []PosType, x PosType) int {
	return sort.Search(len(a), func(i int) bool { return a[i] >= x })
}

// fwdsearchPosType is a forward-galloping variant of searchPosType, better
// suited to the mostly-increasing query pattern of a sequential record scan.
func fwdsearchPosType(a []PosType, x PosType, idx int) int {
	nextIncr := 1
	startIdx := idx
	endIdx := len(a)
	for idx < endIdx {
		if a[idx] >= x {
			endIdx = idx
			break
		}
		startIdx = idx + 1
		idx += nextIncr
		nextIncr *= 2
	}
	for startIdx < endIdx {
		midIdx := int(uint(startIdx+endIdx) >> 1)
		if a[midIdx] >= x {
			endIdx = midIdx
		} else {
			startIdx = midIdx + 1
		}
	}
	return startIdx
}

// BEDUnion is a Filter backed by a collection of length-2N sequences, one per
// chromosome: the (0-based) start of interval k is at [2k] and its end is at
// [2k+1], stored in increasing order. This mirrors a sorted []int32 so the
// standard binary-search helpers apply directly, and inversion is just
// prepending/appending a sentinel.
type BEDUnion struct {
	nameMap map[string][]PosType

	lastChrIntervals []PosType
	lastChrName      string
	lastPosPlus1     PosType
	lastIdx          int
	isSequential     bool
}

var _ Filter = (*BEDUnion)(nil)

// NewBEDOpts controls BED loading.
type NewBEDOpts struct {
	// Invert returns the complement of the loaded interval-union, extending
	// to position -1 at the start of each mentioned chromosome and
	// posTypeMax-1 at its end.
	Invert bool
	// OneBasedInput interprets BED boundaries as one-based [start, end]
	// rather than the usual zero-based [start, end).
	OneBasedInput bool
}

func initBEDUnion() BEDUnion {
	return BEDUnion{nameMap: make(map[string][]PosType), lastChrName: ""}
}

// Overlap reports whether [beg, end) on chr intersects the interval set.
func (u *BEDUnion) Overlap(chr string, beg, end int) bool {
	if end <= beg {
		return false
	}
	chrIntervals := u.intervalsFor(chr)
	if chrIntervals == nil {
		return false
	}
	idx := searchPosType(chrIntervals, PosType(beg)+1)
	if idx&1 == 1 {
		return true
	}
	return idx != len(chrIntervals) && chrIntervals[idx] < PosType(end)
}

// Contains checks whether the 0-based position pos on chr is covered. It
// keeps per-chromosome sequential-query state, so scanning positions in
// nondecreasing order on the same chromosome is fast.
func (u *BEDUnion) Contains(chr string, pos PosType) bool {
	posPlus1 := pos + 1
	if chr != u.lastChrName {
		u.lastChrName = chr
		u.lastChrIntervals = u.nameMap[chr]
		if u.lastChrIntervals == nil {
			return false
		}
		u.lastIdx = searchPosType(u.lastChrIntervals, posPlus1)
		u.lastPosPlus1 = posPlus1
		u.isSequential = true
		return u.lastIdx&1 == 1
	}
	if u.lastChrIntervals == nil {
		return false
	}
	if u.isSequential {
		if posPlus1 >= u.lastPosPlus1 {
			u.lastIdx = fwdsearchPosType(u.lastChrIntervals, posPlus1, u.lastIdx)
			u.lastPosPlus1 = posPlus1
			return u.lastIdx&1 == 1
		}
		u.isSequential = false
	}
	return searchPosType(u.lastChrIntervals, posPlus1)&1 == 1
}

func (u *BEDUnion) intervalsFor(chr string) []PosType {
	if chr == u.lastChrName {
		return u.lastChrIntervals
	}
	return u.nameMap[chr]
}

// getTokens fills tokens with up to len(tokens) whitespace-delimited fields
// from line, returning the count found.
func getTokens(tokens [][]byte, line []byte) int {
	posEnd := 0
	lineLen := len(line)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if line[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if line[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = line[pos:posEnd]
	}
	return len(tokens)
}

func scanBEDUnion(scanner *bufio.Scanner, opts NewBEDOpts) (BEDUnion, error) {
	bedUnion := initBEDUnion()

	startSubtract := 0
	if opts.OneBasedInput {
		startSubtract = 1
	}

	var tokens [3][]byte
	lineIdx := 0
	prevChr := ""
	var prevStart, prevEnd PosType
	var chrIntervals []PosType

	flush := func() {
		if prevChr == "" {
			return
		}
		if prevEnd != -1 {
			chrIntervals = append(chrIntervals, prevStart, prevEnd)
		}
		if opts.Invert {
			chrIntervals = append(chrIntervals, posTypeMax)
		}
		bedUnion.nameMap[prevChr] = chrIntervals
	}

	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		nToken := getTokens(tokens[:], curLine)
		if nToken != 3 {
			if nToken == 0 {
				continue
			}
			return BEDUnion{}, errors.Errorf("interval: line %d has fewer than 3 fields", lineIdx)
		}

		curChr := string(tokens[0])
		parsedStart, err := strconv.Atoi(string(tokens[1]))
		if err != nil {
			return BEDUnion{}, errors.Wrapf(err, "interval: line %d", lineIdx)
		}
		parsedStart -= startSubtract
		if parsedStart < 0 {
			return BEDUnion{}, errors.Errorf("interval: negative start coordinate on line %d", lineIdx)
		}
		start := PosType(parsedStart)

		parsedEnd, err := strconv.Atoi(string(tokens[2]))
		if err != nil {
			return BEDUnion{}, errors.Wrapf(err, "interval: line %d", lineIdx)
		}
		if parsedEnd < parsedStart || parsedEnd >= posTypeMax {
			return BEDUnion{}, errors.Errorf("interval: invalid coordinate pair on line %d", lineIdx)
		}
		end := PosType(parsedEnd)

		if curChr != prevChr {
			flush()
			if _, found := bedUnion.nameMap[curChr]; found {
				return BEDUnion{}, errors.Errorf("interval: unsorted input (split chromosome %s)", curChr)
			}
			prevChr = curChr
			chrIntervals = nil
			if opts.Invert {
				chrIntervals = append(chrIntervals, -1)
			}
			if end == start {
				prevStart, prevEnd = -1, -1
			} else {
				prevStart, prevEnd = start, end
			}
			continue
		}
		if end == start {
			continue
		}
		if start > prevEnd {
			chrIntervals = append(chrIntervals, prevStart, prevEnd)
			prevStart, prevEnd = start, end
		} else {
			if start < prevStart {
				return BEDUnion{}, errors.New("interval: unsorted input")
			}
			if end > prevEnd {
				prevEnd = end
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return BEDUnion{}, err
	}
	flush()
	return bedUnion, nil
}

// NewBEDUnion loads a sorted (by chromosome, then start) interval-BED stream,
// merging touching or overlapping intervals and dropping empty ones.
func NewBEDUnion(r io.Reader, opts NewBEDOpts) (BEDUnion, error) {
	scanner := bufio.NewScanner(r)
	return scanBEDUnion(scanner, opts)
}

// NewBEDUnionFromPath loads a BED file from path, transparently decompressing
// a .gz suffix, via the grailbio/base/file abstraction so callers do not need
// to link a specific storage backend.
func NewBEDUnionFromPath(path string) (BEDUnion, error) {
	ctx := vcontext.Background()
	f, err := file.Open(ctx, path)
	if err != nil {
		return BEDUnion{}, err
	}
	defer f.Close(ctx) // nolint: errcheck

	var r io.Reader = f.Reader(ctx)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return BEDUnion{}, err
		}
		defer gz.Close() // nolint: errcheck
		r = gz
	}
	return NewBEDUnion(r, NewBEDOpts{})
}

// Entry is a single 0-based, half-open interval.
type Entry struct {
	Chr    string
	Start0 PosType
	End    PosType
}

// ParseRegionString parses "chr:start-end", "chr:pos", or "chr" into a
// 0-based Entry.
func ParseRegionString(region string) (Entry, error) {
	if len(region) == 0 {
		return Entry{}, errors.New("interval: empty region string")
	}
	colonPos := strings.IndexByte(region, ':')
	if colonPos == -1 {
		return Entry{Chr: region, Start0: 0, End: posTypeMax - 1}, nil
	}
	if colonPos == 0 {
		return Entry{}, errors.New("interval: empty contig in region string")
	}
	chr := region[:colonPos]
	rangeStr := region[colonPos+1:]
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		pos1, err := strconv.ParseInt(rangeStr, 10, 32)
		if err != nil {
			return Entry{}, err
		}
		if pos1 <= 0 {
			return Entry{}, errors.Errorf("interval: position %s out of range", rangeStr)
		}
		return Entry{Chr: chr, Start0: PosType(pos1 - 1), End: PosType(pos1)}, nil
	}
	start1, err := strconv.Atoi(rangeStr[:dashPos])
	if err != nil {
		return Entry{}, err
	}
	if start1 <= 0 {
		return Entry{}, errors.Errorf("interval: start %d out of range", start1)
	}
	end0, err := strconv.Atoi(rangeStr[dashPos+1:])
	if err != nil {
		return Entry{}, err
	}
	if end0 <= start1 || end0 >= posTypeMax {
		return Entry{}, errors.Errorf("interval: invalid range %s", rangeStr)
	}
	return Entry{Chr: chr, Start0: PosType(start1 - 1), End: PosType(end0)}, nil
}

// NewBEDUnionFromEntries builds a BEDUnion from a sorted slice of Entry.
func NewBEDUnionFromEntries(entries []Entry) (BEDUnion, error) {
	bedUnion := initBEDUnion()
	prevChr := ""
	var prevStart, prevEnd PosType
	var chrIntervals []PosType

	flush := func() {
		if prevChr == "" {
			return
		}
		if prevEnd != -1 {
			chrIntervals = append(chrIntervals, prevStart, prevEnd)
		}
		bedUnion.nameMap[prevChr] = chrIntervals
	}

	for _, e := range entries {
		if e.Start0 < 0 {
			return BEDUnion{}, errors.New("interval: negative start coordinate")
		}
		if e.End < e.Start0 || e.End >= posTypeMax {
			return BEDUnion{}, errors.Errorf("interval: invalid coordinate pair [%d,%d)", e.Start0, e.End)
		}
		if e.Chr != prevChr {
			flush()
			if _, found := bedUnion.nameMap[e.Chr]; found {
				return BEDUnion{}, errors.Errorf("interval: unsorted input (split chromosome %s)", e.Chr)
			}
			prevChr = e.Chr
			chrIntervals = nil
			if e.End == e.Start0 {
				prevStart, prevEnd = -1, -1
			} else {
				prevStart, prevEnd = e.Start0, e.End
			}
			continue
		}
		if e.End == e.Start0 {
			continue
		}
		if e.Start0 > prevEnd {
			if prevEnd != -1 {
				chrIntervals = append(chrIntervals, prevStart, prevEnd)
			}
			prevStart, prevEnd = e.Start0, e.End
		} else {
			if e.Start0 < prevStart {
				return BEDUnion{}, errors.New("interval: unsorted input")
			}
			if e.End > prevEnd {
				prevEnd = e.End
			}
		}
	}
	flush()
	return bedUnion, nil
}

// Clone returns a BEDUnion sharing the interval set but with independent
// sequential-query state.
func (u *BEDUnion) Clone() BEDUnion {
	return BEDUnion{nameMap: u.nameMap, lastChrName: ""}
}
