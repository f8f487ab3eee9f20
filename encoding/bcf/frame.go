package bcf

import (
	"encoding/binary"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ReadFrame reads one size-prefixed record frame from the block-compressed
// record stream (§6.1): u32 l_shared, u32 l_indiv, followed by the shared
// and individual blobs. The first 24 bytes of the shared blob are the fixed
// rid/pos/rlen/qual/n_allele/n_info/n_fmt/n_sample prefix, bit-packed
// exactly as bcf1_t (n_info in the low 16 bits of the first packed word,
// n_allele in the high 16; n_fmt in the low 8 bits of the second, n_sample
// in the high 24); the remainder is handed to Record.Decode. Returns io.EOF
// (unwrapped, so callers can use it as a normal iterator terminator) when
// the stream ends cleanly between frames.
func ReadFrame(r io.Reader, h *Header) (*Record, error) {
	var sizes [8]byte
	if _, err := io.ReadFull(r, sizes[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(ErrTruncated, "bcf: frame size prefix")
	}
	lShared := binary.LittleEndian.Uint32(sizes[0:4])
	lIndiv := binary.LittleEndian.Uint32(sizes[4:8])

	shared := make([]byte, lShared)
	if _, err := io.ReadFull(r, shared); err != nil {
		return nil, errors.Wrap(ErrTruncated, "bcf: frame shared blob")
	}
	indiv := make([]byte, lIndiv)
	if _, err := io.ReadFull(r, indiv); err != nil {
		return nil, errors.Wrap(ErrTruncated, "bcf: frame individual blob")
	}
	if len(shared) < 24 {
		return nil, errors.Wrap(ErrCorruptRecord, "bcf: shared blob shorter than fixed prefix")
	}

	rid := int32(binary.LittleEndian.Uint32(shared[0:4]))
	pos := int32(binary.LittleEndian.Uint32(shared[4:8]))
	rlen := int32(binary.LittleEndian.Uint32(shared[8:12]))
	qual := math.Float32frombits(binary.LittleEndian.Uint32(shared[12:16]))
	infoAllele := binary.LittleEndian.Uint32(shared[16:20])
	fmtSample := binary.LittleEndian.Uint32(shared[20:24])

	nInfo := int(infoAllele & 0xffff)
	nAllele := int(infoAllele >> 16)
	nFmt := int(fmtSample & 0xff)
	nSample := int(fmtSample >> 8)

	rec := NewRecord(h)
	rec.Decode(rid, pos, rlen, qual, nAllele, nInfo, nFmt, nSample, shared[24:], indiv)
	return rec, nil
}

// WriteFrame appends one record frame to w in the layout ReadFrame expects.
// It is a test/fixture helper, not a dataset-construction facility: it
// serializes whatever shared/indiv bytes the caller already has (typically
// from Record.Reserialize), it does not build a dataset from scratch.
func WriteFrame(w io.Writer, shared, indiv []byte) error {
	var sizes [8]byte
	binary.LittleEndian.PutUint32(sizes[0:4], uint32(len(shared)))
	binary.LittleEndian.PutUint32(sizes[4:8], uint32(len(indiv)))
	if _, err := w.Write(sizes[:]); err != nil {
		return err
	}
	if _, err := w.Write(shared); err != nil {
		return err
	}
	_, err := w.Write(indiv)
	return err
}

// WriteRecordFrame reserializes rec against h and writes it as one frame,
// composing Reserialize, FrameSharedPrefix and WriteFrame for callers outside
// this package that only have a decoded Record.
func WriteRecordFrame(w io.Writer, rec *Record, h *Header) error {
	if err := rec.Reserialize(h); err != nil {
		return err
	}
	prefix := FrameSharedPrefix(rec.RID, rec.Pos, rec.Rlen, rec.Qual, rec.nAllele, rec.nInfo, rec.nFmt, rec.NSample)
	shared := append(append([]byte{}, prefix...), rec.shared...)
	return WriteFrame(w, shared, rec.indiv)
}

// FrameSharedPrefix builds the 24-byte fixed prefix ReadFrame expects at the
// front of a record's shared blob, given the record's fixed fields and
// counts. Pair with Record.Reserialize, whose shared/indiv output already
// excludes this prefix.
func FrameSharedPrefix(rid, pos, rlen int32, qual float32, nAllele, nInfo, nFmt, nSample int) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(rid))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(pos))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(rlen))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(qual))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(nInfo)|uint32(nAllele)<<16)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(nFmt)|uint32(nSample)<<8)
	return buf
}

// ReadHeader reads the length-prefixed VCF header text block (u32 l_text,
// then l_text bytes) that precedes the first record frame in a dataset's
// .bcf stream, and parses it into a Header.
func ReadHeader(r io.Reader) (*Header, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, errors.Wrap(err, "bcf: read header length")
	}
	lText := binary.LittleEndian.Uint32(lenBuf[:])
	text := make([]byte, lText)
	if _, err := io.ReadFull(r, text); err != nil {
		return nil, errors.Wrap(err, "bcf: read header text")
	}
	return ParseHeaderText(string(text))
}

// WriteHeader writes text in the length-prefixed form ReadHeader expects. A
// fixture helper alongside WriteFrame; building a dataset header from
// scratch for real use is out of scope.
func WriteHeader(w io.Writer, text string) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(text)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, text)
	return err
}

// ParseHeaderText parses the VCF-style header text Header.String produces
// back into a Header: contig, INFO, FORMAT and FILTER declarations, and the
// sample list off the #CHROM line.
func ParseHeaderText(text string) (*Header, error) {
	h := NewHeader()
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "##contig="):
			id, attrs, err := parseHeaderLineAttrs(line, "##contig=")
			if err != nil {
				return nil, err
			}
			length, _ := strconv.Atoi(attrs["length"])
			h.AddContig(id, length)
		case strings.HasPrefix(line, "##INFO="):
			id, attrs, err := parseHeaderLineAttrs(line, "##INFO=")
			if err != nil {
				return nil, err
			}
			kind, number := parseNumberString(attrs["Number"])
			h.DefineInfo(id, parseTypeString(attrs["Type"]), kind, number)
		case strings.HasPrefix(line, "##FORMAT="):
			id, attrs, err := parseHeaderLineAttrs(line, "##FORMAT=")
			if err != nil {
				return nil, err
			}
			kind, number := parseNumberString(attrs["Number"])
			h.DefineFormat(id, parseTypeString(attrs["Type"]), kind, number)
		case strings.HasPrefix(line, "##FILTER="):
			id, _, err := parseHeaderLineAttrs(line, "##FILTER=")
			if err != nil {
				return nil, err
			}
			h.DefineFilter(id)
		case strings.HasPrefix(line, "##"):
			// Other meta lines (fileformat, ALT, free-text descriptions)
			// carry no dictionary entries; preserved only in Text.
		case strings.HasPrefix(line, "#CHROM"):
			cols := strings.Split(line, "\t")
			if len(cols) > 9 {
				h.Samples = append([]string(nil), cols[9:]...)
			}
		}
	}
	h.Text = text
	return h, nil
}

func parseHeaderLineAttrs(line, prefix string) (id string, attrs map[string]string, err error) {
	body := strings.TrimPrefix(line, prefix)
	body = strings.TrimPrefix(body, "<")
	body = strings.TrimSuffix(body, ">")
	attrs = make(map[string]string)
	for _, field := range splitHeaderFields(body) {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		attrs[kv[0]] = kv[1]
	}
	id, ok := attrs["ID"]
	if !ok {
		return "", nil, errors.Wrapf(ErrCorruptRecord, "header line missing ID: %s", line)
	}
	return id, attrs, nil
}

// splitHeaderFields splits a comma-separated <K=V,K=V,...> body, ignoring
// commas inside double-quoted Description="..." values.
func splitHeaderFields(body string) []string {
	var fields []string
	inQuote := false
	start := 0
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				fields = append(fields, body[start:i])
				start = i + 1
			}
		}
	}
	fields = append(fields, body[start:])
	return fields
}

func parseNumberString(s string) (NumberKind, int) {
	switch s {
	case ".":
		return NumberVariable, 0
	case "A":
		return NumberPerAlt, 0
	case "R":
		return NumberPerAllele, 0
	case "G":
		return NumberPerGenotype, 0
	default:
		n, _ := strconv.Atoi(s)
		return NumberFixed, n
	}
}

func parseTypeString(s string) ValueType {
	switch s {
	case "Integer":
		return ValueInt
	case "Float":
		return ValueFloat
	case "String", "Character":
		return ValueString
	default:
		return ValueFlag
	}
}
