package bcf

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Unpack levels, matching the original BCF lazy-decode bitmask: each level
// includes everything below it in the shared blob, while FMT lives in the
// separate individual blob.
const (
	UnpackSTR  = 1 // up to ALT, inclusive
	UnpackFLT  = 2 // up to FILTER
	UnpackINFO = 4 // up to INFO
	UnpackSHR  = UnpackSTR | UnpackFLT | UnpackINFO
	UnpackFMT  = 8 // FORMAT and per-sample data
	UnpackALL  = UnpackSHR | UnpackFMT
)

// InfoValue is a decoded INFO field value: exactly one of Ints/Floats/Str is
// meaningful for a given Key, or Flag is true and none are, mirroring the
// dynamic INFO/FORMAT value model.
type InfoValue struct {
	Key    string
	Flag   bool
	Ints   []int32
	Floats []float32
	Str    string
}

// FormatValue is one FORMAT field's raw per-sample data, still encoded as
// NSample*Size fixed-width values of Type; GT is stored here like any other
// FORMAT field. Width is the on-wire byte width of
// one element (1, 2, or 4), preserved separately from Type since ValueType
// alone doesn't distinguish int8/int16/int32 and Reserialize must not widen
// or narrow a field it didn't itself produce.
type FormatValue struct {
	Key   string
	Type  ValueType
	Width int
	Size  int // per-sample element count
	Data  []byte
}

// Record is a single VCF site, decoded lazily: Unpack(mask) decodes only the
// requested levels, and is idempotent, mirroring bcf1_t/bcf_unpack.
type Record struct {
	header *Header

	RID  int32
	Pos  int32 // 0-based
	Rlen int32 // length of REF
	Qual float32

	shared []byte
	indiv  []byte

	nAllele, nInfo, nFmt int
	NSample               int

	unpacked int // bitmask of levels already decoded

	ID      string
	Alleles []string // Alleles[0] is REF
	Filters []int
	Info    []InfoValue
	Format  []FormatValue
}

// NewRecord returns an empty record bound to header h, ready to be filled by
// Decode.
func NewRecord(h *Header) *Record {
	return &Record{header: h}
}

// Decode loads the raw shared/individual blobs and the fixed-width prefix
// fields (RID, Pos, Rlen, Qual, counts) from a single framed record; it does
// not decode ALT/FILTER/INFO/FORMAT, which wait for Unpack.
func (r *Record) Decode(rid, pos, rlen int32, qual float32, nAllele, nInfo, nFmt, nSample int, shared, indiv []byte) {
	r.RID = rid
	r.Pos = pos
	r.Rlen = rlen
	r.Qual = qual
	r.shared = shared
	r.indiv = indiv
	r.unpacked = 0
	r.ID = ""
	r.Alleles = nil
	r.Filters = nil
	r.Info = nil
	r.Format = nil
	r.NSample = nSample
	r.nAllele = nAllele
	r.nInfo = nInfo
	r.nFmt = nFmt
}

// Unpack decodes the requested levels of the record that have not yet been
// decoded. Calling it repeatedly, with the same or a smaller mask, is a
// no-op beyond the first call for each level.
func (r *Record) Unpack(mask int) error {
	if mask&^r.unpacked == 0 {
		return nil
	}

	// STR/FLT/INFO all live in the shared blob, in that order, so reaching
	// any one of them (whether to decode it or because a later stage needs
	// it) requires a single sequential walk from the start of the blob.
	// FMT lives in the separate individual blob and never needs that walk.
	if mask&UnpackSHR&^r.unpacked != 0 {
		buf := NewReader(r.shared)

		if r.unpacked&UnpackSTR == 0 {
			id, err := DecodeString(buf)
			if err != nil {
				return errors.Wrap(err, "bcf: decode ID")
			}
			alleles := make([]string, r.nAllele)
			for i := range alleles {
				a, err := DecodeString(buf)
				if err != nil {
					return errors.Wrapf(err, "bcf: decode allele %d", i)
				}
				alleles[i] = a
			}
			r.ID = id
			r.Alleles = alleles
			r.unpacked |= UnpackSTR
		} else {
			r.skipSTR(buf)
		}

		if mask&(UnpackFLT|UnpackINFO) != 0 {
			if r.unpacked&UnpackFLT == 0 {
				filters, err := DecodeInts(buf)
				if err != nil {
					return errors.Wrap(err, "bcf: decode FILTER")
				}
				r.Filters = make([]int, len(filters))
				for i, f := range filters {
					r.Filters[i] = int(f)
				}
				r.unpacked |= UnpackFLT
			} else if _, err := DecodeInts(buf); err != nil {
				return errors.Wrap(err, "bcf: skip FILTER")
			}

			if mask&UnpackINFO != 0 && r.unpacked&UnpackINFO == 0 {
				info := make([]InfoValue, 0, r.nInfo)
				for i := 0; i < r.nInfo; i++ {
					keyID, err := DecodeTypedInt1(buf)
					if err != nil {
						return errors.Wrapf(err, "bcf: decode INFO key %d", i)
					}
					name := infoKeyName(r.header, int(keyID))
					val, err := decodeInfoValue(buf, name)
					if err != nil {
						return errors.Wrapf(err, "bcf: decode INFO value for %s", name)
					}
					info = append(info, val)
				}
				r.Info = info
				r.unpacked |= UnpackINFO
			}
		}
	}

	if mask&UnpackFMT != 0 && r.unpacked&UnpackFMT == 0 {
		fbuf := NewReader(r.indiv)
		formats := make([]FormatValue, 0, r.nFmt)
		for i := 0; i < r.nFmt; i++ {
			keyID, err := DecodeTypedInt1(fbuf)
			if err != nil {
				return errors.Wrapf(err, "bcf: decode FORMAT key %d", i)
			}
			size, typ, err := DecodeSize(fbuf)
			if err != nil {
				return errors.Wrapf(err, "bcf: decode FORMAT size %d", i)
			}
			total := size * typeWidth(typ) * r.NSample
			data, err := fbuf.take(total)
			if err != nil {
				return errors.Wrapf(err, "bcf: decode FORMAT data %d", i)
			}
			formats = append(formats, FormatValue{
				Key:   formatKeyName(r.header, int(keyID)),
				Type:  bcfTypeToValueType(typ),
				Width: typeWidth(typ),
				Size:  size,
				Data:  data,
			})
		}
		r.Format = formats
		r.unpacked |= UnpackFMT
	}
	return nil
}

func (r *Record) skipSTR(buf *Buffer) {
	_, _ = DecodeString(buf)
	for i := 0; i < r.nAllele; i++ {
		_, _ = DecodeString(buf)
	}
}

func typeWidth(typ byte) int {
	switch typ {
	case typeInt8, typeChar:
		return 1
	case typeInt16:
		return 2
	default:
		return 4
	}
}

func bcfTypeToValueType(typ byte) ValueType {
	switch typ {
	case typeChar:
		return ValueString
	case typeFloat32:
		return ValueFloat
	default:
		return ValueInt
	}
}

func infoKeyName(h *Header, id int) string {
	if id < 0 || id >= len(h.ID.order) {
		return ""
	}
	return h.ID.order[id]
}

func formatKeyName(h *Header, id int) string { return infoKeyName(h, id) }

func decodeInfoValue(buf *Buffer, name string) (InfoValue, error) {
	size, typ, err := DecodeSize(buf)
	if err != nil {
		return InfoValue{}, err
	}
	v := InfoValue{Key: name}
	switch typ {
	case typeNull:
		v.Flag = true
	case typeChar:
		if size == 0 {
			return v, nil
		}
		s, err := buf.take(size)
		if err != nil {
			return InfoValue{}, err
		}
		v.Str = string(s)
	case typeFloat32:
		floats := make([]float32, size)
		for i := range floats {
			raw, err := buf.take(4)
			if err != nil {
				return InfoValue{}, err
			}
			floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw))
		}
		v.Floats = floats
	case typeInt8, typeInt16, typeInt32:
		ints := make([]int32, size)
		for i := range ints {
			x, err := DecodeInt1(buf, typ)
			if err != nil {
				return InfoValue{}, err
			}
			ints[i] = x
		}
		v.Ints = ints
	default:
		return InfoValue{}, errors.Wrapf(ErrCorruptRecord, "info %s: unrecognized type tag %d", name, typ)
	}
	return v, nil
}

// Reserialize rebuilds the record's shared/individual blobs from the
// decoded view. A mutation of Alleles, Info, Filters, or Format invalidates
// the raw blobs the record was read with; callers that mutate a record (the
// merge path's ALT rewrite and AC/AN append, chiefly) must call this before
// the record is written back out or read from again at a lower unpack level.
func (r *Record) Reserialize(h *Header) error {
	shared := NewBuffer()
	EncodeString(shared, r.ID)
	for _, a := range r.Alleles {
		EncodeString(shared, a)
	}
	filters := make([]int32, len(r.Filters))
	for i, f := range r.Filters {
		filters[i] = int32(f)
	}
	EncodeInts(shared, filters)
	for _, info := range r.Info {
		id, ok := h.IDByName(info.Key)
		if !ok {
			return errors.Errorf("bcf: reserialize: unknown INFO key %q", info.Key)
		}
		EncodeInt1(shared, int32(id))
		switch {
		case info.Flag:
			EncodeSize(shared, 0, typeNull)
		case info.Str != "":
			EncodeString(shared, info.Str)
		case info.Floats != nil:
			EncodeFloats(shared, info.Floats)
		default:
			EncodeInts(shared, info.Ints)
		}
	}
	r.shared = shared.Bytes()
	r.nAllele = len(r.Alleles)
	r.nInfo = len(r.Info)

	indiv := NewBuffer()
	for _, f := range r.Format {
		id, ok := h.IDByName(f.Key)
		if !ok {
			return errors.Errorf("bcf: reserialize: unknown FORMAT key %q", f.Key)
		}
		EncodeInt1(indiv, int32(id))
		EncodeSize(indiv, f.Size, formatBCFType(f.Type, f.Width))
		indiv.PutBytes(f.Data)
	}
	r.indiv = indiv.Bytes()
	r.nFmt = len(r.Format)
	r.unpacked = UnpackALL
	return nil
}

// formatBCFType recovers the on-wire type tag for a FormatValue, honoring
// the original integer width so Reserialize never silently widens a field
// it only copied through.
func formatBCFType(t ValueType, width int) byte {
	switch t {
	case ValueString:
		return typeChar
	case ValueFloat:
		return typeFloat32
	default:
		switch width {
		case 1:
			return typeInt8
		case 2:
			return typeInt16
		default:
			return typeInt32
		}
	}
}

// InfoInt returns the first integer of a scalar/vector INFO field, if
// present.
func (r *Record) InfoInt(key string) (int32, bool) {
	for _, v := range r.Info {
		if v.Key == key && len(v.Ints) > 0 {
			return v.Ints[0], true
		}
	}
	return 0, false
}

// InfoString returns an INFO string field, if present.
func (r *Record) InfoString(key string) (string, bool) {
	for _, v := range r.Info {
		if v.Key == key {
			return v.Str, v.Str != ""
		}
	}
	return "", false
}

// SetInfoInts sets (replacing if present) an integer-vector INFO field.
func (r *Record) SetInfoInts(key string, vals []int32) {
	for i := range r.Info {
		if r.Info[i].Key == key {
			r.Info[i] = InfoValue{Key: key, Ints: vals}
			return
		}
	}
	r.Info = append(r.Info, InfoValue{Key: key, Ints: vals})
}
