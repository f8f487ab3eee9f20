package bcf

import (
	"fmt"
	"strings"

	"blainsmith.com/go/seahash"
	"github.com/pkg/errors"
)

// HeaderLineClass identifies which of the three header-line kinds an ID
// dictionary entry was declared under.
type HeaderLineClass int

const (
	ClassFilter HeaderLineClass = iota
	ClassInfo
	ClassFormat
	ClassContig
)

// ValueType is the declared BCF_HT_* type of an INFO/FORMAT field.
type ValueType int

const (
	ValueFlag ValueType = iota
	ValueInt
	ValueFloat
	ValueString
)

// NumberKind describes how many values a field carries, per the VCF
// Number= convention.
type NumberKind int

const (
	NumberFixed NumberKind = iota // a specific non-negative count
	NumberVariable
	NumberPerAlt // "A"
	NumberPerAllele
	NumberPerGenotype // "G"
)

// IDInfo is the metadata attached to one dictionary entry: the declared
// Number/Type of an INFO or FORMAT field, or a bare marker for a FILTER id
// or a contig.
type IDInfo struct {
	ID     int
	Number int // meaningful only when Kind == NumberFixed
	Kind   NumberKind
	Type   ValueType
	Class  HeaderLineClass
	Length int // contig length; zero for non-contig entries
}

// dictTable is a seahash-sharded name->IDInfo lookup table, sharded on
// dictionary key.
const dictShards = 64

type dictShard struct {
	entries map[string]*IDInfo
}

type dictTable struct {
	shards [dictShards]dictShard
	order  []string // insertion order, mirrors the header text order
}

func newDictTable() *dictTable {
	d := &dictTable{}
	for i := range d.shards {
		d.shards[i].entries = make(map[string]*IDInfo)
	}
	return d
}

func (d *dictTable) shardFor(key string) *dictShard {
	h := seahash.Sum64([]byte(key))
	return &d.shards[h%dictShards]
}

func (d *dictTable) put(key string, info *IDInfo) {
	d.shardFor(key).entries[key] = info
	d.order = append(d.order, key)
}

func (d *dictTable) get(key string) (*IDInfo, bool) {
	info, ok := d.shardFor(key).entries[key]
	return info, ok
}

func (d *dictTable) len() int { return len(d.order) }

// Header holds the three BCF dictionaries (FILTER/INFO/FORMAT, contig,
// sample) that every SiteRecord and GenotypeMatrix column is addressed
// against.
type Header struct {
	ID      *dictTable // FILTER/INFO/FORMAT ids, keyed by name
	Contig  *dictTable // contig names, keyed by name
	Samples []string   // sample names, in column order
	Text    string      // literal header text this Header was parsed from
}

// NewHeader returns an empty Header with initialized dictionaries.
func NewHeader() *Header {
	return &Header{ID: newDictTable(), Contig: newDictTable()}
}

// DefineInfo registers (or overwrites) an INFO field.
func (h *Header) DefineInfo(name string, typ ValueType, kind NumberKind, number int) int {
	id := h.ID.len()
	if existing, ok := h.ID.get(name); ok {
		id = existing.ID
	}
	h.ID.put(name, &IDInfo{ID: id, Type: typ, Kind: kind, Number: number, Class: ClassInfo})
	return id
}

// DefineFormat registers (or overwrites) a FORMAT field.
func (h *Header) DefineFormat(name string, typ ValueType, kind NumberKind, number int) int {
	id := h.ID.len()
	if existing, ok := h.ID.get(name); ok {
		id = existing.ID
	}
	h.ID.put(name, &IDInfo{ID: id, Type: typ, Kind: kind, Number: number, Class: ClassFormat})
	return id
}

// DefineFilter registers (or overwrites) a FILTER id.
func (h *Header) DefineFilter(name string) int {
	id := h.ID.len()
	if existing, ok := h.ID.get(name); ok {
		id = existing.ID
	}
	h.ID.put(name, &IDInfo{ID: id, Class: ClassFilter})
	return id
}

// AddContig registers a contig with its length.
func (h *Header) AddContig(name string, length int) int {
	id := h.Contig.len()
	h.Contig.put(name, &IDInfo{ID: id, Class: ClassContig, Length: length})
	return id
}

// IDByName looks up a FILTER/INFO/FORMAT id by name.
func (h *Header) IDByName(name string) (int, bool) {
	info, ok := h.ID.get(name)
	if !ok {
		return -1, false
	}
	return info.ID, true
}

// ContigByName looks up a contig id by name.
func (h *Header) ContigByName(name string) (int, bool) {
	info, ok := h.Contig.get(name)
	if !ok {
		return -1, false
	}
	return info.ID, true
}

// ContigName returns the name of contig rid, given in header declaration
// order.
func (h *Header) ContigName(rid int) (string, bool) {
	if rid < 0 || rid >= len(h.Contig.order) {
		return "", false
	}
	return h.Contig.order[rid], true
}

// ContigLength returns the declared length of contig rid.
func (h *Header) ContigLength(rid int) (int, bool) {
	name, ok := h.ContigName(rid)
	if !ok {
		return 0, false
	}
	info, ok := h.Contig.get(name)
	if !ok {
		return 0, false
	}
	return info.Length, true
}

// SampleIndex returns the column index of a sample name.
func (h *Header) SampleIndex(name string) (int, bool) {
	for i, s := range h.Samples {
		if s == name {
			return i, true
		}
	}
	return -1, false
}

// ErrHeaderMismatch is returned by Equal-gated operations (principally
// MergedReader construction) when two headers disagree on contig identity.
var ErrHeaderMismatch = errors.New("bcf: header mismatch")

// Equal reports whether h and other declare the same contigs, in the same
// order, with the same lengths. This is the consistency check the original
// bgt merge implementation only left a comment for ("test if headers are
// consistent"); SPEC_FULL.md requires it to be real.
func (h *Header) Equal(other *Header) error {
	if h.Contig.len() != other.Contig.len() {
		return errors.Wrapf(ErrHeaderMismatch, "contig count %d != %d", h.Contig.len(), other.Contig.len())
	}
	for i, name := range h.Contig.order {
		otherName := other.Contig.order[i]
		if name != otherName {
			return errors.Wrapf(ErrHeaderMismatch, "contig %d: %q != %q", i, name, otherName)
		}
		a, _ := h.Contig.get(name)
		b, _ := other.Contig.get(otherName)
		if a.Length != b.Length {
			return errors.Wrapf(ErrHeaderMismatch, "contig %q length %d != %d", name, a.Length, b.Length)
		}
	}
	return nil
}

// String renders a minimal VCF-style header line listing, used both for
// debugging and as the basis of the merged-header text MergedReader
// produces.
func (h *Header) String() string {
	var sb strings.Builder
	sb.WriteString("##fileformat=VCFv4.2\n")
	for _, name := range h.Contig.order {
		info, _ := h.Contig.get(name)
		fmt.Fprintf(&sb, "##contig=<ID=%s,length=%d>\n", name, info.Length)
	}
	for _, name := range h.ID.order {
		info, _ := h.ID.get(name)
		switch info.Class {
		case ClassInfo:
			fmt.Fprintf(&sb, "##INFO=<ID=%s,Number=%s,Type=%s>\n", name, numberString(info), typeString(info.Type))
		case ClassFormat:
			fmt.Fprintf(&sb, "##FORMAT=<ID=%s,Number=%s,Type=%s>\n", name, numberString(info), typeString(info.Type))
		case ClassFilter:
			fmt.Fprintf(&sb, "##FILTER=<ID=%s>\n", name)
		}
	}
	sb.WriteString("#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO")
	if len(h.Samples) > 0 {
		sb.WriteString("\tFORMAT\t")
		sb.WriteString(strings.Join(h.Samples, "\t"))
	}
	sb.WriteByte('\n')
	return sb.String()
}

func numberString(info *IDInfo) string {
	switch info.Kind {
	case NumberVariable:
		return "."
	case NumberPerAlt:
		return "A"
	case NumberPerAllele:
		return "R"
	case NumberPerGenotype:
		return "G"
	default:
		return fmt.Sprintf("%d", info.Number)
	}
}

func typeString(t ValueType) string {
	switch t {
	case ValueInt:
		return "Integer"
	case ValueFloat:
		return "Float"
	case ValueString:
		return "String"
	default:
		return "Flag"
	}
}
