package bcf

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Type tags, the low nibble of a typed value's leading byte. Exported so
// callers building raw FORMAT/INFO blobs (tests, the atomizer) can pass them
// to EncodeSize without guessing the wire encoding.
const (
	TypeNull    = 0
	TypeInt8    = 1
	TypeInt16   = 2
	TypeInt32   = 3
	TypeFloat32 = 5
	TypeChar    = 7
)

const (
	typeNull    = TypeNull
	typeInt8    = TypeInt8
	typeInt16   = TypeInt16
	typeInt32   = TypeInt32
	typeFloat32 = TypeFloat32
	typeChar    = TypeChar
)

// Missing-value and vector-end sentinels for each fixed-width integer type.
// A vector's trailing elements beyond its logical length are padded with the
// "end" sentinel, one above "missing", so a reader can stop at the first end
// marker without knowing the logical length in advance.
const (
	Int8Missing  = int8(math.MinInt8)
	Int8End      = Int8Missing + 1
	Int16Missing = int16(math.MinInt16)
	Int16End     = Int16Missing + 1
	Int32Missing = int32(math.MinInt32)
	Int32End     = Int32Missing + 1
)

// Float32Missing and Float32End are the standard BCF2 bit patterns for a
// missing float and a float vector-end marker.
var (
	Float32Missing = math.Float32frombits(0x7F800001)
	Float32End     = math.Float32frombits(0x7F800002)
)

// ErrTruncated is returned when a decode reads past the end of its input.
var ErrTruncated = errors.New("bcf: truncated record")

// ErrCorruptRecord is returned when a decode finds an internally
// inconsistent typed value (e.g. an unrecognized type tag).
var ErrCorruptRecord = errors.New("bcf: corrupt record")

// Buffer is an append-only byte buffer with typed-value encode/decode
// methods layered on top of encoding/binary. Reader methods on a Buffer
// obtained via NewReader consume from the front; writer methods append to
// the back.
type Buffer struct {
	buf []byte
	pos int
}

// NewBuffer returns an empty Buffer ready for writing.
func NewBuffer() *Buffer { return &Buffer{} }

// NewReader wraps buf for sequential typed-value decoding starting at
// offset 0.
func NewReader(buf []byte) *Buffer { return &Buffer{buf: buf} }

// Bytes returns the buffer's contents.
func (b *Buffer) Bytes() []byte { return b.buf }

// Len returns the number of unread bytes remaining.
func (b *Buffer) Len() int { return len(b.buf) - b.pos }

// Pos returns the current read offset.
func (b *Buffer) Pos() int { return b.pos }

// Seek repositions the read offset.
func (b *Buffer) Seek(pos int) { b.pos = pos }

func (b *Buffer) ensure(n int) {
	if cap(b.buf)-len(b.buf) >= n {
		return
	}
	grown := make([]byte, len(b.buf), 2*cap(b.buf)+n)
	copy(grown, b.buf)
	b.buf = grown
}

// PutByte appends a single byte.
func (b *Buffer) PutByte(v byte) {
	b.ensure(1)
	b.buf = append(b.buf, v)
}

// PutBytes appends raw bytes verbatim.
func (b *Buffer) PutBytes(v []byte) {
	b.ensure(len(v))
	b.buf = append(b.buf, v...)
}

func (b *Buffer) take(n int) ([]byte, error) {
	if b.Len() < n {
		return nil, ErrTruncated
	}
	v := b.buf[b.pos : b.pos+n]
	b.pos += n
	return v, nil
}

// ReadByte reads a single byte.
func (b *Buffer) ReadByte() (byte, error) {
	v, err := b.take(1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// EncodeSize appends the tag byte for a vector of the given size and
// element type, emitting the size-prefixed form (tag nibble 15, followed by
// a typed int) when size doesn't fit in a 4-bit count.
func EncodeSize(b *Buffer, size int, typ byte) {
	if size < 15 {
		b.PutByte(byte(size)<<4 | typ)
		return
	}
	b.PutByte(15<<4 | typ)
	EncodeInt1(b, int32(size))
}

// intType returns the narrowest BCF integer type tag that can hold x.
func intType(x int64) byte {
	switch {
	case x > int64(Int8Missing) && x <= math.MaxInt8:
		return typeInt8
	case x > int64(Int16Missing) && x <= math.MaxInt16:
		return typeInt16
	default:
		return typeInt32
	}
}

// EncodeInt1 appends a single typed integer, narrowest width first, using
// Int32Missing as the canonical "no value" input.
func EncodeInt1(b *Buffer, x int32) {
	switch {
	case x == int32(Int32Missing):
		b.PutByte(1<<4 | typeInt8)
		b.PutByte(byte(Int8Missing))
	case x > int32(Int8Missing) && x <= math.MaxInt8:
		b.PutByte(1<<4 | typeInt8)
		b.PutByte(byte(int8(x)))
	case x > int32(Int16Missing) && x <= math.MaxInt16:
		b.PutByte(1<<4 | typeInt16)
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(int16(x)))
		b.PutBytes(tmp[:])
	default:
		b.PutByte(1<<4 | typeInt32)
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(x))
		b.PutBytes(tmp[:])
	}
}

// EncodeInts appends a vector of ints, using the narrowest width that holds
// every value in xs.
func EncodeInts(b *Buffer, xs []int32) {
	typ := byte(typeInt8)
	for _, x := range xs {
		if t := intType(int64(x)); t > typ {
			typ = t
		}
	}
	EncodeSize(b, len(xs), typ)
	for _, x := range xs {
		putIntAs(b, x, typ)
	}
}

func putIntAs(b *Buffer, x int32, typ byte) {
	switch typ {
	case typeInt8:
		b.PutByte(byte(int8(x)))
	case typeInt16:
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(int16(x)))
		b.PutBytes(tmp[:])
	default:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(x))
		b.PutBytes(tmp[:])
	}
}

// EncodeString appends a length-prefixed character vector.
func EncodeString(b *Buffer, s string) {
	EncodeSize(b, len(s), typeChar)
	b.PutBytes([]byte(s))
}

// DecodeInt1 decodes a single integer of the given type tag from the front
// of the buffer.
func DecodeInt1(b *Buffer, typ byte) (int32, error) {
	switch typ {
	case typeInt8:
		v, err := b.take(1)
		if err != nil {
			return 0, err
		}
		return int32(int8(v[0])), nil
	case typeInt16:
		v, err := b.take(2)
		if err != nil {
			return 0, err
		}
		return int32(int16(binary.LittleEndian.Uint16(v))), nil
	case typeInt32:
		v, err := b.take(4)
		if err != nil {
			return 0, err
		}
		return int32(binary.LittleEndian.Uint32(v)), nil
	default:
		return 0, errors.Wrapf(ErrCorruptRecord, "unrecognized int type tag %d", typ)
	}
}

// DecodeTypedInt1 decodes a tag byte followed by a single integer, the way
// a size-prefix auxiliary value is stored: the tag byte's high nibble is
// ignored (it is conventionally 1).
func DecodeTypedInt1(b *Buffer) (int32, error) {
	tag, err := b.ReadByte()
	if err != nil {
		return 0, err
	}
	return DecodeInt1(b, tag&0xf)
}

// DecodeSize decodes a tag byte, returning the vector size and element type.
// A size of 15 or more is stored size-prefixed as an auxiliary typed int
// immediately following the tag byte.
func DecodeSize(b *Buffer) (size int, typ byte, err error) {
	tag, err := b.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	typ = tag & 0xf
	count := tag >> 4
	if count != 15 {
		return int(count), typ, nil
	}
	n, err := DecodeTypedInt1(b)
	if err != nil {
		return 0, 0, err
	}
	return int(n), typ, nil
}

// DecodeInts decodes a full typed integer vector.
func DecodeInts(b *Buffer) ([]int32, error) {
	size, typ, err := DecodeSize(b)
	if err != nil {
		return nil, err
	}
	if typ == typeNull {
		return nil, nil
	}
	out := make([]int32, size)
	for i := range out {
		v, err := DecodeInt1(b, typ)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// DecodeString decodes a typed character vector.
func DecodeString(b *Buffer) (string, error) {
	size, typ, err := DecodeSize(b)
	if err != nil {
		return "", err
	}
	if typ == typeNull || size == 0 {
		return "", nil
	}
	if typ != typeChar {
		return "", errors.Wrapf(ErrCorruptRecord, "expected char vector, got type tag %d", typ)
	}
	v, err := b.take(size)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// DecodeFloats decodes a typed float32 vector.
func DecodeFloats(b *Buffer) ([]float32, error) {
	size, typ, err := DecodeSize(b)
	if err != nil {
		return nil, err
	}
	if typ == typeNull {
		return nil, nil
	}
	if typ != typeFloat32 {
		return nil, errors.Wrapf(ErrCorruptRecord, "expected float vector, got type tag %d", typ)
	}
	out := make([]float32, size)
	for i := range out {
		v, err := b.take(4)
		if err != nil {
			return nil, err
		}
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(v))
	}
	return out, nil
}

// EncodeFloats appends a vector of float32 values.
func EncodeFloats(b *Buffer, xs []float32) {
	EncodeSize(b, len(xs), typeFloat32)
	var tmp [4]byte
	for _, x := range xs {
		binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(x))
		b.PutBytes(tmp[:])
	}
}

// SkipValue advances past one typed value (used to skip an INFO/FORMAT
// field whose key is not of interest while scanning for another).
func SkipValue(b *Buffer) error {
	size, typ, err := DecodeSize(b)
	if err != nil {
		return err
	}
	var width int
	switch typ {
	case typeNull:
		return nil
	case typeInt8, typeChar:
		width = 1
	case typeInt16:
		width = 2
	case typeInt32, typeFloat32:
		width = 4
	default:
		return errors.Wrapf(ErrCorruptRecord, "unrecognized type tag %d", typ)
	}
	_, err = b.take(size * width)
	return err
}
