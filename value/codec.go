package value

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mar-db/mardb/dberr"
)

const (
	dateLayout     = "2006-01-02"
	timeLayout     = "15:04:05.999999999"
	dateTimeLayout = time.RFC3339Nano
)

// Encode serializes v as tag(1) | length(2, BE, body-only) | body. This is
// the form used wherever a value is nested inside another value's body
// (list elements, map keys and values, enum payloads).
func Encode(v Value) ([]byte, error) {
	return EncodeWithLenWidth(v, 2)
}

// Decode reads one Encode-framed value off the front of data and returns it
// together with the number of bytes consumed.
func Decode(data []byte) (Value, int, error) {
	return DecodeWithLenWidth(data, 2)
}

// EncodeWithLenWidth is Encode but with a caller-chosen length field width.
// The case codec (storage package) uses width 3 for the one top-level value
// a case carries; everywhere else uses width 2.
func EncodeWithLenWidth(v Value, lenWidth int) ([]byte, error) {
	tag, body, err := EncodeBody(v)
	if err != nil {
		return nil, err
	}
	if len(body) >= 1<<(8*lenWidth) {
		return nil, dberr.Wrap(dberr.Malformed, "value.Encode", fmt.Errorf("body of %d bytes does not fit in a %d-byte length field", len(body), lenWidth))
	}
	out := make([]byte, 1+lenWidth+len(body))
	out[0] = byte(tag)
	putUintBE(out[1:1+lenWidth], uint64(len(body)), lenWidth)
	copy(out[1+lenWidth:], body)
	return out, nil
}

// DecodeWithLenWidth is Decode but with a caller-chosen length field width.
func DecodeWithLenWidth(data []byte, lenWidth int) (Value, int, error) {
	if len(data) < 1+lenWidth {
		return Value{}, 0, dberr.Wrap(dberr.Malformed, "value.Decode", fmt.Errorf("need %d header bytes, have %d", 1+lenWidth, len(data)))
	}
	tag := Tag(data[0])
	n := getUintBE(data[1:1+lenWidth], lenWidth)
	start := 1 + lenWidth
	end := start + int(n)
	if end > len(data) {
		return Value{}, 0, dberr.Wrap(dberr.Malformed, "value.Decode", fmt.Errorf("body of %d bytes runs past buffer of %d", n, len(data)-start))
	}
	v, err := DecodeBody(tag, data[start:end])
	if err != nil {
		return Value{}, 0, err
	}
	return v, end, nil
}

func putUintBE(dst []byte, v uint64, width int) {
	for i := 0; i < width; i++ {
		dst[width-1-i] = byte(v >> (8 * i))
	}
}

func getUintBE(src []byte, width int) uint64 {
	var v uint64
	for i := 0; i < width; i++ {
		v = v<<8 | uint64(src[i])
	}
	return v
}

// EncodeBody serializes v's body without the tag/length envelope, returning
// the tag that identifies it. Callers that need the full framed form should
// use Encode instead.
func EncodeBody(v Value) (Tag, []byte, error) {
	if !v.tag.portable() && v.tag != 0 {
		return v.tag, nil, dberr.Wrap(dberr.Unsupported, "value.EncodeBody", fmt.Errorf("tag %s (0x%02X) is not portable", v.tag, byte(v.tag)))
	}

	switch v.tag {
	case TagNull, 0:
		return TagNull, nil, nil

	case TagString, TagPath:
		s, _ := v.AsString()
		return v.tag, []byte(s), nil

	case TagInt:
		i, ok := v.AsInt()
		if !ok {
			return v.tag, nil, malformedf("int value missing big.Int payload")
		}
		return v.tag, encodeBigInt(i), nil

	case TagFloat:
		f, _ := v.AsFloat()
		body := make([]byte, 8)
		binary.BigEndian.PutUint64(body, math.Float64bits(f))
		return v.tag, body, nil

	case TagBool:
		b, _ := v.AsBool()
		if b {
			return v.tag, []byte{1}, nil
		}
		return v.tag, []byte{0}, nil

	case TagBytes, TagByteBuffer, TagTypedArray:
		b, _ := v.AsBytes()
		return v.tag, b, nil

	case TagComplex:
		c, _ := v.AsComplex()
		body := make([]byte, 16)
		binary.BigEndian.PutUint64(body[0:8], math.Float64bits(real(c)))
		binary.BigEndian.PutUint64(body[8:16], math.Float64bits(imag(c)))
		return v.tag, body, nil

	case TagList, TagTuple, TagSet, TagFrozenSet, TagDeque:
		items, _ := v.AsItems()
		body, err := encodeItems(items)
		return v.tag, body, err

	case TagMap, TagDefaultMap, TagOrderedMap, TagCounter:
		entries, _ := v.AsEntries()
		body, err := encodeEntries(entries)
		return v.tag, body, err

	case TagChainMap:
		maps, _ := v.AsChainMap()
		body, err := encodeChainMap(maps)
		return v.tag, body, err

	case TagDate:
		t, _ := v.AsTime()
		return v.tag, []byte(t.Format(dateLayout)), nil

	case TagDateTime:
		t, _ := v.AsTime()
		return v.tag, []byte(t.Format(dateTimeLayout)), nil

	case TagTime:
		t, _ := v.AsTime()
		return v.tag, []byte(t.Format(timeLayout)), nil

	case TagDuration:
		d, _ := v.AsDuration()
		body := make([]byte, 8)
		binary.BigEndian.PutUint64(body, math.Float64bits(d.Seconds()))
		return v.tag, body, nil

	case TagDecimal:
		d, _ := v.AsDecimal()
		return v.tag, []byte(d.String()), nil

	case TagUUID:
		u, _ := v.AsUUID()
		b := u
		return v.tag, b[:], nil

	case TagRational:
		r, _ := v.AsRational()
		return v.tag, encodeRational(r), nil

	case TagEnum, TagFlag:
		inner, ok := v.AsBoxed()
		if !ok {
			return v.tag, nil, malformedf("enum/flag value missing boxed payload")
		}
		body, err := Encode(inner)
		return v.tag, body, err

	default:
		return v.tag, nil, dberr.Wrap(dberr.Unsupported, "value.EncodeBody", fmt.Errorf("unknown tag 0x%02X", byte(v.tag)))
	}
}

// DecodeBody parses body according to tag.
func DecodeBody(tag Tag, body []byte) (Value, error) {
	if !tag.portable() {
		return Value{}, dberr.Wrap(dberr.Unsupported, "value.DecodeBody", fmt.Errorf("tag %s (0x%02X) is not portable", tag, byte(tag)))
	}

	switch tag {
	case TagNull:
		return Null(), nil

	case TagString:
		return NewString(string(body)), nil

	case TagPath:
		return NewPath(string(body)), nil

	case TagInt:
		i, err := decodeBigInt(body)
		if err != nil {
			return Value{}, err
		}
		return NewInt(i), nil

	case TagFloat:
		if len(body) != 8 {
			return Value{}, malformedf("float body must be 8 bytes, got %d", len(body))
		}
		return NewFloat(math.Float64frombits(binary.BigEndian.Uint64(body))), nil

	case TagBool:
		if len(body) != 1 {
			return Value{}, malformedf("bool body must be 1 byte, got %d", len(body))
		}
		return NewBool(body[0] != 0), nil

	case TagBytes:
		return NewBytes(cloneBytes(body)), nil

	case TagByteBuffer:
		return NewByteBuffer(cloneBytes(body)), nil

	case TagTypedArray:
		return NewTypedArray(cloneBytes(body)), nil

	case TagComplex:
		if len(body) != 16 {
			return Value{}, malformedf("complex body must be 16 bytes, got %d", len(body))
		}
		re := math.Float64frombits(binary.BigEndian.Uint64(body[0:8]))
		im := math.Float64frombits(binary.BigEndian.Uint64(body[8:16]))
		return NewComplex(complex(re, im)), nil

	case TagList, TagTuple, TagSet, TagFrozenSet, TagDeque:
		items, err := decodeItems(body)
		if err != nil {
			return Value{}, err
		}
		return Value{tag: tag, native: items}, nil

	case TagMap, TagDefaultMap, TagOrderedMap, TagCounter:
		entries, err := decodeEntries(body)
		if err != nil {
			return Value{}, err
		}
		return Value{tag: tag, native: entries}, nil

	case TagChainMap:
		maps, err := decodeChainMap(body)
		if err != nil {
			return Value{}, err
		}
		return NewChainMap(maps), nil

	case TagDate:
		t, err := time.Parse(dateLayout, string(body))
		if err != nil {
			return Value{}, dberr.Wrap(dberr.Malformed, "value.DecodeBody", err)
		}
		return NewDate(t), nil

	case TagDateTime:
		t, err := time.Parse(dateTimeLayout, string(body))
		if err != nil {
			return Value{}, dberr.Wrap(dberr.Malformed, "value.DecodeBody", err)
		}
		return NewDateTime(t), nil

	case TagTime:
		t, err := time.Parse(timeLayout, string(body))
		if err != nil {
			return Value{}, dberr.Wrap(dberr.Malformed, "value.DecodeBody", err)
		}
		return NewTime(t), nil

	case TagDuration:
		if len(body) != 8 {
			return Value{}, malformedf("duration body must be 8 bytes, got %d", len(body))
		}
		seconds := math.Float64frombits(binary.BigEndian.Uint64(body))
		return NewDuration(time.Duration(seconds * float64(time.Second))), nil

	case TagDecimal:
		d, err := decimal.NewFromString(string(body))
		if err != nil {
			return Value{}, dberr.Wrap(dberr.Malformed, "value.DecodeBody", err)
		}
		return NewDecimal(d), nil

	case TagUUID:
		u, err := uuid.FromBytes(body)
		if err != nil {
			return Value{}, dberr.Wrap(dberr.Malformed, "value.DecodeBody", err)
		}
		return NewUUID(u), nil

	case TagRational:
		r, err := decodeRational(body)
		if err != nil {
			return Value{}, err
		}
		return NewRational(r), nil

	case TagEnum, TagFlag:
		inner, _, err := Decode(body)
		if err != nil {
			return Value{}, err
		}
		if tag == TagEnum {
			return NewEnum(inner), nil
		}
		return NewFlag(inner), nil

	default:
		return Value{}, dberr.Wrap(dberr.Malformed, "value.DecodeBody", fmt.Errorf("unknown tag 0x%02X", byte(tag)))
	}
}

func malformedf(format string, args ...any) error {
	return dberr.Wrap(dberr.Malformed, "value", fmt.Errorf(format, args...))
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// encodeItems concatenates each item's fully framed (tag | length | body)
// encoding with no separate count: decodeItems recovers the count by
// decoding until the body is exhausted, per the container encoding rule
// above.
func encodeItems(items []Value) ([]byte, error) {
	var out []byte
	for _, item := range items {
		enc, err := Encode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

func decodeItems(body []byte) ([]Value, error) {
	var items []Value
	rest := body
	for len(rest) > 0 {
		v, consumed, err := Decode(rest)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		rest = rest[consumed:]
	}
	return items, nil
}

// encodeEntries concatenates each entry's key and value as two consecutive
// framed encodings, with no count: decodeEntries alternates key/value reads
// until the body is exhausted.
func encodeEntries(entries []MapEntry) ([]byte, error) {
	var out []byte
	for _, e := range entries {
		k, err := Encode(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := Encode(e.Val)
		if err != nil {
			return nil, err
		}
		out = append(out, k...)
		out = append(out, v...)
	}
	return out, nil
}

func decodeEntries(body []byte) ([]MapEntry, error) {
	var entries []MapEntry
	rest := body
	for len(rest) > 0 {
		k, consumed, err := Decode(rest)
		if err != nil {
			return nil, err
		}
		rest = rest[consumed:]
		v, consumed, err := Decode(rest)
		if err != nil {
			return nil, err
		}
		rest = rest[consumed:]
		entries = append(entries, MapEntry{Key: k, Val: v})
	}
	return entries, nil
}

// encodeChainMap encodes a ChainMap the same way the source serializes
// list(data.maps): as a plain list of its constituent maps, each one a
// fully framed TagMap value, with no count.
func encodeChainMap(maps [][]MapEntry) ([]byte, error) {
	items := make([]Value, len(maps))
	for i, m := range maps {
		items[i] = NewMap(m)
	}
	return encodeItems(items)
}

func decodeChainMap(body []byte) ([][]MapEntry, error) {
	items, err := decodeItems(body)
	if err != nil {
		return nil, err
	}
	maps := make([][]MapEntry, len(items))
	for i, v := range items {
		entries, ok := v.AsEntries()
		if !ok {
			return nil, malformedf("chainmap element %d is not a mapping", i)
		}
		maps[i] = entries
	}
	return maps, nil
}

// encodeBigInt encodes a signed arbitrary-precision integer as big-endian
// two's complement in ceil((bits+1)/8) bytes, where bits is the bit length
// of the magnitude; zero encodes as a single 0x00 byte.
func encodeBigInt(i *big.Int) []byte {
	n := i.BitLen()/8 + 1
	v := new(big.Int).Set(i)
	if i.Sign() < 0 {
		v.Add(v, new(big.Int).Lsh(big.NewInt(1), uint(8*n)))
	}
	return v.FillBytes(make([]byte, n))
}

func decodeBigInt(body []byte) (*big.Int, error) {
	if len(body) < 1 {
		return nil, malformedf("int body must have at least one byte")
	}
	v := new(big.Int).SetBytes(body)
	if body[0]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(8*len(body))))
	}
	return v, nil
}

func encodeRational(r Rational) []byte {
	num := encodeBigInt(r.Num)
	den := encodeBigInt(r.Denom)
	out := make([]byte, 4+len(num)+4+len(den))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(num)))
	copy(out[4:4+len(num)], num)
	off := 4 + len(num)
	binary.BigEndian.PutUint32(out[off:off+4], uint32(len(den)))
	copy(out[off+4:], den)
	return out
}

func decodeRational(body []byte) (Rational, error) {
	if len(body) < 4 {
		return Rational{}, malformedf("rational body too short")
	}
	numLen := int(binary.BigEndian.Uint32(body[:4]))
	if 4+numLen+4 > len(body) {
		return Rational{}, malformedf("rational numerator runs past buffer")
	}
	num, err := decodeBigInt(body[4 : 4+numLen])
	if err != nil {
		return Rational{}, err
	}
	off := 4 + numLen
	denLen := int(binary.BigEndian.Uint32(body[off : off+4]))
	if off+4+denLen > len(body) {
		return Rational{}, malformedf("rational denominator runs past buffer")
	}
	den, err := decodeBigInt(body[off+4 : off+4+denLen])
	if err != nil {
		return Rational{}, err
	}
	return Rational{Num: num, Denom: den}, nil
}
