package value

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Value is a single tagged payload. The zero Value is the null value.
//
// native holds the Go representation for the tag, per this table:
//
//	TagString, TagPath                 string
//	TagInt                             *big.Int
//	TagFloat                           float64
//	TagBool                            bool
//	TagBytes, TagByteBuffer, TagTypedArray  []byte
//	TagComplex                         complex128
//	TagNull                            nil
//	TagList, TagTuple, TagSet, TagFrozenSet, TagDeque  []Value
//	TagMap, TagDefaultMap, TagOrderedMap, TagCounter   []MapEntry
//	TagChainMap                        [][]MapEntry
//	TagDate, TagDateTime, TagTime       time.Time
//	TagDuration                        time.Duration
//	TagDecimal                         decimal.Decimal
//	TagUUID                            uuid.UUID
//	TagRational                        Rational
//	TagEnum, TagFlag                   Value (boxed, via *Value)
type Value struct {
	tag    Tag
	native any
}

// MapEntry is one key/value pair of a mapping-shaped value. Mapping tags
// keep entries in insertion order so that encode then decode reproduces the
// original order exactly, matching how the source language's dict and
// OrderedDict both iterate.
type MapEntry struct {
	Key Value
	Val Value
}

// Rational is an exact numerator/denominator pair.
type Rational struct {
	Num   *big.Int
	Denom *big.Int
}

func (v Value) Tag() Tag { return v.tag }

func (v Value) IsNull() bool { return v.tag == TagNull || v.tag == 0 }

func Null() Value { return Value{tag: TagNull} }

func NewString(s string) Value { return Value{tag: TagString, native: s} }

func NewPath(s string) Value { return Value{tag: TagPath, native: s} }

func NewInt(i *big.Int) Value { return Value{tag: TagInt, native: i} }

func NewIntFromInt64(i int64) Value { return Value{tag: TagInt, native: big.NewInt(i)} }

func NewFloat(f float64) Value { return Value{tag: TagFloat, native: f} }

func NewBool(b bool) Value { return Value{tag: TagBool, native: b} }

func NewBytes(b []byte) Value { return Value{tag: TagBytes, native: b} }

func NewByteBuffer(b []byte) Value { return Value{tag: TagByteBuffer, native: b} }

func NewTypedArray(b []byte) Value { return Value{tag: TagTypedArray, native: b} }

func NewComplex(c complex128) Value { return Value{tag: TagComplex, native: c} }

func NewList(items []Value) Value { return Value{tag: TagList, native: items} }

func NewTuple(items []Value) Value { return Value{tag: TagTuple, native: items} }

func NewSet(items []Value) Value { return Value{tag: TagSet, native: items} }

func NewFrozenSet(items []Value) Value { return Value{tag: TagFrozenSet, native: items} }

func NewDeque(items []Value) Value { return Value{tag: TagDeque, native: items} }

func NewMap(entries []MapEntry) Value { return Value{tag: TagMap, native: entries} }

func NewDefaultMap(entries []MapEntry) Value { return Value{tag: TagDefaultMap, native: entries} }

func NewOrderedMap(entries []MapEntry) Value { return Value{tag: TagOrderedMap, native: entries} }

func NewCounter(entries []MapEntry) Value { return Value{tag: TagCounter, native: entries} }

func NewChainMap(maps [][]MapEntry) Value { return Value{tag: TagChainMap, native: maps} }

func NewDate(t time.Time) Value { return Value{tag: TagDate, native: t} }

func NewDateTime(t time.Time) Value { return Value{tag: TagDateTime, native: t} }

func NewTime(t time.Time) Value { return Value{tag: TagTime, native: t} }

func NewDuration(d time.Duration) Value { return Value{tag: TagDuration, native: d} }

func NewDecimal(d decimal.Decimal) Value { return Value{tag: TagDecimal, native: d} }

func NewUUID(u uuid.UUID) Value { return Value{tag: TagUUID, native: u} }

func NewRational(r Rational) Value { return Value{tag: TagRational, native: r} }

func NewEnum(inner Value) Value { return Value{tag: TagEnum, native: &inner} }

func NewFlag(inner Value) Value { return Value{tag: TagFlag, native: &inner} }

func (v Value) AsString() (string, bool) { s, ok := v.native.(string); return s, ok }

func (v Value) AsInt() (*big.Int, bool) { i, ok := v.native.(*big.Int); return i, ok }

func (v Value) AsFloat() (float64, bool) { f, ok := v.native.(float64); return f, ok }

func (v Value) AsBool() (bool, bool) { b, ok := v.native.(bool); return b, ok }

func (v Value) AsBytes() ([]byte, bool) { b, ok := v.native.([]byte); return b, ok }

func (v Value) AsComplex() (complex128, bool) { c, ok := v.native.(complex128); return c, ok }

func (v Value) AsItems() ([]Value, bool) { items, ok := v.native.([]Value); return items, ok }

func (v Value) AsEntries() ([]MapEntry, bool) { e, ok := v.native.([]MapEntry); return e, ok }

func (v Value) AsChainMap() ([][]MapEntry, bool) { e, ok := v.native.([][]MapEntry); return e, ok }

func (v Value) AsTime() (time.Time, bool) { t, ok := v.native.(time.Time); return t, ok }

func (v Value) AsDuration() (time.Duration, bool) { d, ok := v.native.(time.Duration); return d, ok }

func (v Value) AsDecimal() (decimal.Decimal, bool) { d, ok := v.native.(decimal.Decimal); return d, ok }

func (v Value) AsUUID() (uuid.UUID, bool) { u, ok := v.native.(uuid.UUID); return u, ok }

func (v Value) AsRational() (Rational, bool) { r, ok := v.native.(Rational); return r, ok }

func (v Value) AsBoxed() (Value, bool) {
	p, ok := v.native.(*Value)
	if !ok {
		return Value{}, false
	}
	return *p, true
}
